package observability

import (
	"math/big"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type marketplaceMetrics struct {
	operations *prometheus.CounterVec
	volume     *prometheus.CounterVec
	withdrawn  prometheus.Counter
}

var (
	marketplaceMetricsOnce sync.Once
	marketplaceRegistry    *marketplaceMetrics
)

// Marketplace returns the lazily-initialised metrics registry used by the
// marketplace engine.
func Marketplace() *marketplaceMetrics {
	marketplaceMetricsOnce.Do(func() {
		marketplaceRegistry = &marketplaceMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Marketplace engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			volume: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "engine",
				Name:      "sale_volume_total",
				Help:      "Sum of payments credited to sellers, in base settlement units.",
			}, []string{"token"}),
			withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nftmarket",
				Subsystem: "engine",
				Name:      "proceeds_withdrawn_total",
				Help:      "Sum of proceeds disbursed to sellers, in base settlement units.",
			}),
		}
		prometheus.MustRegister(
			marketplaceRegistry.operations,
			marketplaceRegistry.volume,
			marketplaceRegistry.withdrawn,
		)
	})
	return marketplaceRegistry
}

// RecordOperation increments the operation counter. Outcomes should be stable
// strings such as "ok" or an error kind like "not_owner".
func (m *marketplaceMetrics) RecordOperation(operation, outcome string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// RecordSale adds the credited payment to the sale volume counter.
func (m *marketplaceMetrics) RecordSale(token string, amount *big.Int) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues(labelToken(token)).Add(bigToFloat(amount))
}

// RecordWithdrawal adds the disbursed amount to the withdrawal counter.
func (m *marketplaceMetrics) RecordWithdrawal(amount *big.Int) {
	if m == nil {
		return
	}
	m.withdrawn.Add(bigToFloat(amount))
}

func labelToken(token string) string {
	normalized := strings.ToUpper(strings.TrimSpace(token))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

func bigToFloat(value *big.Int) float64 {
	if value == nil || value.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	return f
}
