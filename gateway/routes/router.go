package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"nftmarket/gateway/middleware"
)

// Rate limit keys applied to the read and write route groups.
const (
	RateLimitReads  = "reads"
	RateLimitWrites = "writes"
)

type Config struct {
	Engine        Marketplace
	Events        EventLog
	Registry      Registry
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	WriteScopes   []string
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: marketplace engine is required")
	}
	if cfg.Authenticator == nil {
		return nil, errors.New("routes: authenticator is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mr := &marketplaceRoutes{engine: cfg.Engine, events: cfg.Events, logger: logger}
	var ar *assetRoutes
	if cfg.Registry != nil {
		ar = &assetRoutes{registry: cfg.Registry, logger: logger}
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	health := cfg.HealthHandler
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	r.Handle("/healthz", health)
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		if obs != nil {
			v1.Use(obs.Middleware("v1"))
		}
		v1.Group(func(reads chi.Router) {
			if cfg.RateLimiter != nil {
				reads.Use(cfg.RateLimiter.Middleware(RateLimitReads))
			}
			reads.Get("/listings/{contract}/{assetId}", mr.getListing)
			reads.Get("/proceeds/{seller}", mr.getProceeds)
			reads.Get("/events", mr.listEvents)
			if ar != nil {
				reads.Get("/assets/{contract}/{assetId}", ar.getAsset)
				reads.Get("/assets/{contract}/operators/{owner}/{operator}", ar.getOperator)
			}
		})
		v1.Group(func(writes chi.Router) {
			if cfg.RateLimiter != nil {
				writes.Use(cfg.RateLimiter.Middleware(RateLimitWrites))
			}
			writes.Use(cfg.Authenticator.Middleware(cfg.WriteScopes...))
			writes.Post("/listings", mr.listItem)
			writes.Put("/listings/{contract}/{assetId}", mr.updateListing)
			writes.Delete("/listings/{contract}/{assetId}", mr.cancelListing)
			writes.Post("/listings/{contract}/{assetId}/buy", mr.buyItem)
			writes.Post("/listings/{contract}/{assetId}/prune", mr.pruneListing)
			writes.Post("/proceeds/withdraw", mr.withdrawProceeds)
			if ar != nil {
				writes.Post("/assets/{contract}/{assetId}/approve", ar.approve)
				writes.Post("/assets/{contract}/approval-for-all", ar.setApprovalForAll)
				writes.Delete("/assets/{contract}/{assetId}", ar.burn)
			}
		})
	})

	return r, nil
}
