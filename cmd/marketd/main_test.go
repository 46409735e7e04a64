package main

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nftmarket/core/state"
	gatewayauth "nftmarket/gateway/auth"
	gatewayconfig "nftmarket/gateway/config"
	"nftmarket/gateway/middleware"
	"nftmarket/native/bank"
	"nftmarket/native/marketplace"
	"nftmarket/native/nft"
	"nftmarket/observability/logging"
	"nftmarket/services/eventlog"
	"nftmarket/storage"
)

func TestBuildHandlerServesMarketplace(t *testing.T) {
	logger := logging.New(&strings.Builder{}, "marketd", "dev", 0)
	manager := state.NewManager(storage.NewMemDB())
	market := [20]byte{0xee}
	registry := nft.NewRegistry(manager)

	engine := marketplace.NewEngine(market)
	engine.SetState(manager)
	engine.SetRegistry(nft.NewMarketplaceView(registry, market))
	engine.SetFunds(bank.NewLedger(manager, market, "ETH"))

	store, err := eventlog.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	replay, err := gatewayauth.NewLevelDBReplayStore(filepath.Join(t.TempDir(), "replay"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = replay.Close() })

	cfg, err := gatewayconfig.Load("")
	require.NoError(t, err)
	cfg.Auth.Enabled = false
	cfg.Observability.MetricsPrefix = "marketd_test"

	handler, err := buildHandler(cfg, engine, registry, store, replay, logger)
	require.NoError(t, err)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/listings/0x00000000000000000000000000000000000000c1/1", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"listed":false`)

	req := httptest.NewRequest(http.MethodPost, "/v1/proceeds/withdraw", nil)
	req.Header.Set(middleware.CallerHeader, "0x00000000000000000000000000000000000000a1")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNotFound, res.Code, res.Body.String())

	holder := [20]byte{0xa1}
	require.NoError(t, registry.Mint([20]byte{0xc1}, big.NewInt(7), holder))
	req = httptest.NewRequest(http.MethodPost, "/v1/assets/0x00000000000000000000000000000000000000c1/7/approve",
		strings.NewReader(`{"spender":"0xee00000000000000000000000000000000000000"}`))
	req.Header.Set(middleware.CallerHeader, "0xa100000000000000000000000000000000000000")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	approved, err := registry.GetApproved([20]byte{0xc1}, big.NewInt(7))
	require.NoError(t, err)
	require.Equal(t, market, approved)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), `"head":0`)
}
