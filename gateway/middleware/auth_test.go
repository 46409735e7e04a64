package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	gatewayauth "nftmarket/gateway/auth"
)

const testSecret = "unit-test-secret"

var testCaller = [20]byte{0x12, 0x34}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func callerEcho(t *testing.T, got *[20]byte) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Fatalf("caller missing from context")
		}
		*got = caller
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticatorResolvesSubject(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Issuer: "nftmarket"}, nil)
	var got [20]byte
	handler := auth.Middleware("marketplace:write")(callerEcho(t, &got))

	token := signToken(t, jwt.MapClaims{
		"sub":   "0x1234000000000000000000000000000000000000",
		"iss":   "nftmarket",
		"scope": "marketplace:read marketplace:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/listings", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", res.Code, res.Body.String())
	}
	if got != testCaller {
		t.Fatalf("unexpected caller %x", got)
	}
}

func TestAuthenticatorRejections(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, Audience: "market"}, nil)
	handler := auth.Middleware("marketplace:write")(okHandler())
	valid := jwt.MapClaims{
		"sub":   "0x1234000000000000000000000000000000000000",
		"aud":   "market",
		"scope": []interface{}{"marketplace:write"},
	}
	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, jwt.MapClaims{"sub": valid["sub"], "aud": "market", "exp": time.Now().Add(-time.Hour).Unix()}), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signToken(t, jwt.MapClaims{"sub": valid["sub"], "aud": "other"}), http.StatusUnauthorized},
		{"subject not address", "Bearer " + signToken(t, jwt.MapClaims{"sub": "alice", "aud": "market"}), http.StatusUnauthorized},
		{"missing scope", "Bearer " + signToken(t, jwt.MapClaims{"sub": valid["sub"], "aud": "market", "scope": "marketplace:read"}), http.StatusForbidden},
		{"valid", "Bearer " + signToken(t, valid), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/listings", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			if res.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, res.Code)
			}
		})
	}
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	var got [20]byte
	handler := auth.Middleware()(callerEcho(t, &got))

	req := httptest.NewRequest(http.MethodPost, "/v1/proceeds/withdraw", nil)
	req.Header.Set(CallerHeader, "0x1234000000000000000000000000000000000000")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent || got != testCaller {
		t.Fatalf("expected caller from header, got %d %x", res.Code, got)
	}

	for _, header := range []string{"", "nope", "0x0000000000000000000000000000000000000000"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/proceeds/withdraw", nil)
		req.Header.Set(CallerHeader, header)
		res := httptest.NewRecorder()
		auth.Middleware()(okHandler()).ServeHTTP(res, req)
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, res.Code)
		}
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://app.example"}})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/v1/listings", nil)
	req.Header.Set("Origin", "https://app.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", res.Code)
	}
	if res.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("expected origin echoed, got %q", res.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/listings", nil)
	req.Header.Set("Origin", "https://evil.example")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unlisted origin must not be allowed")
	}
}

type memReplay struct {
	seen map[string]time.Time
	err  error
}

func (m *memReplay) MarkUsed(_ context.Context, id string, expiresAt time.Time) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.seen[id]
	m.seen[id] = expiresAt
	return ok, nil
}

func TestReplayGuardMakesTokensSingleUse(t *testing.T) {
	guard := &memReplay{seen: map[string]time.Time{}}
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	auth.SetReplayGuard(guard)

	serve := func(claims jwt.MapClaims) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/listings/x/1/buy", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, claims))
		res := httptest.NewRecorder()
		auth.Middleware()(okHandler()).ServeHTTP(res, req)
		return res.Code
	}
	exp := time.Now().Add(time.Hour)
	claims := jwt.MapClaims{
		"sub": "0x1234000000000000000000000000000000000000",
		"jti": "buy-1",
		"exp": exp.Unix(),
	}
	if code := serve(claims); code != http.StatusOK {
		t.Fatalf("first use: expected 200, got %d", code)
	}
	if code := serve(claims); code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", code)
	}
	if got := guard.seen["buy-1"]; !got.After(exp) {
		t.Fatalf("expiry should include clock skew, got %v", got)
	}

	delete(claims, "jti")
	if code := serve(claims); code != http.StatusUnauthorized {
		t.Fatalf("missing jti: expected 401, got %d", code)
	}

	guard.err = errors.New("disk full")
	claims["jti"] = "buy-2"
	if code := serve(claims); code != http.StatusInternalServerError {
		t.Fatalf("guard failure: expected 500, got %d", code)
	}
}

func TestReplayGuardRequiresExpiry(t *testing.T) {
	guard := &memReplay{seen: map[string]time.Time{}}
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret}, nil)
	auth.SetReplayGuard(guard)

	req := httptest.NewRequest(http.MethodPost, "/v1/listings/x/1/buy", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.MapClaims{
		"sub": "0x1234000000000000000000000000000000000000",
		"jti": "no-exp",
	}))
	res := httptest.NewRecorder()
	auth.Middleware()(okHandler()).ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("token without exp: expected 401, got %d", res.Code)
	}
	if _, ok := guard.seen["no-exp"]; ok {
		t.Fatalf("identifier of a rejected token must not be recorded")
	}
}

func TestPrunedReplayStoreStillRejectsLiveTokens(t *testing.T) {
	store, err := gatewayauth.NewLevelDBReplayStore(filepath.Join(t.TempDir(), "replay"))
	if err != nil {
		t.Fatalf("open replay store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: testSecret, ClockSkew: time.Second}, nil)
	auth.SetReplayGuard(store)
	serve := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/listings/x/1/buy", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		res := httptest.NewRecorder()
		auth.Middleware()(okHandler()).ServeHTTP(res, req)
		return res.Code
	}

	noExpiry := signToken(t, jwt.MapClaims{
		"sub": "0x1234000000000000000000000000000000000000",
		"jti": "buy-1",
	})
	live := signToken(t, jwt.MapClaims{
		"sub": "0x1234000000000000000000000000000000000000",
		"jti": "buy-2",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	if code := serve(noExpiry); code != http.StatusUnauthorized {
		t.Fatalf("token without exp: expected 401, got %d", code)
	}
	if code := serve(live); code != http.StatusOK {
		t.Fatalf("first use: expected 200, got %d", code)
	}
	if code := serve(live); code != http.StatusUnauthorized {
		t.Fatalf("replay: expected 401, got %d", code)
	}

	removed, err := store.Prune(context.Background(), time.Now().Add(2*time.Second))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 0 {
		t.Fatalf("prune removed %d identifiers of unexpired tokens", removed)
	}
	if code := serve(noExpiry); code != http.StatusUnauthorized {
		t.Fatalf("token without exp after prune: expected 401, got %d", code)
	}
	if code := serve(live); code != http.StatusUnauthorized {
		t.Fatalf("replay after prune: expected 401, got %d", code)
	}
}
