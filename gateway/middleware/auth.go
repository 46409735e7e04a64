package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

type AuthConfig struct {
	Enabled    bool
	HMACSecret string
	Issuer     string
	Audience   string
	ScopeClaim string
	ClockSkew  time.Duration
}

type contextKey string

const (
	ContextKeyToken  contextKey = "gateway.token"
	ContextKeyScopes contextKey = "gateway.scopes"
	ContextKeyCaller contextKey = "gateway.caller"
)

// CallerHeader carries the caller address when authentication is disabled.
const CallerHeader = "X-Caller"

var errCallerMissing = errors.New("caller address missing")

// Authenticator resolves the caller of a request. With auth enabled the
// caller is the subject of an HMAC-signed JWT; otherwise it is read from the
// X-Caller header.
type Authenticator struct {
	cfg    AuthConfig
	logger *slog.Logger
	secret []byte
	replay ReplayGuard
}

// ReplayGuard remembers single-use token identifiers until they expire.
type ReplayGuard interface {
	MarkUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
}

var (
	errTokenIDMissing     = errors.New("token carries no jti claim")
	errTokenExpiryMissing = errors.New("token carries no exp claim")
	errTokenReplayed      = errors.New("token already used")
)

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ScopeClaim == "" {
		cfg.ScopeClaim = "scope"
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{cfg: cfg, logger: logger, secret: []byte(strings.TrimSpace(cfg.HMACSecret))}
}

// SetReplayGuard makes every authenticated token single-use: it must carry an
// exp claim and a jti claim that the guard has not seen before. The guard may
// forget an identifier once its token has expired.
func (a *Authenticator) SetReplayGuard(guard ReplayGuard) { a.replay = guard }

// Middleware requires a resolvable caller and, when auth is enabled, every
// scope in requiredScopes. Empty scope names are ignored.
func (a *Authenticator) Middleware(requiredScopes ...string) func(http.Handler) http.Handler {
	required := make([]string, 0, len(requiredScopes))
	for _, scope := range requiredScopes {
		if trimmed := strings.TrimSpace(scope); trimmed != "" {
			required = append(required, trimmed)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.cfg.Enabled {
				caller, err := parseCaller(r.Header.Get(CallerHeader))
				if err != nil {
					http.Error(w, "missing or invalid "+CallerHeader+" header", http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyCaller, caller)))
				return
			}
			tokenString := extractBearer(r.Header.Get("Authorization"))
			if tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := a.parseToken(tokenString)
			if err != nil {
				a.logger.Warn("auth: token validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if err := validateClaims(claims, a.cfg.Issuer, a.cfg.Audience); err != nil {
				a.logger.Warn("auth: claim validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			subject, _ := claims["sub"].(string)
			caller, err := parseCaller(subject)
			if err != nil {
				a.logger.Warn("auth: subject is not an address", "sub", subject)
				http.Error(w, "invalid token subject", http.StatusUnauthorized)
				return
			}
			scopes := extractScopes(claims, a.cfg.ScopeClaim)
			if !hasScopes(scopes, required) {
				http.Error(w, "insufficient scope", http.StatusForbidden)
				return
			}
			if err := a.consumeToken(r.Context(), claims); err != nil {
				if errors.Is(err, errTokenIDMissing) || errors.Is(err, errTokenExpiryMissing) || errors.Is(err, errTokenReplayed) {
					a.logger.Warn("auth: token rejected", "error", err, "sub", subject)
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
				a.logger.Error("auth: replay guard failed", "error", err)
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyToken, tokenString)
			ctx = context.WithValue(ctx, ContextKeyScopes, scopes)
			ctx = context.WithValue(ctx, ContextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) consumeToken(ctx context.Context, claims jwt.MapClaims) error {
	if a.replay == nil {
		return nil
	}
	id, _ := claims["jti"].(string)
	if strings.TrimSpace(id) == "" {
		return errTokenIDMissing
	}
	// Without exp the identifier would outlive its entry in the guard.
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return errTokenExpiryMissing
	}
	seen, err := a.replay.MarkUsed(ctx, id, exp.Time.Add(a.cfg.ClockSkew))
	if err != nil {
		return err
	}
	if seen {
		return errTokenReplayed
	}
	return nil
}

// CallerFromContext returns the caller resolved by the authenticator.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(ContextKeyCaller).([20]byte)
	return caller, ok
}

func parseCaller(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return [20]byte{}, errCallerMissing
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return [20]byte{}, errCallerMissing
	}
	return addr, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	if len(a.secret) == 0 {
		return nil, errors.New("auth secret not configured")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func validateClaims(claims jwt.MapClaims, issuer, audience string) error {
	if issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != issuer {
			return errors.New("issuer mismatch")
		}
	}
	if audience != "" {
		switch val := claims["aud"].(type) {
		case string:
			if val != audience {
				return errors.New("audience mismatch")
			}
		case []interface{}:
			matched := false
			for _, entry := range val {
				if s, ok := entry.(string); ok && s == audience {
					matched = true
					break
				}
			}
			if !matched {
				return errors.New("audience mismatch")
			}
		default:
			return errors.New("audience missing")
		}
	}
	return nil
}

func extractScopes(claims jwt.MapClaims, scopeClaim string) []string {
	raw, ok := claims[scopeClaim]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return strings.Fields(v)
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, entry := range v {
			if s, ok := entry.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func hasScopes(scopes []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	for _, req := range required {
		if _, ok := set[req]; !ok {
			return false
		}
	}
	return true
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
