// Package auth guards the daemon's admin HTTP surface with static tokens.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// HeaderAPIKey carries the token. An "Authorization: Bearer" header is
// accepted as well.
const HeaderAPIKey = "X-API-Key"

// skipAuthPaths bypass authentication.
var skipAuthPaths = []string{
	"/healthz",
	"/metrics",
}

type contextKey string

// TokenIDContextKey holds the short id of the token that authenticated the
// request.
const TokenIDContextKey contextKey = "token_id"

// Guard validates admin tokens. Only SHA-256 digests of the configured
// tokens are kept.
type Guard struct {
	digests [][sha256.Size]byte
	logger  *slog.Logger
}

// NewGuard creates a guard over tokens. Blank tokens are ignored; with none
// left the guard lets every request through.
func NewGuard(tokens []string, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{logger: logger.With("component", "admin-auth")}
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		g.digests = append(g.digests, sha256.Sum256([]byte(t)))
	}
	if len(g.digests) == 0 {
		g.logger.Warn("no admin tokens configured, admin API is unauthenticated")
	}
	return g
}

// Enabled reports whether any token is configured.
func (g *Guard) Enabled() bool {
	return len(g.digests) > 0
}

// Validate returns the short id of the matching token.
func (g *Guard) Validate(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(token))
	matched := -1
	for i, d := range g.digests {
		if subtle.ConstantTimeCompare(sum[:], d[:]) == 1 {
			matched = i
		}
	}
	if matched < 0 {
		return "", false
	}
	return hex.EncodeToString(sum[:4]), true
}

// Middleware rejects requests without a valid token with 401.
func (g *Guard) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !g.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, prefix := range skipAuthPaths {
				if strings.HasPrefix(r.URL.Path, prefix) {
					next.ServeHTTP(w, r)
					return
				}
			}

			token := tokenFrom(r)
			if token == "" {
				writeAuthError(w, "missing API key")
				return
			}
			id, ok := g.Validate(token)
			if !ok {
				g.logger.Warn("rejected admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeAuthError(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), TokenIDContextKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenID returns the authenticated token id from ctx, or "".
func TokenID(ctx context.Context) string {
	if id, ok := ctx.Value(TokenIDContextKey).(string); ok {
		return id
	}
	return ""
}

func tokenFrom(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(bearer)
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
