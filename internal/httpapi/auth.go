package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/apierr"
)

const (
	rateLimitWindow = time.Minute
	missingKeyCode  = "missing_api_key"
)

type AuthConfig struct {
	Required          bool
	APIKeys           []string
	RequestsPerMinute int
	Burst             int
}

var publicPaths = map[string]bool{
	"/":        true,
	"/health":  true,
	"/healthz": true,
}

// withAuth enforces API keys and the per-key rate limit when auth is
// required. Public paths always pass.
func withAuth(logger zerolog.Logger, cfg AuthConfig, next http.Handler) http.Handler {
	if !cfg.Required {
		return next
	}
	limiter := newRateLimiter(cfg.RequestsPerMinute+cfg.Burst, rateLimitWindow)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := extractAPIKey(r)
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, apierr.Envelope{Error: apierr.Body{
				Message: "Missing API key. Provide via Authorization: Bearer <key>, x-api-key header, or api_key query param.",
				Type:    "authentication_error",
				Code:    missingKeyCode,
			}})
			return
		}
		if !validAPIKey(cfg.APIKeys, key) {
			logger.Warn().Str("path", r.URL.Path).Msg("rejected invalid api key")
			writeError(w, apierr.Unauthorized("Invalid API key"))
			return
		}
		if !limiter.allow(key) {
			writeError(w, apierr.RateLimited("Rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractAPIKey checks the bearer token, then x-api-key, then the api_key
// query parameter.
func extractAPIKey(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

func validAPIKey(keys []string, key string) bool {
	for _, candidate := range keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// rateLimiter keeps a sliding window of request times per key.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

func (l *rateLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.hits[key][:0]
	for _, hit := range l.hits[key] {
		if hit.After(cutoff) {
			recent = append(recent, hit)
		}
	}
	if len(recent) >= l.limit {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}
