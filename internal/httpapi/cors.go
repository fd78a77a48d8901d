package httpapi

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	corsDefaultHeader = "Authorization, Content-Type, X-API-Key"
	corsExposeHeaders = headerSessionID + ", " + headerProjectID
)

func originAllowed(allowed []string, origin string) bool {
	for _, candidate := range allowed {
		if candidate == "*" || strings.EqualFold(candidate, origin) {
			return true
		}
	}
	return false
}

// withCORS answers preflight requests and decorates responses for allowed
// origins. A "*" entry allows every origin.
func withCORS(allowed []string, next http.Handler) http.Handler {
	allowAll := false
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			header := w.Header()
			if allowAll {
				header.Set("Access-Control-Allow-Origin", "*")
			} else {
				header.Set("Access-Control-Allow-Origin", origin)
				header.Add("Vary", "Origin")
			}
			header.Set("Access-Control-Expose-Headers", corsExposeHeaders)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				requested := r.Header.Get("Access-Control-Request-Headers")
				if requested == "" {
					requested = corsDefaultHeader
				}
				header.Set("Access-Control-Allow-Methods", corsAllowMethods)
				header.Set("Access-Control-Allow-Headers", requested)
				header.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
