package api

import (
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
)

// authMiddleware validates the bearer token and stores the resolved
// identity in the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)

			return
		}

		identity, err := s.authn.ValidateToken(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)

			return
		}

		ctx := withIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLogMiddleware logs one line per handled request.
func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.log.Info().
			Str("method", r.Method).
			Str("url", r.URL.String()).
			Int("status", m.Code).
			Dur("duration", m.Duration).
			Msg("handled")
	})
}
