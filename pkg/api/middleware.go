package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const userContextKey contextKey = "user"

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", ww.Status()).
			WithField("bytes", ww.BytesWritten()).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAuth checks the Bearer token and injects the user into the
// request context. A missing token is 401, a bad one 403.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{Error: "access token required"})

			return
		}

		user, err := s.auth.verify(strings.TrimSpace(token))
		if err != nil {
			s.log.WithError(err).Debug("Rejected bearer token")

			writeJSON(w, http.StatusForbidden,
				errorResponse{Error: "invalid or expired token"})

			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// userFromContext extracts the authenticated user from the request context.
func userFromContext(ctx context.Context) *userClaims {
	user, _ := ctx.Value(userContextKey).(*userClaims)

	return user
}
