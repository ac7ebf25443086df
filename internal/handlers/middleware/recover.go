package middleware

import (
	"net/http"

	"github.com/nkiryanov/essaypay/internal/handlers/render"
)

type errorLogger interface {
	Error(msg string, args ...any)
}

func RecoverMiddleware(l errorLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l.Error("panic while serving request", "panic", rec, "uri", r.RequestURI, "request_id", RequestIDFromContext(r.Context()))
					render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
