package middleware

import (
	"net/http"
	"strings"

	"github.com/nkiryanov/essaypay/internal/handlers/clientctx"
	"github.com/nkiryanov/essaypay/internal/handlers/render"
)

type tokenParser interface {
	// Return token subject if token valid
	Parse(token string) (string, error)
}

// AuthMiddleware lets through requests carrying a valid 'Authorization: Bearer <token>'
func AuthMiddleware(tp tokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			client, err := tp.Parse(token)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := clientctx.New(r.Context(), client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
