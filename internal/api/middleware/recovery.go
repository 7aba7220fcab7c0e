package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/riskforge/riskforge/internal/api/response"
)

// Recovery converts handler panics into a 500 envelope so a single bad
// request cannot take the server down. The stack is logged, never returned
// to the client.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rv := recover()
			if rv == nil {
				return
			}
			slog.Error("panic in handler",
				"panic", rv,
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "An unexpected error occurred", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
