package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-retail-orders/internal/auth"
	"github.com/ariefcatur/go-retail-orders/internal/logging"
)

// RequestLogger attaches a request-scoped logger to the context and writes one access log line per request.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			l := logger.With(zap.String("request_id", reqID))
			ctx := logging.WithRequestID(logging.WithLogger(r.Context(), l), reqID)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			l.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Authenticate resolves the bearer token into an auth.Identity and rejects requests without one.
func Authenticate(v *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				token = ""
			}
			id, err := v.Verify(token)
			if err != nil {
				logging.FromContext(r.Context()).Debug("authentication failed", zap.Error(err))
				WriteError(w, r, errUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
		})
	}
}

// RequireStaff lets only staff and admin identities through.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.IsStaff() {
			WriteError(w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin lets only admin identities through.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok || !id.IsAdmin() {
			WriteError(w, r, errForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
