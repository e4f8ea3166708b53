package httpmiddleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-faster/sdk/zctx"
)

type requestIDKey struct{}

// HeaderRequestID is the header carrying the request identifier.
const HeaderRequestID = "X-Request-Id"

// RequestID returns a middleware that ensures every request carries an
// identifier. An incoming X-Request-Id header is trusted; otherwise a new
// UUID is generated. The identifier is echoed on the response and attached
// to the context logger.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			ctx = zctx.With(ctx, zap.String("request_id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the request identifier stored by RequestID,
// or an empty string.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
