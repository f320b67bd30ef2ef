package middlewares

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/order-approvals/internal/pkg/interceptors"
	"github.com/jcmexdev/order-approvals/internal/pkg/interceptors/constants"
)

// AttachTracingMetadata copies chi's request id into the context key read
// by the logger and echoes it on the response. Must run after
// middleware.RequestID.
func AttachTracingMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = r.Header.Get(constants.HeaderXRequestId)
		}
		ctx, requestID := interceptors.EnsureRequestID(interceptors.WithRequestID(r.Context(), requestID))
		w.Header().Set(constants.HeaderXRequestId, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
