package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jcmexdev/order-approvals/internal/httpapi/middlewares"
)

func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middlewares.AttachTracingMetadata)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", handler.Health)
	r.Post("/registrations", handler.Register)

	r.Route("/orders/{id}", func(r chi.Router) {
		r.Get("/", handler.GetOrder)
		r.Post("/approve", handler.Approve)
		r.Post("/reject", handler.Reject)
	})
	return r
}
