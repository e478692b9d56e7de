package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router wires the client API, the provider webhook and, when given, the
// metrics endpoint. Extra middlewares run after the request ID is assigned
// and outside the panic recoverer.
func Router(h *Handler, metricsHandler http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mws...)
	r.Use(middleware.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/postcards", func(r chi.Router) {
			r.Post("/", h.SubmitPostcard)
			r.Get("/", h.ListPostcards)
			r.Get("/{id}", h.GetPostcard)
		})

		r.Route("/sweeper", func(r chi.Router) {
			r.Get("/status", h.SweeperStatus)
			r.Post("/start", h.SweeperStart)
			r.Post("/stop", h.SweeperStop)
		})

		// Method is checked by the handler so non-POST gets 405 from us.
		r.HandleFunc("/webhooks/sendblue", h.SendblueWebhook)
	})

	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("postcard-messaging"))
	})

	return r
}
