package httpservice

import (
	"net/http"

	"github.com/arkade-os/fee-distributor/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status string `json:"status"`
}

func newRouter(h *handler, auth *authenticator, ready *readiness) http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware, requestLogger, panicRecovery)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.started.Load() {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(ready.middleware)

		r.Route("/distribution", func(r chi.Router) {
			r.With(auth.require(roleScheduler)).Post("/initiate", h.initiate)
			r.With(auth.requireOnly(roleTransport)).Post("/read-response", h.readResponse)
			r.With(auth.require(roleScheduler)).Post("/confirm-bridging", h.confirmBridging)
			r.With(auth.require(roleScheduler)).Post("/distribute", h.distribute)
			r.With(auth.require(roleScheduler)).Post("/referral-rewards", h.sendReferralRewards)
			r.With(auth.require()).Get("/status", h.getStatus)
			r.With(auth.require()).Get("/events", h.getEvents)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.require(roleAdmin))

			r.Post("/withdraw", h.withdrawTokens)
			r.Get("/params", h.getParams)
			r.Put("/params", h.updateParams)
			r.Get("/reports", h.listReports)
			r.Get("/reports/{cycleId}", h.getReport)
		})
	})

	return r
}
