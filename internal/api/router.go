package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/gray-logic-router/internal/infrastructure/logging"
)

// buildRouter mounts the metrics endpoint and the /api/v1 tree.
func (s *Server) buildRouter() http.Handler {
	mux := chi.NewRouter()
	mux.Use(s.withRequestID, s.accessLog, s.recoverPanics, s.cors, s.limitBody)

	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{
		ErrorLog: slogPromLogger{s.logger},
	}))

	mux.Route("/api/v1", func(v1 chi.Router) {
		v1.Get("/health", s.handleHealth)
		v1.Get("/ws", s.handleWebSocket)

		v1.Route("/router", func(rt chi.Router) {
			rt.Get("/", s.handleGetRouter)
			rt.Post("/restart", s.handleRestart)
			rt.Put("/mode", s.handleSetRoutingMode)
			rt.Get("/filter-table", s.handleGetFilterTable)
			rt.Put("/filter-table", s.handleSetFilterTable)
		})
	})

	return mux
}

// slogPromLogger routes promhttp errors to the API logger.
type slogPromLogger struct{ l *logging.Logger }

func (p slogPromLogger) Println(v ...any) {
	p.l.Error("metrics handler error", "error", fmt.Sprint(v...))
}
