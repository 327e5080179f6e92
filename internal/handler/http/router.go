package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joluben/sigsim/internal/service"
	"github.com/joluben/sigsim/pkg/health"
	"github.com/joluben/sigsim/pkg/middleware"
)

// NewRouter creates a chi router with all simulation API routes registered.
func NewRouter(
	simulationService *service.SimulationService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	pprofCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("sigsim"))
	r.Use(middleware.Tracing("sigsim"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	// Simulation API endpoints
	simulationHandler := NewSimulationHandler(simulationService, logger)
	metricsHandler := NewMetricsHandler(simulationService, logger)

	r.Route("/api/v1/simulation", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(30 * time.Second))
			r.Use(ContentTypeJSON)

			r.Get("/status", simulationHandler.ListStatuses)
			r.Post("/emergency-stop", simulationHandler.EmergencyStop)

			r.Route("/devices/{deviceID}", func(r chi.Router) {
				r.Use(DeviceIDFromURL)
				r.Post("/test", simulationHandler.TestDevice)
			})

			r.Post("/connectors/test", simulationHandler.TestConnector)

			// The connector catalog is fixed per build; let clients cache it.
			r.Group(func(r chi.Router) {
				r.Use(middleware.CacheControl(300))
				r.Get("/connectors/types", simulationHandler.ListConnectorTypes)
				r.Get("/connectors/{targetType}/schema", simulationHandler.GetConnectorSchema)
			})

			r.Route("/metrics", func(r chi.Router) {
				r.Get("/", metricsHandler.GetAll)
				r.Get("/project/{projectID}", metricsHandler.GetProject)
				r.Get("/connectors", metricsHandler.GetConnectors)
				r.Get("/devices", metricsHandler.GetDevices)
				r.Get("/devices/{deviceID}", metricsHandler.GetDevice)
				r.Delete("/reset", metricsHandler.Reset)
				r.Delete("/reset/project/{projectID}", metricsHandler.ResetProject)
				r.Get("/health", metricsHandler.GetHealth)
			})
		})

		r.Route("/{projectID}", func(r chi.Router) {
			r.Use(ProjectIDFromURL)

			// The log stream holds its socket open indefinitely, so it lives
			// outside the request timeout group.
			r.Get("/logs", simulationHandler.Logs)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(30 * time.Second))
				r.Use(ContentTypeJSON)

				r.Post("/start", simulationHandler.Start)
				r.Post("/stop", simulationHandler.Stop)
				r.Get("/status", simulationHandler.GetStatus)
				r.Get("/validate", simulationHandler.Validate)
			})
		})
	})

	return r
}
