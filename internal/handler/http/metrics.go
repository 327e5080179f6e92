package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joluben/sigsim/internal/service"
	"github.com/joluben/sigsim/pkg/httputil"
)

// MetricsHandler handles HTTP requests for the simulation metrics views.
type MetricsHandler struct {
	service *service.SimulationService
	logger  *slog.Logger
}

// NewMetricsHandler creates a new metrics HTTP handler.
func NewMetricsHandler(svc *service.SimulationService, logger *slog.Logger) *MetricsHandler {
	return &MetricsHandler{
		service: svc,
		logger:  logger,
	}
}

type metricsMessage struct {
	Message string `json:"message"`
}

// GetAll handles GET /api/v1/simulation/metrics
func (h *MetricsHandler) GetAll(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.MetricsSnapshot()})
}

// GetProject handles GET /api/v1/simulation/metrics/project/{projectID}
func (h *MetricsHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.ProjectMetrics(projectID)})
}

// GetConnectors handles GET /api/v1/simulation/metrics/connectors
func (h *MetricsHandler) GetConnectors(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.ConnectorMetrics()})
}

// GetDevices handles GET /api/v1/simulation/metrics/devices
func (h *MetricsHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.DeviceMetrics()})
}

// GetDevice handles GET /api/v1/simulation/metrics/devices/{deviceID}
func (h *MetricsHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	snap, err := h.service.DeviceMetric(deviceID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snap})
}

// Reset handles DELETE /api/v1/simulation/metrics/reset
func (h *MetricsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.service.ResetMetrics()

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: metricsMessage{
		Message: "All metrics reset successfully",
	}})
}

// ResetProject handles DELETE /api/v1/simulation/metrics/reset/project/{projectID}
func (h *MetricsHandler) ResetProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	h.service.ResetProjectMetrics(projectID)

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: metricsMessage{
		Message: fmt.Sprintf("Metrics for project %s reset successfully", projectID),
	}})
}

// GetHealth handles GET /api/v1/simulation/metrics/health
func (h *MetricsHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.service.MetricsHealth()})
}
