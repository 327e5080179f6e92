// Package http exposes the simulation runtime over a chi router: lifecycle
// control, configuration dry-runs, metrics views and the websocket log
// stream.
package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/joluben/sigsim/internal/domain"
	"github.com/joluben/sigsim/internal/service"
	"github.com/joluben/sigsim/pkg/httputil"
	"github.com/joluben/sigsim/pkg/validator"
)

// SimulationHandler handles HTTP requests for simulation control endpoints.
type SimulationHandler struct {
	service *service.SimulationService
	logger  *slog.Logger
}

// NewSimulationHandler creates a new simulation HTTP handler.
func NewSimulationHandler(svc *service.SimulationService, logger *slog.Logger) *SimulationHandler {
	return &SimulationHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ConnectorTestRequest is the JSON request body for testing an unsaved
// connector configuration.
type ConnectorTestRequest struct {
	TargetType string         `json:"target_type" validate:"required"`
	Config     map[string]any `json:"config"`
}

// --- Response DTOs ---

type simulationMessage struct {
	Message   string `json:"message"`
	ProjectID string `json:"project_id"`
}

type emergencyStopResponse struct {
	Message         string   `json:"message"`
	StoppedProjects []string `json:"stopped_projects"`
	Count           int      `json:"count"`
}

type connectorTypesResponse struct {
	SupportedTypes []string `json:"supported_types"`
	Message        string   `json:"message"`
}

type connectorSchemaResponse struct {
	TargetType string `json:"target_type"`
	Schema     any    `json:"schema"`
	Message    string `json:"message"`
}

type recentLogsResponse struct {
	ProjectID string            `json:"project_id"`
	Logs      []domain.LogEntry `json:"logs"`
	Count     int               `json:"count"`
}

// --- Handlers ---

// Start handles POST /api/v1/simulation/{projectID}/start
func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	if err := h.service.Start(r.Context(), projectID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: simulationMessage{
		Message:   "Simulation started successfully",
		ProjectID: projectID,
	}})
}

// Stop handles POST /api/v1/simulation/{projectID}/stop
func (h *SimulationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	if err := h.service.Stop(r.Context(), projectID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: simulationMessage{
		Message:   "Simulation stopped successfully",
		ProjectID: projectID,
	}})
}

// GetStatus handles GET /api/v1/simulation/{projectID}/status
func (h *SimulationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	status := h.service.Status(r.Context(), projectID)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: status})
}

// ListStatuses handles GET /api/v1/simulation/status
func (h *SimulationHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	statuses := h.service.StatusAll(r.Context())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: statuses})
}

// Validate handles GET /api/v1/simulation/{projectID}/validate
func (h *SimulationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	result := h.service.Validate(r.Context(), projectID)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// EmergencyStop handles POST /api/v1/simulation/emergency-stop
func (h *SimulationHandler) EmergencyStop(w http.ResponseWriter, r *http.Request) {
	stopped := h.service.EmergencyStop(r.Context())

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: emergencyStopResponse{
		Message:         "Emergency stop completed",
		StoppedProjects: stopped,
		Count:           len(stopped),
	}})
}

// TestDevice handles POST /api/v1/simulation/devices/{deviceID}/test
//
// The dry-run always answers 200; configuration and reachability problems
// are reported inside the result body.
func (h *SimulationHandler) TestDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	result := h.service.TestDevice(r.Context(), deviceID)
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// TestConnector handles POST /api/v1/simulation/connectors/test
func (h *SimulationHandler) TestConnector(w http.ResponseWriter, r *http.Request) {
	// Limit request body to 1 MB to prevent abuse.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req ConnectorTestRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.service.TestConnector(r.Context(), req.TargetType, req.Config)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// ListConnectorTypes handles GET /api/v1/simulation/connectors/types
func (h *SimulationHandler) ListConnectorTypes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: connectorTypesResponse{
		SupportedTypes: h.service.ConnectorTypes(),
		Message:        "List of supported target connector types",
	}})
}

// GetConnectorSchema handles GET /api/v1/simulation/connectors/{targetType}/schema
func (h *SimulationHandler) GetConnectorSchema(w http.ResponseWriter, r *http.Request) {
	targetType := chi.URLParam(r, "targetType")

	schema, err := h.service.ConnectorSchema(targetType)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: connectorSchemaResponse{
		TargetType: targetType,
		Schema:     schema,
		Message:    "Configuration schema for " + targetType + " connector",
	}})
}

// Logs handles GET /api/v1/simulation/{projectID}/logs
//
// With a websocket upgrade it streams the project's live log feed; as plain
// HTTP it returns a newest-first snapshot of the buffered entries.
func (h *SimulationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.streamLogs(w, r)
		return
	}
	h.recentLogs(w, r)
}

func (h *SimulationHandler) recentLogs(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	limit := 0 // all buffered entries
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "limit must be a valid positive integer"},
			})
			return
		}
		limit = n
	}

	logs, err := h.service.RecentLogs(projectID, limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: recentLogsResponse{
		ProjectID: projectID,
		Logs:      logs,
		Count:     len(logs),
	}})
}
