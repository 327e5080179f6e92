package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/joluben/sigsim/pkg/logger"
)

// ProjectIDFromURL is middleware that lifts the {projectID} route parameter
// into the request context and refreshes the request-scoped logger, so log
// lines and error responses produced under the route carry project_id.
func ProjectIDFromURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "projectID")
		ctx := logger.WithProjectID(r.Context(), id)
		ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("project_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceIDFromURL is the device counterpart of ProjectIDFromURL for routes
// addressing a single simulated device.
func DeviceIDFromURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "deviceID")
		ctx := logger.WithDeviceID(r.Context(), id)
		ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("device_id", id)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ContentTypeJSON enforces that requests with a body have Content-Type: application/json.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 || r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnsupportedMediaType)
				_, _ = w.Write([]byte(`{"error":{"code":"UNSUPPORTED_MEDIA_TYPE","message":"Content-Type must be application/json"}}`))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
