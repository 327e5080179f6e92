package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/joluben/sigsim/pkg/errors"
)

// targetErrorBody captures the common JSON error shapes returned by HTTP
// targets: {"error": "..."} or {"message": "..."}.
type targetErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ParseResponseError reads the body of a non-2xx HTTP response and translates
// it into a descriptive error. JSON bodies carrying an error or message field
// contribute their text; anything else is included raw.
//
// The caller should only invoke this when resp.StatusCode indicates an error
// (i.e., not 2xx). The response body is fully consumed and closed.
func ParseResponseError(resp *http.Response, target string) error {
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", target, resp.StatusCode, err)
	}

	detail := string(bodyBytes)
	var parsed targetErrorBody
	if json.Unmarshal(bodyBytes, &parsed) == nil {
		switch {
		case parsed.Error != "":
			detail = parsed.Error
		case parsed.Message != "":
			detail = parsed.Message
		}
	}

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return apperrors.Unavailable(fmt.Sprintf("%s unavailable: %s", target, detail))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%s server error (%d): %s", target, resp.StatusCode, detail)
	case IsClientError(resp.StatusCode):
		return apperrors.InvalidInput(fmt.Sprintf("%s rejected request (status %d): %s", target, resp.StatusCode, detail))
	default:
		return fmt.Errorf("%s returned status %d: %s", target, resp.StatusCode, detail)
	}
}

// IsClientError returns true if the HTTP status code is a 4xx client error.
// Client errors indicate a misconfigured target or payload rather than a
// transient outage.
func IsClientError(status int) bool {
	return status >= 400 && status < 500
}
