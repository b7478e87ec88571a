// Package response writes the JSON envelope shared by every API endpoint.
package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/newthinker/switchboard/internal/core"
	"github.com/newthinker/switchboard/internal/dispatch"
)

// Meta contains response metadata.
type Meta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// SuccessResponse is the standard success response format.
type SuccessResponse struct {
	Data any  `json:"data"`
	Meta Meta `json:"meta"`
}

// ProviderFailure is one provider's reason inside an aggregated failure.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Cause    string            `json:"cause,omitempty"`
	Failures []ProviderFailure `json:"failures,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// JSON writes a success response with data.
func JSON(w http.ResponseWriter, status int, data any) {
	resp := SuccessResponse{
		Data: data,
		Meta: Meta{
			Timestamp: time.Now().UTC(),
			RequestID: w.Header().Get("X-Request-ID"),
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Error writes an error response.
func Error(w http.ResponseWriter, status int, err error) {
	detail := ErrorDetail{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		detail.Code = coreErr.Code
		detail.Message = coreErr.Message
		if coreErr.Cause != nil {
			detail.Cause = coreErr.Cause.Error()
		}
	}

	for _, f := range dispatch.Failures(err) {
		pf := ProviderFailure{Provider: f.Provider, Reason: f.Err.Error()}
		if kind := core.Classify(f.Err); kind != nil {
			pf.Code = kind.Code
		}
		detail.Failures = append(detail.Failures, pf)
	}

	resp := ErrorResponse{Error: detail}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Fail writes err with the status its code maps to.
func Fail(w http.ResponseWriter, err error) {
	Error(w, StatusFor(err), err)
}

// StatusFor maps the outermost coded error to an HTTP status. Causes
// further down the chain, such as one provider's 400 inside an
// all-providers-failed error, do not change the status.
func StatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ce *core.Error
	if !errors.As(err, &ce) {
		return http.StatusInternalServerError
	}
	switch ce.Code {
	case core.ErrInvalidRequest.Code, core.ErrConfigInvalid.Code, core.ErrConfigMissing.Code:
		return http.StatusBadRequest
	case core.ErrUnauthorized.Code:
		return http.StatusUnauthorized
	case core.ErrNotFound.Code:
		return http.StatusNotFound
	case core.ErrQueueFull.Code, core.ErrNoProviders.Code:
		return http.StatusServiceUnavailable
	case core.ErrCancelled.Code:
		return 499
	case core.ErrAllProvidersFailed.Code:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
