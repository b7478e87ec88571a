package llm

import (
	"fmt"
	"net/http"
)

// StatusError is returned by providers when the backend answers with a
// non-success HTTP status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// HTTPStatus implements core.StatusCoder.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// NewStatusError builds a StatusError, trimming long bodies.
func NewStatusError(provider string, status int, body string, cause error) *StatusError {
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	return &StatusError{Provider: provider, StatusCode: status, Message: body, Err: cause}
}
