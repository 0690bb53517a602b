package engine

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

// Configuration errors are raised before any network call.
var (
	ErrUnknownModelAlias = errors.New("unknown model alias")
	ErrMissingCredential = errors.New("missing api key")
	ErrUnknownProvider   = errors.New("unknown provider")
)

var (
	// ErrPrematureClose is returned when the event stream ends before its
	// terminal event.
	ErrPrematureClose = errors.New("connection closed prematurely")
	ErrMalformedEvent = errors.New("malformed stream event")
)

// HTTPError is a non-success provider response. JSON is set when the body
// could be decoded.
type HTTPError struct {
	StatusCode int
	Body       string
	JSON       json.RawMessage
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "http error"
	}
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("HTTP %d - %s", e.StatusCode, e.Body)
}

// Message extracts the vendor error message from common error envelopes.
func (e *HTTPError) Message() string {
	if e == nil || len(e.JSON) == 0 {
		return ""
	}
	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(e.JSON, &envelope); err != nil || len(envelope.Error) == 0 {
		return ""
	}
	var asString string
	if err := json.Unmarshal(envelope.Error, &asString); err == nil {
		return asString
	}
	var detail struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err == nil {
		return detail.Message
	}
	return ""
}

// NewHTTPError captures the status and body of a failed response.
func NewHTTPError(statusCode int, body []byte) *HTTPError {
	ret := &HTTPError{
		StatusCode: statusCode,
		Body:       string(body),
	}
	if json.Valid(body) {
		ret.JSON = append(json.RawMessage(nil), body...)
	}
	return ret
}

// IsConfigurationError reports whether err was raised while resolving
// settings, before any request went out.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnknownModelAlias) ||
		errors.Is(err, ErrMissingCredential) ||
		errors.Is(err, ErrUnknownProvider)
}
