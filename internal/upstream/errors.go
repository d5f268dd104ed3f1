package upstream

import (
	"fmt"
	"net/http"
)

// Response headers carrying diagnostics on the upgrade response
const (
	HeaderError     = "dg-error"
	HeaderRequestID = "dg-request-id"
)

// HandshakeError is returned when the upstream service rejects the WebSocket upgrade
type HandshakeError struct {
	Status    int    // HTTP status of the rejected upgrade
	Code      string // dg-error header, if any
	RequestID string // dg-request-id header, if any
	Err       error
}

func newHandshakeError(resp *http.Response, err error) *HandshakeError {
	return &HandshakeError{
		Status:    resp.StatusCode,
		Code:      resp.Header.Get(HeaderError),
		RequestID: resp.Header.Get(HeaderRequestID),
		Err:       err,
	}
}

func (e *HandshakeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream rejected handshake (status %d): %s", e.Status, e.Code)
	}
	return fmt.Sprintf("upstream rejected handshake (status %d)", e.Status)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
