package pik

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned by operations that need a bearer token
	// before any request is sent when the session has none.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrClassifierNotFound is returned when a ticket names a classifier uid
	// absent from the cached classifier set.
	ErrClassifierNotFound = errors.New("classifier not found")

	// ErrClassifierNotLeaf is returned when a ticket names a classifier that
	// still has children. Only leaf classifiers accept tickets.
	ErrClassifierNotLeaf = errors.New("classifier is not a leaf")
)

// Backend error codes the client reacts to during OTP verification.
const (
	codeOTPExpired = "otp_expired"
	codeOTPInvalid = "otp_invalid"
)

// RequestError reports a failure to complete an HTTP exchange: building the
// request, the transport round-trip, or reading the body. No server verdict
// was obtained.
type RequestError struct {
	Op  string
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// ServerError is a RequestError where the exchange completed but the server
// rejected the request. It carries the HTTP status plus whatever the backend
// put in its error envelope.
type ServerError struct {
	*RequestError
	Status  int
	Code    string
	Message string
	Body    []byte
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s: status %d: %s (%s)", e.Op, e.URL, e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.Status)
}

func (e *ServerError) Unwrap() error { return e.RequestError }

// IsOTPExpired reports whether the error is the backend telling us the
// one-time password has expired and a new one must be requested.
func IsOTPExpired(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == codeOTPExpired
}

// IsOTPInvalid reports whether the error is the backend rejecting the
// submitted one-time password.
func IsOTPInvalid(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == codeOTPInvalid
}
