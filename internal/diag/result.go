package diag

import (
	"context"
	"errors"
	"fmt"
)

// Service errors. Every Protocol operation returns nil or an error matching
// exactly one of these via errors.Is.
var (
	ErrOutOfRange        = errors.New("parameter out of range")
	ErrNotSendable       = errors.New("request could not be sent")
	ErrNotConfigured     = errors.New("protocol not configured")
	ErrResponseTimeout   = errors.New("no response within timeout")
	ErrNegativeResponse  = errors.New("negative response")
	ErrMalformedResponse = errors.New("malformed response")
	ErrCommunication     = errors.New("communication error")

	// ErrBusy is returned by Cycle when a synchronous exchange is in progress.
	ErrBusy = errors.New("channel busy")
)

// NegativeResponseError carries the service and reason code of a rejected
// request.
type NegativeResponseError struct {
	Service uint8
	Code    uint8
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to service 0x%02X: NRC 0x%02X", e.Service, e.Code)
}

// Is matches ErrNegativeResponse.
func (e *NegativeResponseError) Is(target error) bool {
	return target == ErrNegativeResponse
}

// NRC extracts the negative response code from err.
func NRC(err error) (uint8, bool) {
	var nr *NegativeResponseError
	if errors.As(err, &nr) {
		return nr.Code, true
	}
	return 0, false
}

// Result is the closed result taxonomy of a service exchange.
type Result int

const (
	ResultSuccess Result = iota
	ResultOutOfRange
	ResultNotSendable
	ResultNotConfigured
	ResultResponseTimeout
	ResultNegativeResponse
	ResultMalformedResponse
	ResultCommunicationError
	ResultBusy
)

var resultNames = map[Result]string{
	ResultSuccess:            "success",
	ResultOutOfRange:         "out_of_range",
	ResultNotSendable:        "not_sendable",
	ResultNotConfigured:      "not_configured",
	ResultResponseTimeout:    "timeout",
	ResultNegativeResponse:   "negative_response",
	ResultMalformedResponse:  "malformed_response",
	ResultCommunicationError: "communication_error",
	ResultBusy:               "busy",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// ResultOf maps err onto the result taxonomy. Errors outside the taxonomy
// count as communication errors, except context deadlines which count as
// timeouts.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrOutOfRange):
		return ResultOutOfRange
	case errors.Is(err, ErrNotSendable):
		return ResultNotSendable
	case errors.Is(err, ErrNotConfigured):
		return ResultNotConfigured
	case errors.Is(err, ErrResponseTimeout), errors.Is(err, context.DeadlineExceeded):
		return ResultResponseTimeout
	case errors.Is(err, ErrNegativeResponse):
		return ResultNegativeResponse
	case errors.Is(err, ErrMalformedResponse):
		return ResultMalformedResponse
	case errors.Is(err, ErrBusy):
		return ResultBusy
	default:
		return ResultCommunicationError
	}
}
