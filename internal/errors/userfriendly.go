package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/tonylturner/osydiag/internal/diag"
	"github.com/tonylturner/osydiag/internal/osy/wire"
)

// UserFriendlyError is an error rendered for the command line: a headline,
// the likely reason, a hint and a command to try, followed by the cause.
type UserFriendlyError struct {
	Message string
	Reason  string
	Hint    string
	Try     string
	Err     error
}

func (e UserFriendlyError) Error() string {
	lines := []string{e.Message}
	for _, field := range []struct{ label, text string }{
		{"Reason", e.Reason},
		{"Hint", e.Hint},
		{"Try", e.Try},
	} {
		if field.text != "" {
			lines = append(lines, "  "+field.label+": "+field.text)
		}
	}
	if e.Err != nil {
		lines = append(lines, "  Details: "+e.Err.Error())
	}
	return strings.Join(lines, "\n")
}

func (e UserFriendlyError) Unwrap() error {
	return e.Err
}

// networkReasons maps substrings of dial and link errors to explanations.
// The first match wins.
var networkReasons = []struct{ match, reason string }{
	{"timeout", "Connection timeout - node may be offline or unreachable"},
	{"deadline exceeded", "Connection timeout - node may be offline or unreachable"},
	{"connection refused", "Connection refused - nothing is listening on this port"},
	{"routing activation", "Gateway refused routing activation for the tester address"},
	{"no route to host", "No route to host - check the network path to the gateway"},
	{"connection reset", "Connection reset - node closed the connection unexpectedly"},
}

// WrapNetworkError explains a failure to open the DoIP link to a node.
func WrapNetworkError(err error, address string) error {
	if err == nil {
		return nil
	}
	reason := "Network communication failed"
	if stderrors.Is(err, diag.ErrResponseTimeout) {
		reason = networkReasons[0].reason
	} else {
		text := err.Error()
		for _, r := range networkReasons {
			if strings.Contains(text, r.match) {
				reason = r.reason
				break
			}
		}
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Failed to reach openSYDE node at %s", address),
		Reason:  reason,
		Hint:    "The node may be offline, or the gateway may not accept DoIP routing activation for this tester address",
		Try:     fmt.Sprintf("osydiag datapool info --address %s --datapool 0", address),
		Err:     err,
	}
}

var serviceExplanations = map[diag.Result]struct{ reason, hint string }{
	diag.ResultOutOfRange: {
		"Datapool, list or element index is outside the addressable range",
		"Datapool indices are limited to 0-31, lists to 0-127 and elements to 0-2047",
	},
	diag.ResultNotSendable:   {"Request could not be queued for transmission", ""},
	diag.ResultNotConfigured: {"No transport is configured for the protocol driver", ""},
	diag.ResultResponseTimeout: {
		"Node did not respond within timeout period",
		"Increase --timeout-ms or check that the node is powered and reachable",
	},
	diag.ResultMalformedResponse: {
		"Received invalid or malformed response from node",
		"The node may run an incompatible openSYDE server version",
	},
	diag.ResultBusy: {"Transport is busy with another exchange", ""},
}

// WrapServiceError explains a failed diagnostic service. Negative responses
// are reported with the NRC name.
func WrapServiceError(err error, operation string) error {
	if err == nil {
		return nil
	}
	ufe := UserFriendlyError{
		Message: fmt.Sprintf("Diagnostic service failed: %s", operation),
		Reason:  "Diagnostic communication error occurred",
		Err:     err,
	}
	if code, ok := diag.NRC(err); ok {
		ufe.Reason = fmt.Sprintf("Node answered with negative response 0x%02X (%s)", code, wire.NRCName(code))
		ufe.Hint = "Check that the element exists on the node and that the value length matches its type"
	} else if e, ok := serviceExplanations[diag.ResultOf(err)]; ok {
		ufe.Reason, ufe.Hint = e.reason, e.hint
	}
	return ufe
}

// WrapConfigError points at the configuration file that could not be used.
func WrapConfigError(err error, configPath string) error {
	if err == nil {
		return nil
	}
	return UserFriendlyError{
		Message: fmt.Sprintf("Configuration error in %s", configPath),
		Reason:  err.Error(),
		Hint:    "Generate a starting point with the default configuration",
		Try:     fmt.Sprintf("osydiag config init --config %s", configPath),
		Err:     err,
	}
}
