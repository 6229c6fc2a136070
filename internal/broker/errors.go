package broker

import "fmt"

// ValidationError reports client-side input the broker would reject. The
// request never leaves the gateway.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// RejectedError is a definitive broker verdict: the call reached the broker
// and came back 2xx with success=false. Distinct from transport or envelope
// failures so callers never confuse "refused" with "unreachable".
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected by broker", e.Op)
	}
	return fmt.Sprintf("%s rejected by broker: %s", e.Op, e.Message)
}
