package enforce

import (
	"errors"
	"fmt"

	"github.com/ppiankov/sinkguard/internal/model"
)

// EnforcementError is returned in place of an intercepted operation's
// result when a verdict blocks it. For throw verdicts Code is the status
// the host should answer with; for exit verdicts the response has already
// been written and terminated.
type EnforcementError struct {
	Kind      model.ActionKind
	Code      int
	Message   string
	Operation string
}

func (e *EnforcementError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("sinkguard %s (%d) in %s: %s", e.Kind, e.Code, e.Operation, e.Message)
	}
	return fmt.Sprintf("sinkguard %s (%d): %s", e.Kind, e.Code, e.Message)
}

// Enforce turns a blocking action into an EnforcementError for operation.
// Non-blocking actions return nil.
func Enforce(act model.Action, operation string) error {
	switch act.Kind {
	case model.ActThrow:
		return &EnforcementError{Kind: act.Kind, Code: act.Code, Message: act.Message, Operation: operation}
	case model.ActExit:
		return &EnforcementError{Kind: act.Kind, Code: act.ResponseCode, Message: act.Message, Operation: operation}
	default:
		return nil
	}
}

// As extracts an EnforcementError from err.
func As(err error) (*EnforcementError, bool) {
	var e *EnforcementError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsEnforcement reports whether err carries a blocking verdict.
func IsEnforcement(err error) bool {
	_, ok := As(err)
	return ok
}

// IsExit reports whether err terminated the response.
func IsExit(err error) bool {
	e, ok := As(err)
	return ok && e.Kind == model.ActExit
}
