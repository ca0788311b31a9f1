package limiter

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownAction = errors.New("limiter: no policy registered for action")
	ErrInvalidPolicy = errors.New("limiter: invalid policy")
)

// ConfigurationError reports use of an action that has no registered policy.
// Unknown actions fail closed.
type ConfigurationError struct {
	Action string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("limiter: no policy registered for action %q", e.Action)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrUnknownAction
}
