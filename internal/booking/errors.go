package booking

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("token not found")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type TransitionError struct {
	From string
	To   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition token from %s to %s", e.From, e.To)
}
