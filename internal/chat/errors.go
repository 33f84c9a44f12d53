package chat

import "fmt"

// MaxMessageLen is the upper bound on a single customer message.
const MaxMessageLen = 10000

// ValidationError reports a rejected turn request. Handlers map it to a 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
