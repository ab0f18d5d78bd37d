package crdt

import "fmt"

// TypeMismatchError reports a typed read against a key holding a value of
// a different kind. Callers match it with errors.As.
type TypeMismatchError struct {
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("crdt: type mismatch: expected %s, got %s", e.Expected, e.Actual)
}
