package model

import "fmt"

// MalformedAtomError reports an operation whose payload could not be parsed
// or failed shape validation. The policy is reject-whole-operation: a bad
// payload never contributes a partial write, it is skipped and reported so
// reduction of the remaining operations continues.
type MalformedAtomError struct {
	OperationID OperationID
	EntityID    EntityID
	Reason      string
	Err         error
}

func (e *MalformedAtomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed atom in operation %s (entity %s): %s: %v",
			e.OperationID, e.EntityID, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed atom in operation %s (entity %s): %s",
		e.OperationID, e.EntityID, e.Reason)
}

func (e *MalformedAtomError) Unwrap() error { return e.Err }
