package registry

import (
	"errors"
	"fmt"
)

// Common registry errors.
var (
	// ErrNotFound is returned when a model or version does not exist.
	ErrNotFound = errors.New("model version not found")

	// ErrDuplicateVersion is returned when registering a (name, version)
	// pair that already exists.
	ErrDuplicateVersion = errors.New("model version already exists")

	// ErrConcurrentModification is returned when a mutating operation
	// lost a compare-and-swap race. The caller must re-read state and retry.
	ErrConcurrentModification = errors.New("registry record modified concurrently")
)

// TransitionError reports an attempt to move a version along an edge that
// is not in the allowed transition set.
type TransitionError struct {
	ModelName string
	Version   int
	From      State
	To        State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition for %s/%d: %s -> %s", e.ModelName, e.Version, e.From, e.To)
}

// ErrInvalidTransition allows errors.Is checks against any TransitionError.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// Is makes TransitionError match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
