package drift

import "errors"

var (
	// ErrEventNotFound indicates the referenced drift event does not exist.
	ErrEventNotFound = errors.New("drift event not found")

	// ErrEventActioned indicates the event was already resolved. Actioned
	// events are immutable.
	ErrEventActioned = errors.New("drift event already actioned")

	// ErrConcurrentModification indicates another writer changed the
	// event between read and write.
	ErrConcurrentModification = errors.New("drift event concurrently modified")
)
