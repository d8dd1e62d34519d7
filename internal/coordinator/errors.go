package coordinator

import "errors"

var (
	// ErrAlreadyStarted is returned when Setup is called on a coordinator
	// that has already left StateIdle.
	ErrAlreadyStarted = errors.New("coordinator already started")

	// ErrNotPolling is returned by SetField when the coordinator is not
	// in StatePolling.
	ErrNotPolling = errors.New("coordinator not polling")
)
