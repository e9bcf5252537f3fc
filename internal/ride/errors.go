package ride

import "errors"

var (
	// ErrNoActiveRide is returned when an operation needs an IN_PROGRESS
	// ride and none exists.
	ErrNoActiveRide = errors.New("no active ride")

	// ErrRouteGap means the route has no stop with the expected next
	// order. This is configuration breakage, not a transient failure.
	ErrRouteGap = errors.New("route gap: no next stop configured")
)
