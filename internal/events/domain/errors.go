package events

import "errors"

var (
	ErrMissingTenant    = errors.New("events: tenant_id required")
	ErrMissingLocation  = errors.New("events: location_id required")
	ErrInvalidEventTime = errors.New("events: event_time invalid")
	ErrInvalidResult    = errors.New("events: result must be grant or deny")
)
