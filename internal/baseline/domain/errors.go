package baseline

import "errors"

var (
	ErrInvalidHourOfWeek = errors.New("baseline: hour_of_week out of range")
	ErrInvalidWindow     = errors.New("baseline: trailing window must be at least one week")
)
