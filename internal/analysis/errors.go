package analysis

import "errors"

var (
	// ErrTimeout indicates the provider did not answer within the deadline.
	ErrTimeout = errors.New("analysis: request timed out")
	// ErrService indicates the provider answered with an error or produced
	// output that failed schema validation.
	ErrService = errors.New("analysis: provider error")
)
