package domain

import "errors"

// Error taxonomy for the pipeline. Callers match with errors.Is.
var (
	// ErrSourceUnavailable means the telemetry endpoint or the object store
	// could not be reached. The invocation aborts without a partial write.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedResponse means the telemetry payload was missing a field or
	// carried a value that could not be interpreted.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrEmptyPartition means fewer than two usable samples exist for a date.
	// It is informational: the aggregator still writes a null average.
	ErrEmptyPartition = errors.New("empty partition")

	// ErrLoadSubmission means the warehouse rejected a submit call.
	ErrLoadSubmission = errors.New("load submission rejected")

	// ErrLoadFailed means a load reached a terminal failure status.
	ErrLoadFailed = errors.New("load failed")

	// ErrLoadTimedOut means polling exhausted its budget before the load
	// reached a terminal status.
	ErrLoadTimedOut = errors.New("load timed out")
)
