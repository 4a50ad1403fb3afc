package hpsearch

import "errors"

var (
	// ErrMalformedTrace is returned when a log artifact cannot be parsed, or a
	// required metric series has too few points.
	ErrMalformedTrace = errors.New("malformed trace")

	// ErrTrainingInvocation wraps a non-successful training process.
	ErrTrainingInvocation = errors.New("training invocation failed")

	// ErrUpload wraps a failed artifact upload. It never aborts a search.
	ErrUpload = errors.New("artifact upload failed")

	// ErrInvalidConfig is returned before any evaluation when a strategy's
	// preconditions do not hold.
	ErrInvalidConfig = errors.New("invalid search configuration")
)
