package domain

import "errors"

// Error taxonomy. Callers wrap these with fmt.Errorf("...: %w") and classify
// with errors.Is.
var (
	// ErrConfig marks an unknown strategy or malformed parameters. Fatal to
	// the request, never retried.
	ErrConfig = errors.New("config error")

	// ErrNotFound is returned by price sources for unknown instruments.
	ErrNotFound = errors.New("instrument not found")

	// ErrUnavailable is returned by price sources on transient failures.
	ErrUnavailable = errors.New("data source unavailable")

	// ErrDataUnavailable marks an empty or unusable price series.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrComputation marks an unexpected failure inside indicator derivation
	// or the simulation engine.
	ErrComputation = errors.New("computation error")

	// ErrNoViableParameters is reported by optimisation when no grid
	// combination produced a defined Sharpe ratio.
	ErrNoViableParameters = errors.New("no viable parameters")
)

// IsDataUnavailable reports whether err degrades a run to undefined metrics
// rather than failing the whole request.
func IsDataUnavailable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrDataUnavailable) ||
		errors.Is(err, ErrComputation)
}
