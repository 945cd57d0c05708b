package api

import (
	"context"
	"errors"

	"backtester/internal/domain"
)

// Error kinds reported to remote callers.
const (
	KindInvalidRequest     = "invalid_request"
	KindNotFound           = "not_found"
	KindUnavailable        = "unavailable"
	KindDataUnavailable    = "data_unavailable"
	KindComputation        = "computation"
	KindNoViableParameters = "no_viable_parameters"
	KindCanceled           = "canceled"
	KindInternal           = "internal"
)

// ErrorKind classifies err for the wire.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrConfig):
		return KindInvalidRequest
	case errors.Is(err, domain.ErrNoViableParameters):
		return KindNoViableParameters
	case errors.Is(err, domain.ErrNotFound):
		return KindNotFound
	case errors.Is(err, domain.ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, domain.ErrDataUnavailable):
		return KindDataUnavailable
	case errors.Is(err, domain.ErrComputation):
		return KindComputation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	}
	return KindInternal
}
