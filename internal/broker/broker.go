// Package broker defines the Broker interface and the simulated brokerage
// that matches backtest orders against daily bars.
package broker

import (
	"context"
	"errors"

	"backtester/internal/domain"
)

// ErrUnknownOrder is returned when an order ID is not known to the broker.
var ErrUnknownOrder = errors.New("unknown order")

// Broker abstracts brokerage operations for order execution and account management.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder sends an order to the brokerage for execution.
	SubmitOrder(ctx context.Context, order *domain.Order) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetPositions returns all current positions held at the brokerage.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}
