package strategy

import (
	"log/slog"

	"backtester/internal/domain"
)

// Tracker is the fill-tracking collaborator shared by every strategy
// variant. It remembers the one order in flight and logs order events.
// A Tracker belongs to a single run and is not safe for concurrent use.
type Tracker struct {
	logger  *slog.Logger
	pending string
}

// NewTracker creates a Tracker. A nil logger means slog.Default().
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{logger: logger}
}

// Pending reports whether an order has been submitted and not yet resolved.
func (t *Tracker) Pending() bool {
	return t.pending != ""
}

// Submitted records orderID as the order in flight.
func (t *Tracker) Submitted(orderID string, bar domain.Bar, in Intent) {
	t.pending = orderID
	event := "BUY CREATE"
	if in.Action == ExitLong {
		event = "SELL CREATE"
	}
	t.logger.Debug(event,
		"date", bar.Date(),
		"price", bar.Close,
		"size", in.Size,
	)
}

// OnOrder receives order status updates. Intermediate states are ignored;
// any terminal state clears the in-flight order.
func (t *Tracker) OnOrder(o domain.Order) {
	switch o.Status {
	case domain.OrderStatusSubmitted:
		return
	case domain.OrderStatusFilled:
		event := "BUY EXECUTED"
		if o.Side == domain.OrderSideSell {
			event = "SELL EXECUTED"
		}
		t.logger.Debug(event,
			"date", o.UpdatedAt.Format("2006-01-02"),
			"price", o.FilledAvgPrice,
			"size", o.FilledQty,
			"commission", o.Commission,
		)
	default:
		t.logger.Debug("order "+string(o.Status),
			"order_id", o.ID,
			"side", o.Side,
			"reason", o.Reason,
		)
	}
	if o.ID == t.pending {
		t.pending = ""
	}
}
