package broker

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"backtester/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. Market
// orders submitted while processing bar t are filled at the open of the
// next bar for the same symbol. Commission is charged as a fraction of the
// fill's notional value.
//
// A SimulatorBroker belongs to one run and is not safe for concurrent use.
type SimulatorBroker struct {
	cash       float64
	commission float64

	positions map[string]*domain.Position
	orders    map[string]*domain.Order
	queue     []string // submitted order IDs in arrival order
	marks     map[string]float64
}

// NewSimulatorBroker creates a SimulatorBroker holding cash and charging
// commission (e.g. 0.001 for 0.1%) per fill.
func NewSimulatorBroker(cash, commission float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:       cash,
		commission: commission,
		positions:  make(map[string]*domain.Position),
		orders:     make(map[string]*domain.Order),
		marks:      make(map[string]float64),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SubmitOrder queues a market order for execution on the next bar. The
// order is assigned an ID when it has none.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order *domain.Order) (*domain.Order, error) {
	if order.Qty <= 0 {
		return nil, fmt.Errorf("submit %s %s: quantity must be positive, got %d", order.Side, order.Symbol, order.Qty)
	}
	if order.Side != domain.OrderSideBuy && order.Side != domain.OrderSideSell {
		return nil, fmt.Errorf("submit %s: unknown side %q", order.Symbol, order.Side)
	}

	o := *order
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Status = domain.OrderStatusSubmitted
	o.UpdatedAt = o.CreatedAt

	b.orders[o.ID] = &o
	b.queue = append(b.queue, o.ID)
	out := o
	return &out, nil
}

// CancelOrder cancels a queued order. Cancelling a filled or rejected order
// is a no-op.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrUnknownOrder)
	}
	if o.Status != domain.OrderStatusSubmitted {
		return nil
	}
	o.Status = domain.OrderStatusCancelled
	b.dequeue(orderID)
	return nil
}

// GetPositions returns all open positions sorted by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	positions := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		if p.Qty != 0 {
			positions = append(positions, *p)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })
	return positions, nil
}

// GetAccount returns cash and equity, valuing positions at their last mark.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	return &domain.AccountInfo{
		Cash:   b.cash,
		Equity: b.equity(),
	}, nil
}

// Order returns a copy of the order with the given ID.
func (b *SimulatorBroker) Order(orderID string) (domain.Order, bool) {
	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// ProcessBar matches queued orders for bar.Symbol at bar.Open and returns
// the orders that reached a terminal state plus the fills produced.
// Buys whose cost including commission exceeds cash are rejected; sells
// are capped at the held quantity.
func (b *SimulatorBroker) ProcessBar(bar domain.Bar) ([]domain.Order, []domain.Fill) {
	var (
		done  []domain.Order
		fills []domain.Fill
		keep  []string
	)
	for _, id := range b.queue {
		o := b.orders[id]
		if o.Symbol != bar.Symbol {
			keep = append(keep, id)
			continue
		}

		price := bar.Open
		qty := o.Qty
		pos := b.position(o.Symbol)

		switch o.Side {
		case domain.OrderSideBuy:
			cost := price * float64(qty)
			comm := cost * b.commission
			if cost+comm > b.cash {
				b.reject(o, bar, fmt.Sprintf("insufficient cash: need %.2f, have %.2f", cost+comm, b.cash))
				done = append(done, *o)
				continue
			}
			b.cash -= cost + comm
			pos.AvgPrice = (pos.AvgPrice*float64(pos.Qty) + cost) / float64(pos.Qty+qty)
			pos.Qty += qty
			b.fill(o, bar, price, qty, comm)

		case domain.OrderSideSell:
			if pos.Qty <= 0 {
				b.reject(o, bar, "no position to sell")
				done = append(done, *o)
				continue
			}
			qty = min(qty, pos.Qty)
			proceeds := price * float64(qty)
			comm := proceeds * b.commission
			b.cash += proceeds - comm
			pos.Qty -= qty
			if pos.Qty == 0 {
				pos.AvgPrice = 0
			}
			b.fill(o, bar, price, qty, comm)
		}

		done = append(done, *o)
		fills = append(fills, domain.Fill{
			OrderID:    o.ID,
			Symbol:     o.Symbol,
			Side:       o.Side,
			Price:      price,
			Qty:        qty,
			Commission: o.Commission,
			Time:       bar.Timestamp,
		})
	}
	b.queue = keep
	return done, fills
}

// Mark records bar.Close as the valuation price for bar.Symbol.
func (b *SimulatorBroker) Mark(bar domain.Bar) {
	b.marks[bar.Symbol] = bar.Close
}

func (b *SimulatorBroker) equity() float64 {
	eq := b.cash
	for sym, p := range b.positions {
		eq += float64(p.Qty) * b.marks[sym]
	}
	return eq
}

func (b *SimulatorBroker) position(symbol string) *domain.Position {
	p, ok := b.positions[symbol]
	if !ok {
		p = &domain.Position{Symbol: symbol}
		b.positions[symbol] = p
	}
	return p
}

func (b *SimulatorBroker) fill(o *domain.Order, bar domain.Bar, price float64, qty int64, comm float64) {
	o.Status = domain.OrderStatusFilled
	o.FilledQty = qty
	o.FilledAvgPrice = price
	o.Commission = comm
	o.UpdatedAt = bar.Timestamp
}

func (b *SimulatorBroker) reject(o *domain.Order, bar domain.Bar, reason string) {
	o.Status = domain.OrderStatusRejected
	o.Reason = reason
	o.UpdatedAt = bar.Timestamp
}

func (b *SimulatorBroker) dequeue(orderID string) {
	for i, id := range b.queue {
		if id == orderID {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return
		}
	}
}
