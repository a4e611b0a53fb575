// Package portfolio holds the trading ledger (cash, positions, trade log)
// and the valuation functions computed over it.
//
// All monetary values use shopspring/decimal — never float64 for money.
package portfolio

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position is the net signed holding in one instrument plus its blended
// average entry price. A position exists iff its quantity is non-zero.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     decimal.Decimal `json:"quantity"` // positive = long, negative = short
	AveragePrice decimal.Decimal `json:"average_price"`
}

// Trade is one executed order, immutable once recorded.
type Trade struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Side      Side            `json:"side"`
	Quantity  decimal.Decimal `json:"quantity"` // unsigned magnitude
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

var (
	// ErrInvalidPrice rejects orders whose price is not strictly positive.
	ErrInvalidPrice = errors.New("order price must be positive")
	// ErrZeroQuantity rejects orders with zero quantity.
	ErrZeroQuantity = errors.New("order quantity must be non-zero")
)

// Ledger tracks cash, per-instrument positions, and the trade log. Execute
// is the only way its state changes; executions are serialized under one
// mutex so no two orders interleave their read-modify-write of a position.
type Ledger struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]Position
	trades    []Trade // most recent first

	now   func() time.Time
	newID func() string
}

// NewLedger creates a ledger with the given seed cash balance and no
// positions.
func NewLedger(startingCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      startingCash,
		positions: make(map[string]Position),
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
}

// Execute applies one order atomically. The sign of quantity selects the
// side (positive = buy, negative = sell); price is the caller-supplied last
// known price for the instrument — the ledger never fetches prices itself.
//
// Effects: cash decreases by price*quantity; same-direction size changes
// blend the average price by absolute size; a trade that crosses the
// position through zero resets the average to the flipping trade's price; a
// trade that lands exactly on zero removes the position. The recorded trade
// is prepended to the log.
func (l *Ledger) Execute(symbol string, quantity, price decimal.Decimal) (Trade, error) {
	if !price.IsPositive() {
		return Trade{}, ErrInvalidPrice
	}
	if quantity.IsZero() {
		return Trade{}, ErrZeroQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.cash = l.cash.Sub(price.Mul(quantity))

	prev, held := l.positions[symbol]
	newQty := prev.Quantity.Add(quantity)

	switch {
	case newQty.IsZero():
		// Exact close: no residual average price.
		delete(l.positions, symbol)

	case !held || newQty.Sign() == prev.Quantity.Sign():
		// Same direction: blend the average by absolute size.
		avg := price
		if held {
			absPrev := prev.Quantity.Abs()
			absQty := quantity.Abs()
			avg = prev.AveragePrice.Mul(absPrev).
				Add(price.Mul(absQty)).
				Div(absPrev.Add(absQty))
		}
		l.positions[symbol] = Position{Symbol: symbol, Quantity: newQty, AveragePrice: avg}

	default:
		// Direction flip: the average resets to the flipping trade's
		// price; the closed portion does not carry its average forward.
		l.positions[symbol] = Position{Symbol: symbol, Quantity: newQty, AveragePrice: price}
	}

	side := SideBuy
	if quantity.Sign() < 0 {
		side = SideSell
	}

	trade := Trade{
		ID:        l.newID(),
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity.Abs(),
		Price:     price,
		Timestamp: l.now(),
	}
	l.trades = append([]Trade{trade}, l.trades...)

	return trade, nil
}

// Cash returns the current cash balance. May be negative; there is no margin
// check.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns the open position for symbol, if any.
func (l *Ledger) Position(symbol string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[symbol]
	return p, ok
}

// Positions returns a snapshot of all open positions, sorted by symbol.
func (l *Ledger) Positions() []Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades returns the trade log most-recent-first. A limit <= 0 returns the
// whole log.
func (l *Ledger) Trades(limit int) []Trade {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Trade, n)
	copy(out, l.trades[:n])
	return out
}
