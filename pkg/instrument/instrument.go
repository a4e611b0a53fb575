package instrument

import (
	"fmt"
)

// Instrument describes one tradable symbol known at startup.
type Instrument struct {
	// Symbol is the internal identifier, e.g. "EURUSD".
	Symbol string
	// FeedSymbol is the identifier used by the upstream feed, e.g. "OANDA:EUR_USD".
	FeedSymbol string
	// SeedPrice is the reference price used before any tick has arrived.
	SeedPrice float64
	// Volatility scales the simulated random walk for this instrument.
	Volatility float64
	// Precision is the number of decimal places quoted for this instrument.
	Precision int
}

// Registry is the fixed set of tradable instruments. It is immutable after
// construction and safe for concurrent use.
type Registry struct {
	ordered  []Instrument
	bySymbol map[string]Instrument
	byFeed   map[string]Instrument
}

// Defaults returns the standard three-pair deployment.
func Defaults() []Instrument {
	return []Instrument{
		{Symbol: "EURUSD", FeedSymbol: "OANDA:EUR_USD", SeedPrice: 1.0842, Volatility: 0.0004, Precision: 5},
		{Symbol: "GBPUSD", FeedSymbol: "OANDA:GBP_USD", SeedPrice: 1.2676, Volatility: 0.0005, Precision: 5},
		{Symbol: "USDJPY", FeedSymbol: "OANDA:USD_JPY", SeedPrice: 151.38, Volatility: 0.0007, Precision: 3},
	}
}

// NewRegistry builds a registry from the given instruments.
func NewRegistry(instruments []Instrument) (*Registry, error) {
	if len(instruments) == 0 {
		return nil, fmt.Errorf("registry requires at least one instrument")
	}

	r := &Registry{
		ordered:  make([]Instrument, 0, len(instruments)),
		bySymbol: make(map[string]Instrument, len(instruments)),
		byFeed:   make(map[string]Instrument, len(instruments)),
	}

	for _, inst := range instruments {
		if inst.Symbol == "" {
			return nil, fmt.Errorf("instrument has empty symbol")
		}
		if inst.FeedSymbol == "" {
			return nil, fmt.Errorf("instrument %s has empty feed symbol", inst.Symbol)
		}
		if inst.SeedPrice <= 0 {
			return nil, fmt.Errorf("instrument %s has non-positive seed price", inst.Symbol)
		}
		if inst.Volatility < 0 {
			return nil, fmt.Errorf("instrument %s has negative volatility", inst.Symbol)
		}
		if inst.Precision < 0 {
			return nil, fmt.Errorf("instrument %s has negative precision", inst.Symbol)
		}
		if _, dup := r.bySymbol[inst.Symbol]; dup {
			return nil, fmt.Errorf("duplicate instrument symbol %s", inst.Symbol)
		}
		if _, dup := r.byFeed[inst.FeedSymbol]; dup {
			return nil, fmt.Errorf("duplicate feed symbol %s", inst.FeedSymbol)
		}

		r.ordered = append(r.ordered, inst)
		r.bySymbol[inst.Symbol] = inst
		r.byFeed[inst.FeedSymbol] = inst
	}

	return r, nil
}

// All returns the instruments in their configured order.
func (r *Registry) All() []Instrument {
	out := make([]Instrument, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Lookup resolves an internal symbol.
func (r *Registry) Lookup(symbol string) (Instrument, bool) {
	inst, ok := r.bySymbol[symbol]
	return inst, ok
}

// LookupFeed resolves an upstream feed identifier to an instrument.
func (r *Registry) LookupFeed(feedSymbol string) (Instrument, bool) {
	inst, ok := r.byFeed[feedSymbol]
	return inst, ok
}

// Symbols returns the internal symbols in configured order.
func (r *Registry) Symbols() []string {
	out := make([]string, len(r.ordered))
	for i, inst := range r.ordered {
		out[i] = inst.Symbol
	}
	return out
}
