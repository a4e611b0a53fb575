package market

import (
	"math"
	"time"

	"fxdesk/pkg/instrument"
)

// simTick emits one synthetic tick for every instrument that currently has a
// subscriber. Runs only while the feed is in the simulated state.
func (f *Feed) simTick() {
	f.mu.Lock()
	if f.state != StateSimulated {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	now := time.Now().Unix()
	for _, inst := range f.reg.All() {
		if !f.fan.hasSubscribers(inst.Symbol) {
			continue
		}

		prev, _ := f.LastPrice(inst.Symbol)
		f.publish(Tick{Symbol: inst.Symbol, Price: f.nextPrice(prev, inst), Time: now}, "simulated")
	}
}

// nextPrice advances the random walk: next = prev * (1 + U(-0.5,0.5)*vol),
// rounded to the instrument's precision and floored at one precision unit so
// the walk can never reach zero or below.
func (f *Feed) nextPrice(prev float64, inst instrument.Instrument) float64 {
	change := (f.rng.Float64() - 0.5) * inst.Volatility
	next := roundTo(prev*(1+change), inst.Precision)

	if floor := math.Pow(10, -float64(inst.Precision)); next < floor {
		next = floor
	}
	return next
}

func roundTo(v float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
