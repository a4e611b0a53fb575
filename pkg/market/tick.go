package market

// Tick is one timestamped price observation for an instrument. Ticks are
// immutable once produced.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Time   int64   `json:"time"` // seconds since epoch
}

// ConnectionStatus is a point-in-time snapshot of the feed's connection.
type ConnectionStatus struct {
	IsLive            bool   `json:"is_live"`
	UsingLiveSource   bool   `json:"using_live_source"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	State             string `json:"state"`
}

// TickHandler receives ticks from the feed. Handler values must be
// comparable (use pointer receivers); the fan-out uses handler identity for
// de-duplication and removal.
type TickHandler interface {
	OnTick(Tick)
}

type tickHandlerFunc struct {
	fn func(Tick)
}

func (h *tickHandlerFunc) OnTick(t Tick) { h.fn(t) }

// HandlerFunc wraps a plain function as a TickHandler. Each call produces a
// distinct handler identity.
func HandlerFunc(fn func(Tick)) TickHandler {
	return &tickHandlerFunc{fn: fn}
}
