// Package market owns the live price feed: a websocket connection to the
// upstream market-data provider with automatic reconnects, a synthetic
// random-walk generator the feed permanently falls back to when the live
// source is unavailable, and the per-instrument fan-out that delivers ticks
// to subscribers.
package market

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fxdesk/internal/metrics"
	"fxdesk/pkg/instrument"
)

// State is the feed's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateLive
	StateReconnecting
	StateSimulated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateSimulated:
		return "simulated"
	default:
		return "unknown"
	}
}

// Config holds the feed's connection settings. All values are fixed at
// process start.
type Config struct {
	// URL of the upstream websocket feed.
	URL string
	// Token is the static API token (AuthTypeToken). Leaving all
	// credentials empty forces simulated prices from the first Start.
	Token string
	// AuthType selects the upstream auth scheme; defaults to AuthTypeToken.
	AuthType AuthType
	// APIKeyName and PrivateKeyPEM configure AuthTypeJWT.
	APIKeyName    string
	PrivateKeyPEM string

	// MaxReconnectAttempts is the number of consecutive transport failures
	// tolerated before the feed permanently falls back to simulated prices.
	MaxReconnectAttempts int
	// ReconnectBaseDelay scales the linear backoff: attempt n waits n*base.
	ReconnectBaseDelay time.Duration
	// SimInterval is the synthetic generator's tick interval.
	SimInterval time.Duration
}

const (
	defaultMaxReconnectAttempts = 5
	defaultReconnectBaseDelay   = 2 * time.Second
	defaultSimInterval          = 1500 * time.Millisecond
)

// Feed produces ticks from either the live transport or the synthetic
// generator, never both at once, and fans them out to subscribers.
type Feed struct {
	cfg          Config
	reg          *instrument.Registry
	log          *logrus.Logger
	fan          *fanout
	auth         Authenticator
	newTransport transportFactory

	mu       sync.Mutex
	state    State
	attempts int
	gen      int
	tr       transport
	last     map[string]Tick
	retry    *time.Timer
	events   chan transportEvent
	cancel   context.CancelFunc
	rng      *rand.Rand
	done     chan struct{}
}

// NewFeed builds a feed for the given registry. The feed delivers no ticks
// until Start is called.
func NewFeed(cfg Config, reg *instrument.Registry, log *logrus.Logger) (*Feed, error) {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if cfg.SimInterval <= 0 {
		cfg.SimInterval = defaultSimInterval
	}
	if cfg.AuthType == "" {
		cfg.AuthType = AuthTypeToken
	}

	f := &Feed{
		cfg:   cfg,
		reg:   reg,
		log:   log,
		fan:   newFanout(log),
		state: StateDisconnected,
		last:  make(map[string]Tick),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	switch cfg.AuthType {
	case AuthTypeToken:
		if cfg.Token != "" {
			f.auth = NewTokenAuthenticator(cfg.Token)
		}
	case AuthTypeJWT:
		if cfg.PrivateKeyPEM != "" {
			auth, err := NewJWTAuthenticator(cfg.APIKeyName, cfg.PrivateKeyPEM)
			if err != nil {
				return nil, err
			}
			f.auth = auth
		}
	}

	f.newTransport = newWSTransport(cfg.URL, f.auth, log)
	return f, nil
}

// Start attempts to establish the live connection, falling back to the
// synthetic generator when no credentials are configured or setup fails.
// Calling Start while the feed is already started is a no-op.
func (f *Feed) Start() {
	f.mu.Lock()
	if f.state != StateDisconnected {
		f.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.events = make(chan transportEvent, 64)
	f.attempts = 0
	done := make(chan struct{})
	f.done = done

	if f.auth == nil || f.cfg.URL == "" {
		f.setStateLocked(StateSimulated)
		f.log.Info("no live feed credentials configured, using simulated prices")
	} else {
		f.setStateLocked(StateConnecting)
		f.openTransportLocked(ctx)
	}
	f.mu.Unlock()

	go f.run(ctx, done)
}

// Stop tears down whichever source is active and cancels pending reconnect
// and generator timers. Idempotent. After Stop returns no further ticks are
// delivered until Start is called again.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.state == StateDisconnected {
		f.mu.Unlock()
		return
	}

	if f.tr != nil {
		f.tr.close()
		f.tr = nil
	}
	if f.retry != nil {
		f.retry.Stop()
		f.retry = nil
	}
	f.gen++ // orphan any in-flight transport events
	f.attempts = 0
	f.setStateLocked(StateDisconnected)
	cancel := f.cancel
	f.cancel = nil
	done := f.done
	f.done = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Wait only for this epoch's run goroutine; a concurrent Start may have
	// already begun a new epoch.
	if done != nil {
		<-done
	}
	f.log.Info("market data feed stopped")
}

// Subscribe registers h for an instrument's ticks and synchronously delivers
// one tick carrying the last known price (the seed price if no tick has
// arrived yet). The returned handle removes the registration; invoking it
// more than once is a no-op. Registering the same handler twice is a no-op.
// Requests for instruments outside the registry are discarded.
func (f *Feed) Subscribe(symbol string, h TickHandler) func() {
	inst, ok := f.reg.Lookup(symbol)
	if !ok {
		f.log.WithField("symbol", symbol).Warn("subscribe for unknown instrument discarded")
		return func() {}
	}

	if !f.fan.add(symbol, h) {
		return func() {}
	}

	f.mu.Lock()
	t, seen := f.last[symbol]
	f.mu.Unlock()
	if !seen {
		t = Tick{Symbol: symbol, Price: inst.SeedPrice, Time: time.Now().Unix()}
	}
	f.fan.invoke(h, t)

	var once sync.Once
	return func() {
		once.Do(func() {
			f.fan.remove(symbol, h)
		})
	}
}

// Status returns a point-in-time connection snapshot. Safe to call in any
// state, including before Start.
func (f *Feed) Status() ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	usingLive := f.state == StateConnecting || f.state == StateLive || f.state == StateReconnecting
	return ConnectionStatus{
		IsLive:            f.state == StateLive,
		UsingLiveSource:   usingLive,
		ReconnectAttempts: f.attempts,
		State:             f.state.String(),
	}
}

// LastPrice returns the last known price for symbol, falling back to the
// instrument's seed price before any tick has arrived.
func (f *Feed) LastPrice(symbol string) (float64, bool) {
	inst, ok := f.reg.Lookup(symbol)
	if !ok {
		return 0, false
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if t, seen := f.last[symbol]; seen {
		return t.Price, true
	}
	return inst.SeedPrice, true
}

// LastPrices returns the last known tick per instrument in registry order.
func (f *Feed) LastPrices() []Tick {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Tick, 0, len(f.reg.Symbols()))
	for _, inst := range f.reg.All() {
		if t, seen := f.last[inst.Symbol]; seen {
			out = append(out, t)
			continue
		}
		out = append(out, Tick{Symbol: inst.Symbol, Price: inst.SeedPrice})
	}
	return out
}

func (f *Feed) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	sim := time.NewTicker(f.cfg.SimInterval)
	defer sim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-f.events:
			f.transition(ev)
		case <-f.retryChan():
			f.redial(ctx)
		case <-sim.C:
			f.simTick()
		}
	}
}

// transition is the single consumer of transport events.
func (f *Feed) transition(ev transportEvent) {
	f.mu.Lock()
	stale := ev.gen != f.gen
	f.mu.Unlock()
	if stale {
		return
	}

	switch ev.kind {
	case transportOpened:
		f.handleOpened()
	case transportMessage:
		f.handleMessage(ev.payload)
	case transportErrored, transportClosed:
		f.handleFailure(ev)
	}
}

func (f *Feed) handleOpened() {
	f.mu.Lock()
	if f.state != StateConnecting {
		f.mu.Unlock()
		return
	}
	f.setStateLocked(StateLive)
	f.attempts = 0
	tr := f.tr
	f.mu.Unlock()

	f.log.Info("live feed connected")

	// (Re)issue one subscribe request per registry instrument.
	for _, inst := range f.reg.All() {
		if err := tr.send(subscribeRequest{Type: "subscribe", Symbol: inst.FeedSymbol}); err != nil {
			f.log.WithError(err).WithField("symbol", inst.Symbol).Warn("subscribe request failed")
		}
	}
}

func (f *Feed) handleFailure(ev transportEvent) {
	f.mu.Lock()
	switch f.state {
	case StateConnecting, StateLive:
	default:
		f.mu.Unlock()
		return
	}

	if f.tr != nil {
		f.tr.close()
		f.tr = nil
	}
	f.gen++ // orphan events from the failed connection

	f.attempts++
	attempts := f.attempts
	metrics.FeedReconnects.Inc()
	if attempts >= f.cfg.MaxReconnectAttempts {
		f.retry = nil
		f.setStateLocked(StateSimulated)
		f.mu.Unlock()

		f.log.WithError(ev.err).WithField("attempts", attempts).
			Warn("reconnect attempts exhausted, falling back to simulated prices")
		return
	}

	delay := f.cfg.ReconnectBaseDelay * time.Duration(attempts)
	f.setStateLocked(StateReconnecting)
	f.retry = time.NewTimer(delay)
	f.mu.Unlock()

	f.log.WithError(ev.err).WithFields(logrus.Fields{
		"attempt": attempts,
		"delay":   delay,
	}).Warn("live feed lost, reconnecting")
}

func (f *Feed) retryChan() <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retry == nil {
		return nil
	}
	return f.retry.C
}

func (f *Feed) redial(ctx context.Context) {
	f.mu.Lock()
	f.retry = nil
	if f.state != StateReconnecting {
		f.mu.Unlock()
		return
	}
	f.setStateLocked(StateConnecting)
	f.openTransportLocked(ctx)
	f.mu.Unlock()
}

// openTransportLocked starts a new connection epoch. Caller holds f.mu.
func (f *Feed) openTransportLocked(ctx context.Context) {
	f.gen++
	gen := f.gen
	events := f.events

	emit := func(ev transportEvent) {
		ev.gen = gen
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	tr := f.newTransport(emit)
	f.tr = tr
	if err := tr.open(ctx); err != nil {
		f.tr = nil
		f.setStateLocked(StateSimulated)
		f.log.WithError(err).Warn("live transport setup failed, falling back to simulated prices")
	}
}

// feedMessage is the provider's inbound envelope. Trade payloads carry one or
// more price updates with millisecond event times.
type feedMessage struct {
	Type string      `json:"type"`
	Data []feedTrade `json:"data"`
}

type feedTrade struct {
	Symbol string  `json:"s"`
	Price  float64 `json:"p"`
	TimeMS int64   `json:"t"`
}

func (f *Feed) handleMessage(payload []byte) {
	var msg feedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.log.WithError(err).Warn("discarding malformed feed message")
		return
	}

	if msg.Type != "trade" {
		// Pings and other envelope types carry no price data.
		return
	}

	for _, tr := range msg.Data {
		inst, ok := f.reg.LookupFeed(tr.Symbol)
		if !ok {
			// Unknown instrument identifiers are dropped silently.
			continue
		}
		if tr.Price <= 0 || math.IsNaN(tr.Price) || math.IsInf(tr.Price, 0) {
			f.log.WithField("symbol", tr.Symbol).Warn("discarding trade with invalid price")
			continue
		}

		ts := tr.TimeMS / 1000
		if ts <= 0 {
			ts = time.Now().Unix()
		}
		f.publish(Tick{Symbol: inst.Symbol, Price: tr.Price, Time: ts}, "live")
	}
}

// publish records the last known price and fans the tick out. Called only
// from the run loop, so per-instrument delivery order matches production
// order.
func (f *Feed) publish(t Tick, source string) {
	f.mu.Lock()
	f.last[t.Symbol] = t
	f.mu.Unlock()

	metrics.TicksTotal.WithLabelValues(t.Symbol, source).Inc()
	f.fan.deliver(t)
}

func (f *Feed) setStateLocked(s State) {
	f.state = s
	metrics.FeedState.Set(float64(s))
}
