package market

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// fanout keeps a per-instrument registry of tick handlers and delivers each
// tick to every registered handler in registration order. A handler that
// panics is isolated so it cannot prevent delivery to later handlers.
type fanout struct {
	log *logrus.Logger

	mu   sync.Mutex
	subs map[string][]TickHandler
}

func newFanout(log *logrus.Logger) *fanout {
	return &fanout{
		log:  log,
		subs: make(map[string][]TickHandler),
	}
}

// add registers h for symbol. Registering the same handler twice is a no-op
// and returns false.
func (f *fanout) add(symbol string, h TickHandler) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.subs[symbol] {
		if existing == h {
			return false
		}
	}
	f.subs[symbol] = append(f.subs[symbol], h)
	return true
}

// remove unregisters h for symbol. Removing a handler that is not registered
// is a no-op.
func (f *fanout) remove(symbol string, h TickHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()

	handlers := f.subs[symbol]
	for i, existing := range handlers {
		if existing == h {
			f.subs[symbol] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

func (f *fanout) hasSubscribers(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[symbol]) > 0
}

// deliver invokes every handler currently registered for t.Symbol,
// synchronously, in registration order.
func (f *fanout) deliver(t Tick) {
	f.mu.Lock()
	handlers := make([]TickHandler, len(f.subs[t.Symbol]))
	copy(handlers, f.subs[t.Symbol])
	f.mu.Unlock()

	for _, h := range handlers {
		f.invoke(h, t)
	}
}

func (f *fanout) invoke(h TickHandler, t Tick) {
	defer func() {
		if r := recover(); r != nil {
			f.log.WithFields(logrus.Fields{
				"symbol": t.Symbol,
				"panic":  r,
			}).Error("tick handler panicked")
		}
	}()
	h.OnTick(t)
}
