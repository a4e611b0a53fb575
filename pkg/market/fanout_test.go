package market

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestFanoutDeliversInRegistrationOrder(t *testing.T) {
	f := newFanout(quietLogger())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		require.True(t, f.add("EURUSD", HandlerFunc(func(Tick) {
			order = append(order, i)
		})))
	}

	f.deliver(Tick{Symbol: "EURUSD", Price: 1.08, Time: 1})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFanoutDeliversOnlyToMatchingInstrument(t *testing.T) {
	f := newFanout(quietLogger())

	var got []string
	f.add("EURUSD", HandlerFunc(func(t Tick) { got = append(got, t.Symbol) }))
	f.add("GBPUSD", HandlerFunc(func(t Tick) { got = append(got, t.Symbol) }))

	f.deliver(Tick{Symbol: "GBPUSD", Price: 1.26, Time: 1})
	assert.Equal(t, []string{"GBPUSD"}, got)
}

func TestFanoutDeduplicatesHandlers(t *testing.T) {
	f := newFanout(quietLogger())

	calls := 0
	h := HandlerFunc(func(Tick) { calls++ })

	require.True(t, f.add("EURUSD", h))
	require.False(t, f.add("EURUSD", h), "second registration of the same handler is a no-op")

	f.deliver(Tick{Symbol: "EURUSD", Price: 1.08, Time: 1})
	assert.Equal(t, 1, calls)
}

func TestFanoutRemove(t *testing.T) {
	f := newFanout(quietLogger())

	var got []int
	h1 := HandlerFunc(func(Tick) { got = append(got, 1) })
	h2 := HandlerFunc(func(Tick) { got = append(got, 2) })
	h3 := HandlerFunc(func(Tick) { got = append(got, 3) })
	f.add("EURUSD", h1)
	f.add("EURUSD", h2)
	f.add("EURUSD", h3)

	f.remove("EURUSD", h2)
	f.remove("EURUSD", h2) // removing twice is a no-op

	f.deliver(Tick{Symbol: "EURUSD", Price: 1.08, Time: 1})
	assert.Equal(t, []int{1, 3}, got)
	assert.True(t, f.hasSubscribers("EURUSD"))

	f.remove("EURUSD", h1)
	f.remove("EURUSD", h3)
	assert.False(t, f.hasSubscribers("EURUSD"))
}

func TestFanoutIsolatesPanickingHandler(t *testing.T) {
	f := newFanout(quietLogger())

	var got []int
	f.add("EURUSD", HandlerFunc(func(Tick) { panic("boom") }))
	f.add("EURUSD", HandlerFunc(func(Tick) { got = append(got, 2) }))

	require.NotPanics(t, func() {
		f.deliver(Tick{Symbol: "EURUSD", Price: 1.08, Time: 1})
	})
	assert.Equal(t, []int{2}, got, "handler after the panicking one must still run")
}
