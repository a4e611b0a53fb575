package portfolio

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestExecuteBlendsAverageOnSameDirection(t *testing.T) {
	l := NewLedger(d("100000"))

	_, err := l.Execute("EURUSD", d("1000"), d("1.0800"))
	require.NoError(t, err)
	_, err = l.Execute("EURUSD", d("500"), d("1.0900"))
	require.NoError(t, err)

	pos, ok := l.Position("EURUSD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("1500")), "quantity = %s", pos.Quantity)

	// (1000*1.0800 + 500*1.0900) / 1500
	want := d("1.0800").Mul(d("1000")).Add(d("1.0900").Mul(d("500"))).Div(d("1500"))
	assert.True(t, pos.AveragePrice.Equal(want), "average = %s, want %s", pos.AveragePrice, want)
	assert.Equal(t, "1.08333", pos.AveragePrice.Round(5).String())
}

func TestExecuteDirectionFlipResetsAverage(t *testing.T) {
	l := NewLedger(d("100000"))

	_, err := l.Execute("EURUSD", d("1000"), d("1.0800"))
	require.NoError(t, err)
	_, err = l.Execute("EURUSD", d("-1500"), d("1.0900"))
	require.NoError(t, err)

	pos, ok := l.Position("EURUSD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("-500")), "quantity = %s", pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(d("1.0900")), "average = %s", pos.AveragePrice)

	// 100000 - 1000*1.0800 + 1500*1.0900
	wantCash := d("100000").Sub(d("1080")).Add(d("1635"))
	assert.True(t, l.Cash().Equal(wantCash), "cash = %s, want %s", l.Cash(), wantCash)
}

func TestExecuteExactCloseRemovesPosition(t *testing.T) {
	l := NewLedger(d("100000"))

	_, err := l.Execute("EURUSD", d("1000"), d("1.0800"))
	require.NoError(t, err)
	_, err = l.Execute("EURUSD", d("-1000"), d("1.0850"))
	require.NoError(t, err)

	_, ok := l.Position("EURUSD")
	assert.False(t, ok, "position should be removed on exact close")
	assert.Empty(t, l.Positions())

	// 100000 - 1080 + 1085
	assert.True(t, l.Cash().Equal(d("100005")), "cash = %s", l.Cash())
}

func TestExecuteCashDelta(t *testing.T) {
	l := NewLedger(d("500"))

	_, err := l.Execute("USDJPY", d("2"), d("151.25"))
	require.NoError(t, err)
	assert.True(t, l.Cash().Equal(d("197.5")), "cash = %s", l.Cash())

	// Cash may go negative; there is no margin check.
	_, err = l.Execute("USDJPY", d("2"), d("151.25"))
	require.NoError(t, err)
	assert.True(t, l.Cash().Equal(d("-105")), "cash = %s", l.Cash())
}

func TestPositionExistsIffQuantityNonZero(t *testing.T) {
	l := NewLedger(d("100000"))

	steps := []struct {
		qty   string
		price string
	}{
		{"100", "1.10"},
		{"-40", "1.12"},
		{"-60", "1.08"},  // back to flat
		{"-25", "1.11"},  // open short
		{"50", "1.09"},   // flip long
		{"-25", "1.095"}, // flat again
	}

	for i, step := range steps {
		_, err := l.Execute("GBPUSD", d(step.qty), d(step.price))
		require.NoError(t, err, "step %d", i)

		pos, ok := l.Position("GBPUSD")
		if ok {
			assert.False(t, pos.Quantity.IsZero(), "step %d: held position has zero quantity", i)
		}
	}

	_, ok := l.Position("GBPUSD")
	assert.False(t, ok, "expected flat at end of sequence")
}

func TestExecuteRejectsInvalidOrders(t *testing.T) {
	l := NewLedger(d("100000"))

	_, err := l.Execute("EURUSD", d("1000"), d("0"))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = l.Execute("EURUSD", d("1000"), d("-1.08"))
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = l.Execute("EURUSD", d("0"), d("1.08"))
	assert.ErrorIs(t, err, ErrZeroQuantity)

	// No state change from rejected orders.
	assert.True(t, l.Cash().Equal(d("100000")))
	assert.Empty(t, l.Positions())
	assert.Empty(t, l.Trades(0))
}

func TestTradeLogMostRecentFirst(t *testing.T) {
	l := NewLedger(d("100000"))

	_, err := l.Execute("EURUSD", d("100"), d("1.08"))
	require.NoError(t, err)
	_, err = l.Execute("GBPUSD", d("-50"), d("1.26"))
	require.NoError(t, err)
	_, err = l.Execute("USDJPY", d("10"), d("151.40"))
	require.NoError(t, err)

	trades := l.Trades(0)
	require.Len(t, trades, 3)
	assert.Equal(t, "USDJPY", trades[0].Symbol)
	assert.Equal(t, "GBPUSD", trades[1].Symbol)
	assert.Equal(t, "EURUSD", trades[2].Symbol)

	assert.Equal(t, SideSell, trades[1].Side)
	assert.True(t, trades[1].Quantity.Equal(d("50")), "quantity is the unsigned magnitude")
	assert.Equal(t, SideBuy, trades[0].Side)

	limited := l.Trades(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "USDJPY", limited[0].Symbol)

	ids := map[string]bool{}
	for _, tr := range trades {
		assert.NotEmpty(t, tr.ID)
		assert.False(t, ids[tr.ID], "trade ids must be unique")
		ids[tr.ID] = true
	}
}

func TestExecuteSerializesConcurrentOrders(t *testing.T) {
	l := NewLedger(d("100000"))

	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := l.Execute("EURUSD", d("1"), d("1.10"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pos, ok := l.Position("EURUSD")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(d("64")), "quantity = %s", pos.Quantity)
	assert.True(t, pos.AveragePrice.Equal(d("1.10")), "average = %s", pos.AveragePrice)

	wantCash := d("100000").Sub(d("1.10").Mul(d("64")))
	assert.True(t, l.Cash().Equal(wantCash), "cash = %s, want %s", l.Cash(), wantCash)
	assert.Len(t, l.Trades(0), n)
}
