package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestOrderBookReplaceAndMid(t *testing.T) {
	ob := NewOrderBook(Scale{})
	ob.Replace(LevelsOf([2]float64{100, 1}, [2]float64{99.5, 2}), LevelsOf([2]float64{101, 1.5}, [2]float64{102, 3}))
	bid, ask := ob.Best()
	if !bid.Equal(d("100")) || !ask.Equal(d("101")) {
		t.Fatalf("unexpected best bid/ask: %s/%s", bid, ask)
	}
	if mid := ob.Mid(); !mid.Equal(d("100.5")) {
		t.Fatalf("unexpected mid %s", mid)
	}
	// 新快照中该档消失
	ob.Replace(LevelsOf([2]float64{99.5, 2}), LevelsOf([2]float64{101, 1.5}))
	bid, _ = ob.Best()
	if !bid.Equal(d("99.5")) {
		t.Fatalf("expected best bid 99.5 got %s", bid)
	}
}

func TestOrderBookReplaceSideKeepsPriorityOrder(t *testing.T) {
	ob := NewOrderBook(Scale{})
	ob.ReplaceSide(Asks, LevelsOf([2]float64{103, 5}, [2]float64{100, 2}, [2]float64{101, 3}, [2]float64{104, 0}))
	ob.ReplaceSide(Bids, LevelsOf([2]float64{98, 1}, [2]float64{99, 4}))

	asks := ob.Ladder(Asks, 0)
	require.Equal(t, 3, asks.Len())
	assert.True(t, asks.Levels[0].Price.Equal(d("100")))
	assert.True(t, asks.Levels[2].Price.Equal(d("103")))

	bids := ob.Ladder(Bids, 1)
	require.Equal(t, 1, bids.Len())
	assert.True(t, bids.Levels[0].Price.Equal(d("99")))

	// 全量替换会丢弃旧档位
	ob.ReplaceSide(Asks, LevelsOf([2]float64{110, 1}))
	nb, na := ob.Depth()
	assert.Equal(t, 2, nb)
	assert.Equal(t, 1, na)
}

func TestOrderBookLadderIsValidSnapshot(t *testing.T) {
	ob := NewOrderBook(Scale{})
	ob.Replace(LevelsOf([2]float64{10, 1}, [2]float64{12, 1}, [2]float64{11, 1}), nil)
	l := ob.Ladder(Bids, 0)
	_, err := NewLadder(Bids, l.Levels, l.Scale)
	require.NoError(t, err)
	_, ask := ob.Best()
	assert.True(t, ask.IsZero())
	assert.True(t, ob.Mid().IsZero())
}

func TestOrderBookScaledBest(t *testing.T) {
	// 现货：base 18 位，quote 6 位
	ob := NewOrderBook(Scale{BaseDecimals: 18, QuoteDecimals: 6})
	ob.Replace(
		[]Level{{Price: d("0.000000000001"), Quantity: d("1000000000000000000")}},
		[]Level{{Price: d("0.000000000002"), Quantity: d("1000000000000000000")}},
	)
	bid, ask := ob.Best()
	assert.True(t, bid.Equal(d("1")), bid.String())
	assert.True(t, ask.Equal(d("2")), ask.String())
}

func TestOrderBookSetScale(t *testing.T) {
	ob := NewOrderBook(Scale{BaseDecimals: 18, QuoteDecimals: 6})
	ob.Replace(nil, []Level{{Price: d("0.02"), Quantity: d("100000000")}})

	ob.SetScale(Scale{BaseDecimals: 8, QuoteDecimals: 6})
	assert.Equal(t, Scale{BaseDecimals: 8, QuoteDecimals: 6}, ob.Scale())
	_, ask := ob.Best()
	assert.True(t, ask.Equal(d("2")), ask.String())
	price, qty := ob.Ladder(Asks, 0).At(0)
	assert.True(t, price.Equal(d("2")), price.String())
	assert.True(t, qty.Equal(d("1")), qty.String())
}
