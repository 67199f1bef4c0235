package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/errors"
)

func TestDateOfTruncatesToUTCDay(t *testing.T) {
	ts := time.Date(2025, time.March, 14, 23, 59, 59, 0, time.FixedZone("JST", 9*3600))
	d := DateOf(ts)
	// 23:59 JST is 14:59 UTC on the same day.
	assert.Equal(t, Date{Year: 2025, Month: time.March, Day: 14}, d)
	assert.Equal(t, "2025-03-14", d.String())
}

func TestDateOrdering(t *testing.T) {
	d := Date{Year: 2025, Month: time.December, Day: 31}
	next := d.Next()
	assert.Equal(t, Date{Year: 2026, Month: time.January, Day: 1}, next)
	assert.True(t, d.Before(next))
	assert.False(t, next.Before(d))
	assert.False(t, d.Before(d))
}

func TestTradeValidate(t *testing.T) {
	valid := Trade{
		TradeID:    "t-1",
		OrderID:    "o-1",
		StrategyID: "alpha",
		Symbol:     "XYZ",
		Ts:         time.Now().UnixNano(),
		Side:       SideBuy,
		Qty:        10,
		Price:      100,
	}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.Qty = 0
	assert.True(t, errors.IsValidation(bad.Validate()))

	bad = valid
	bad.Price = -1
	assert.True(t, errors.IsValidation(bad.Validate()))

	bad = valid
	bad.Side = SideUnknown
	assert.True(t, errors.IsValidation(bad.Validate()))

	bad = valid
	bad.Fee = -0.01
	assert.True(t, errors.IsValidation(bad.Validate()))
}

func TestOrderValidatePriceRule(t *testing.T) {
	order := Order{
		OrderID:    "o-1",
		StrategyID: "alpha",
		Symbol:     "XYZ",
		Ts:         1,
		Side:       SideBuy,
		Type:       OrderTypeLimit,
		Status:     OrderStatusNew,
		Qty:        5,
	}
	// Limit order without a price is malformed.
	assert.True(t, errors.IsValidation(order.Validate()))

	order.HasPrice = true
	order.Price = 101.5
	require.NoError(t, order.Validate())

	market := order
	market.Type = OrderTypeMarket
	market.HasPrice = false
	market.Price = 0
	require.NoError(t, market.Validate())
}

func TestBarValidateEnvelope(t *testing.T) {
	bar := Bar{Symbol: "XYZ", Ts: 1, Open: 10, High: 12, Low: 9, Close: 11, Volume: 100}
	require.NoError(t, bar.Validate())

	bad := bar
	bad.High = 10.5 // below close
	assert.True(t, errors.IsValidation(bad.Validate()))

	bad = bar
	bad.Low = 10.5 // above open
	assert.True(t, errors.IsValidation(bad.Validate()))
}
