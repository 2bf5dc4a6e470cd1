package trade

import (
	"testing"

	"github.com/market-relister/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stableHistory = []float64{540, 545, 550, 555, 560, 550, 545, 555, 560, 550}

// no losses over the last three samples
var risingTail = []float64{545, 560, 548, 556, 550, 552, 549, 553, 554, 555}

func TestResale(t *testing.T) {
	tests := []struct {
		current uint32
		margin  float64
		want    uint32
	}{
		{1000, 10, 1100},
		{500, 10, 550},
		{999, 10, 1099},
		{101, 5, 107},
		{100, 0, 100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Resale(tt.current, tt.margin), "current=%d margin=%v", tt.current, tt.margin)
	}
}

func TestFilterOutliers(t *testing.T) {
	assert.Equal(t, []float64{1, 2, 3, 4}, FilterOutliers([]float64{1, 2, 3, 4, 100}))
	assert.Equal(t, []float64{5, 1, 500}, FilterOutliers([]float64{5, 1, 500}), "short samples are untouched")
	assert.Equal(t, stableHistory, FilterOutliers(stableHistory))
}

func TestFilterOutliersKeepsInputIntact(t *testing.T) {
	in := []float64{100, 1, 2, 3, 4}
	_ = FilterOutliers(in)
	assert.Equal(t, []float64{100, 1, 2, 3, 4}, in)
}

func TestMovingAverage(t *testing.T) {
	assert.InDelta(t, 551.0, MovingAverage(stableHistory, 10), 1e-9)
	assert.InDelta(t, 552.0, MovingAverage(stableHistory, 5), 1e-9)
	assert.Zero(t, MovingAverage([]float64{1, 2}, 5))
}

func TestRSI(t *testing.T) {
	rising := RSI([]float64{1, 2, 3, 4, 5, 6}, 5)
	assert.Equal(t, 100.0, rising.Value)
	assert.False(t, rising.Defined)

	flat := RSI([]float64{3, 3, 3, 3, 3}, 5)
	assert.False(t, flat.Defined)

	mixed := RSI(stableHistory, 5) // 550 545 555 560 550: gains 15, losses 15
	require.True(t, mixed.Defined)
	assert.InDelta(t, 50.0, mixed.Value, 1e-9)

	short := RSI([]float64{1, 2}, 5)
	assert.False(t, short.Defined)
	assert.Zero(t, short.Value)
}

func endToEndThresholds() Thresholds {
	th := DefaultThresholds()
	th.MAWindow = 10
	th.RSIWindow = 10
	return th
}

func TestQualifyEndToEndExample(t *testing.T) {
	e := NewEngine(endToEndThresholds(), 10)

	ev := e.Evaluate(stableHistory, 500)
	assert.True(t, ev.Qualified, ev.Reason)
	assert.Equal(t, uint32(550), ev.Resale)
	assert.InDelta(t, 551.0, ev.MovingAverage, 1e-9)
	assert.Equal(t, 10, ev.Samples)
	assert.NoError(t, ev.Err())
}

func TestQualifyRejectsSmallSamples(t *testing.T) {
	th := endToEndThresholds()
	th.MinSamples = 11
	th.MAWindow = 5
	th.RSIWindow = 5
	th.AcceptUndefinedRSI = true
	th.RSILow = 0
	e := NewEngine(th, 0)

	// every other signal passes for a very cheap item
	assert.False(t, e.Qualify(stableHistory, 1))
}

func TestQualifyRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Thresholds)
		history []float64
		current uint32
	}{
		{"resale above average", nil, stableHistory, 505},
		{"not enough for average", nil, stableHistory[:5], 500},
		{"price above ceiling", func(th *Thresholds) { th.PriceCeiling = 400 }, stableHistory, 500},
		{"price below floor", func(th *Thresholds) { th.PriceFloor = 501 }, stableHistory, 500},
		{"rsi below band", func(th *Thresholds) { th.RSILow = 70 }, stableHistory, 500},
		{"undefined rsi", func(th *Thresholds) { th.RSIWindow = 3 }, risingTail, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := endToEndThresholds()
			if tt.mutate != nil {
				tt.mutate(&th)
			}
			ev := NewEngine(th, 10).Evaluate(tt.history, tt.current)
			assert.False(t, ev.Qualified)
			assert.NotEmpty(t, ev.Reason)

			err := ev.Err()
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrRejected)
			assert.True(t, types.IsKind(err, types.KindRejected))
			assert.Contains(t, err.Error(), ev.Reason)
		})
	}
}

func TestQualifyAcceptsUndefinedRSIWhenConfigured(t *testing.T) {
	th := endToEndThresholds()
	th.RSIWindow = 3
	th.AcceptUndefinedRSI = true
	ev := NewEngine(th, 10).Evaluate(risingTail, 500)
	assert.True(t, ev.Qualified, ev.Reason)
	assert.Equal(t, 100.0, ev.RSI.Value)
}
