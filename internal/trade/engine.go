package trade

import (
	"errors"
	"fmt"
	"sort"

	"github.com/market-relister/internal/types"
	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"
)

// Thresholds tunes the qualification filter. All values come from configuration.
type Thresholds struct {
	MinSamples         int     `json:"min_samples" yaml:"min_samples"`
	RSILow             float64 `json:"rsi_low" yaml:"rsi_low"`
	RSIHigh            float64 `json:"rsi_high" yaml:"rsi_high"`
	AcceptUndefinedRSI bool    `json:"accept_undefined_rsi" yaml:"accept_undefined_rsi"`
	PriceFloor         float64 `json:"price_floor" yaml:"price_floor"`
	PriceCeiling       float64 `json:"price_ceiling" yaml:"price_ceiling"`
	MAWindow           int     `json:"ma_window" yaml:"ma_window"`
	RSIWindow          int     `json:"rsi_window" yaml:"rsi_window"`
}

// DefaultThresholds mirrors the strategy the bot has been run with
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSamples:   10,
		RSILow:       50,
		RSIHigh:      100,
		PriceFloor:   0,
		PriceCeiling: 1990,
		MAWindow:     5,
		RSIWindow:    5,
	}
}

// RSIValue is a relative strength reading. Defined is false when the
// window had no losses (the gain/loss ratio has no finite value) or
// when there were not enough samples.
type RSIValue struct {
	Value   float64
	Defined bool
}

// Evaluation is the full outcome of one qualification
type Evaluation struct {
	Qualified     bool
	Resale        uint32
	MovingAverage float64
	RSI           RSIValue
	Samples       int
	Reason        string
}

// Engine evaluates buy candidates against price history
type Engine struct {
	thresholds Thresholds
	margin     float64
}

// NewEngine creates an engine with a desired resale margin in percent
func NewEngine(thresholds Thresholds, marginPercent float64) *Engine {
	return &Engine{thresholds: thresholds, margin: marginPercent}
}

// Thresholds returns the engine's configured thresholds
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// Margin returns the resale margin in percent
func (e *Engine) Margin() float64 { return e.margin }

// FilterOutliers drops values outside the 1.5*IQR fence. Samples shorter
// than four values are returned unchanged. Input order is preserved.
func FilterOutliers(history []float64) []float64 {
	out := make([]float64, len(history))
	copy(out, history)
	if len(history) < 4 {
		return out
	}

	sorted := make([]float64, len(history))
	copy(sorted, history)
	sort.Float64s(sorted)

	q1 := sorted[len(sorted)/4]
	q3 := sorted[len(sorted)*3/4]
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	kept := out[:0]
	for _, v := range out {
		if v >= lower && v <= upper {
			kept = append(kept, v)
		}
	}
	return kept
}

// MovingAverage is the mean of the most recent window samples, or 0 when
// fewer than window samples exist
func MovingAverage(history []float64, window int) float64 {
	if window <= 0 || len(history) < window {
		return 0
	}
	return stat.Mean(history[len(history)-window:], nil)
}

// RSI computes the relative strength index over the most recent window samples
func RSI(history []float64, window int) RSIValue {
	if window < 2 || len(history) < window {
		return RSIValue{}
	}

	recent := history[len(history)-window:]
	var gains, losses float64
	for i := 1; i < len(recent); i++ {
		diff := recent[i] - recent[i-1]
		if diff > 0 {
			gains += diff
		} else {
			losses -= diff
		}
	}

	if losses == 0 {
		if gains == 0 {
			return RSIValue{Value: 50}
		}
		return RSIValue{Value: 100}
	}

	rs := gains / losses
	return RSIValue{Value: 100 - 100/(1+rs), Defined: true}
}

// Resale is ceil(current * (1 + margin/100)) computed without float drift
func Resale(current uint32, marginPercent float64) uint32 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(marginPercent).Div(decimal.NewFromInt(100)))
	price := decimal.NewFromInt(int64(current)).Mul(factor).Ceil()
	return uint32(price.IntPart())
}

// Evaluate runs the full qualification and reports every intermediate signal
func (e *Engine) Evaluate(history []float64, current uint32) Evaluation {
	th := e.thresholds
	filtered := FilterOutliers(history)

	ev := Evaluation{
		Resale:        Resale(current, e.margin),
		MovingAverage: MovingAverage(filtered, th.MAWindow),
		RSI:           RSI(filtered, th.RSIWindow),
		Samples:       len(filtered),
	}

	price := float64(current)
	switch {
	case ev.MovingAverage == 0:
		ev.Reason = "moving average unavailable"
	case float64(ev.Resale) >= ev.MovingAverage:
		ev.Reason = fmt.Sprintf("resale %d not below moving average %.2f", ev.Resale, ev.MovingAverage)
	case ev.Samples < th.MinSamples:
		ev.Reason = fmt.Sprintf("only %d samples, need %d", ev.Samples, th.MinSamples)
	case price < th.PriceFloor || price > th.PriceCeiling:
		ev.Reason = fmt.Sprintf("price %d outside [%.0f, %.0f]", current, th.PriceFloor, th.PriceCeiling)
	case !ev.RSI.Defined && !th.AcceptUndefinedRSI:
		ev.Reason = "rsi undefined"
	case ev.RSI.Value < th.RSILow || ev.RSI.Value > th.RSIHigh:
		ev.Reason = fmt.Sprintf("rsi %.2f outside [%.0f, %.0f]", ev.RSI.Value, th.RSILow, th.RSIHigh)
	default:
		ev.Qualified = true
	}
	return ev
}

// Err is nil for a qualified item and a rejection matching types.ErrRejected otherwise
func (ev Evaluation) Err() error {
	if ev.Qualified {
		return nil
	}
	return types.E(types.KindRejected, types.ErrRejected.Op, errors.New(ev.Reason))
}

// Qualify reports whether current is a buy against history
func (e *Engine) Qualify(history []float64, current uint32) bool {
	return e.Evaluate(history, current).Qualified
}
