package types

import (
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// priceScale is the number of price units per 1.0. Eight decimal places covers
// the finest tick size any supported venue quotes (MinTicksize floor is 1e-8).
const priceScale = 100_000_000

// Price is a fixed-precision price: a signed count of 1e-8 units.
// Ordering and equality are exact on Units; conversions to and from binary
// floats are explicit and lossy only at the boundary.
type Price struct {
	Units int64
}

// PriceFromF32 converts a float price into fixed-precision units. The float is
// read through its shortest decimal form, then rounded to the nearest unit, so
// a step-rounded price survives the trip through ToF32Lossy whenever float32
// holds its significant digits.
func PriceFromF32(v float32) Price {
	d, err := strconv.ParseFloat(strconv.FormatFloat(float64(v), 'f', -1, 32), 64)
	if err != nil {
		d = float64(v)
	}
	return Price{Units: int64(math.Round(d * priceScale))}
}

// ToF32Lossy converts back to a float. Exact for any price that is a multiple
// of a step with at most 8 decimal places, within float32 tolerance.
func (p Price) ToF32Lossy() float32 {
	return float32(float64(p.Units) / priceScale)
}

// Less reports whether p orders strictly before other.
func (p Price) Less(other Price) bool {
	return p.Units < other.Units
}

// Cmp returns -1, 0 or 1 comparing p to other.
func (p Price) Cmp(other Price) int {
	switch {
	case p.Units < other.Units:
		return -1
	case p.Units > other.Units:
		return 1
	default:
		return 0
	}
}

// RoundToStep rounds to the nearest multiple of step.
// An exact half-step rounds up.
func (p Price) RoundToStep(step PriceStep) Price {
	s := step.Units
	return Price{Units: floorDiv(2*p.Units+s, 2*s) * s}
}

// RoundToSideStep floors for the sell side and ceils for the buy side,
// introducing side bias at bin boundaries. Used by ladder-style consumers.
func (p Price) RoundToSideStep(isSell bool, step PriceStep) Price {
	s := step.Units
	if isSell {
		return Price{Units: floorDiv(p.Units, s) * s}
	}
	return Price{Units: ceilDiv(p.Units, s) * s}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) == (b < 0) {
		q++
	}
	return q
}

// AddSteps adds n steps (n may be negative), saturating on overflow.
func (p Price) AddSteps(n int64, step PriceStep) Price {
	delta := n * step.Units
	sum := p.Units + delta
	// saturate on signed overflow
	if n > 0 && sum < p.Units {
		return Price{Units: math.MaxInt64}
	}
	if n < 0 && sum > p.Units {
		return Price{Units: math.MinInt64}
	}
	return Price{Units: sum}
}

// StepsBetweenInclusive counts step multiples in [low, high].
// Returns false when low > high.
func StepsBetweenInclusive(low, high Price, step PriceStep) (int64, bool) {
	if low.Units > high.Units {
		return 0, false
	}
	first := ceilDiv(low.Units, step.Units)
	last := floorDiv(high.Units, step.Units)
	if last < first {
		return 0, true
	}
	return last - first + 1, true
}

// Display formats the price with the decimal places implied by the
// ticker's minimum tick size.
func (p Price) Display(mts MinTicksize) string {
	decimals := 0
	if mts.Power < 0 {
		decimals = int(-mts.Power)
	}
	return strconv.FormatFloat(float64(p.Units)/priceScale, 'f', decimals, 64)
}

func (p Price) String() string {
	return strconv.FormatFloat(float64(p.Units)/priceScale, 'f', -1, 64)
}

// PriceStep is a positive price quantum, in the same 1e-8 units as Price.
type PriceStep struct {
	Units int64
}

// PriceStepFromF32 converts a float step. Fails only on non-positive input;
// callers validate upstream so a zero step never reaches the rounding helpers.
func PriceStepFromF32(v float32) (PriceStep, error) {
	if v <= 0 {
		return PriceStep{}, fmt.Errorf("price step must be positive, got %v", v)
	}
	return PriceStep{Units: int64(math.Round(float64(v) * priceScale))}, nil
}

// MustPriceStep is PriceStepFromF32 for statically known positive values.
func MustPriceStep(v float32) PriceStep {
	step, err := PriceStepFromF32(v)
	if err != nil {
		panic(err)
	}
	return step
}

// ToF32Lossy converts the step back to a float.
func (s PriceStep) ToF32Lossy() float32 {
	return float32(float64(s.Units) / priceScale)
}

// Less orders steps by their underlying unit count.
func (s PriceStep) Less(other PriceStep) bool {
	return s.Units < other.Units
}

// TickMultiplier is an integer factor applied to a ticker's minimum tick size
// to derive the aggregation step used by a display or aggregator.
type TickMultiplier uint16

// TickMultiplierAll is the preset multiplier list offered in the UI.
var TickMultiplierAll = [9]TickMultiplier{1, 2, 5, 10, 25, 50, 100, 200, 500}

func (m TickMultiplier) String() string {
	return fmt.Sprintf("%dx", uint16(m))
}

// IsCustom reports whether the multiplier is outside the preset list.
func (m TickMultiplier) IsCustom() bool {
	for _, preset := range TickMultiplierAll {
		if m == preset {
			return false
		}
	}
	return true
}

// Base recovers the un-multiplied value from a scaled one.
func (m TickMultiplier) Base(scaled float32) float32 {
	decimals := int(math.Ceil(-math.Log10(float64(scaled)))) + 2
	factor := math.Pow(10, float64(decimals))
	return float32(math.Round(float64(scaled)*factor/float64(m)) / factor)
}

// MultiplyWithMinTickSize returns the aggregation step for the multiplier,
// computed with decimal-exact multiplication and rounded to the tick size's
// decimal-place count so 0.01 * 5 is exactly 0.05 rather than 0.049999...
func (m TickMultiplier) MultiplyWithMinTickSize(info TickerInfo) PriceStep {
	minTick := info.MinTicksize.AsF32()

	product := decimal.NewFromInt(int64(m)).Mul(decimal.NewFromFloat32(minTick))
	places := decimalPlaces(minTick)
	rounded, _ := product.Round(places).Float64()

	step, err := PriceStepFromF32(float32(rounded))
	if err != nil {
		// minTick > 0 is a TickerInfo invariant, so the product is positive;
		// fall back to plain multiplication.
		return PriceStep{Units: int64(m) * int64(math.Round(float64(minTick)*priceScale))}
	}
	return step
}

func decimalPlaces(v float32) int32 {
	s := strconv.FormatFloat(float64(v), 'f', -1, 32)
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return int32(len(s) - i - 1)
		}
	}
	return 0
}
