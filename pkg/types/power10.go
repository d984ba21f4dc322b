package types

import (
	"math"
	"strconv"
)

// powerOfTen is 10^Power for a Power clamped to a range. The three aliases
// below fix the ranges used by ticker metadata. Values (de)serialize as plain
// decimals (0.01, 1, 10) and are reconstructed by rounding log10 and
// re-clamping, so reading 0.01 always yields power -2.
type powerOfTen struct {
	Power int8
}

func clampPower(power, min, max int8) int8 {
	if power < min {
		return min
	}
	if power > max {
		return max
	}
	return power
}

func powerFromF32(v float32, min, max int8) int8 {
	if v <= 0 {
		return 0
	}
	rounded := int8(math.Round(math.Log10(math.Abs(float64(v)))))
	return clampPower(rounded, min, max)
}

func powerAsF32(power int8) float32 {
	return float32(math.Pow(10, float64(power)))
}

func formatPower(power int8) string {
	return strconv.FormatFloat(math.Pow(10, float64(power)), 'f', -1, 32)
}

// ContractSize is 10^k for k in [-1, 6].
type ContractSize struct{ Power int8 }

func ContractSizeFromF32(v float32) ContractSize {
	return ContractSize{Power: powerFromF32(v, -1, 6)}
}

func (c ContractSize) AsF32() float32 { return powerAsF32(c.Power) }

func (c ContractSize) MarshalJSON() ([]byte, error) { return []byte(formatPower(c.Power)), nil }

func (c *ContractSize) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 32)
	if err != nil {
		return err
	}
	c.Power = powerFromF32(float32(v), -1, 6)
	return nil
}

// MinTicksize is 10^k for k in [-8, 2].
type MinTicksize struct{ Power int8 }

func MinTicksizeFromF32(v float32) MinTicksize {
	return MinTicksize{Power: powerFromF32(v, -8, 2)}
}

func (m MinTicksize) AsF32() float32 { return powerAsF32(m.Power) }

// Step returns the tick size as a PriceStep.
func (m MinTicksize) Step() PriceStep {
	return PriceStep{Units: int64(math.Round(float64(m.AsF32()) * priceScale))}
}

func (m MinTicksize) MarshalJSON() ([]byte, error) { return []byte(formatPower(m.Power)), nil }

func (m *MinTicksize) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 32)
	if err != nil {
		return err
	}
	m.Power = powerFromF32(float32(v), -8, 2)
	return nil
}

// MinQtySize is 10^k for k in [-6, 8].
type MinQtySize struct{ Power int8 }

func MinQtySizeFromF32(v float32) MinQtySize {
	return MinQtySize{Power: powerFromF32(v, -6, 8)}
}

func (m MinQtySize) AsF32() float32 { return powerAsF32(m.Power) }

func (m MinQtySize) MarshalJSON() ([]byte, error) { return []byte(formatPower(m.Power)), nil }

func (m *MinQtySize) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseFloat(string(b), 32)
	if err != nil {
		return err
	}
	m.Power = powerFromF32(float32(v), -6, 8)
	return nil
}
