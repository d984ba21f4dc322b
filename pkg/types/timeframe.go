package types

import "fmt"

// Timeframe is a fixed bucket width. Sub-second variants exist only for
// heatmap cadences; the rest are kline intervals.
type Timeframe uint8

const (
	TimeframeMS100 Timeframe = iota
	TimeframeMS200
	TimeframeMS300
	TimeframeMS500
	TimeframeMS1000
	TimeframeM1
	TimeframeM3
	TimeframeM5
	TimeframeM15
	TimeframeM30
	TimeframeH1
	TimeframeH2
	TimeframeH4
	TimeframeH6
	TimeframeH12
	TimeframeD1
)

// TimeframeKline lists the intervals valid for kline streams.
var TimeframeKline = [11]Timeframe{
	TimeframeM1, TimeframeM3, TimeframeM5, TimeframeM15, TimeframeM30,
	TimeframeH1, TimeframeH2, TimeframeH4, TimeframeH6, TimeframeH12, TimeframeD1,
}

// TimeframeHeatmap lists the cadences valid for heatmap aggregation.
var TimeframeHeatmap = [4]Timeframe{
	TimeframeMS100, TimeframeMS200, TimeframeMS500, TimeframeMS1000,
}

var timeframeMS = map[Timeframe]uint64{
	TimeframeMS100:  100,
	TimeframeMS200:  200,
	TimeframeMS300:  300,
	TimeframeMS500:  500,
	TimeframeMS1000: 1_000,
	TimeframeM1:     60_000,
	TimeframeM3:     180_000,
	TimeframeM5:     300_000,
	TimeframeM15:    900_000,
	TimeframeM30:    1_800_000,
	TimeframeH1:     3_600_000,
	TimeframeH2:     7_200_000,
	TimeframeH4:     14_400_000,
	TimeframeH6:     21_600_000,
	TimeframeH12:    43_200_000,
	TimeframeD1:     86_400_000,
}

var timeframeNames = map[Timeframe]string{
	TimeframeMS100:  "100ms",
	TimeframeMS200:  "200ms",
	TimeframeMS300:  "300ms",
	TimeframeMS500:  "500ms",
	TimeframeMS1000: "1s",
	TimeframeM1:     "1m",
	TimeframeM3:     "3m",
	TimeframeM5:     "5m",
	TimeframeM15:    "15m",
	TimeframeM30:    "30m",
	TimeframeH1:     "1h",
	TimeframeH2:     "2h",
	TimeframeH4:     "4h",
	TimeframeH6:     "6h",
	TimeframeH12:    "12h",
	TimeframeD1:     "1d",
}

func (t Timeframe) String() string {
	if name, ok := timeframeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Timeframe(%d)", uint8(t))
}

// Milliseconds returns the bucket width in ms.
func (t Timeframe) Milliseconds() uint64 {
	return timeframeMS[t]
}

// Minutes returns the interval in minutes; zero for sub-minute cadences.
func (t Timeframe) Minutes() uint16 {
	return uint16(t.Milliseconds() / 60_000)
}

// ParseTimeframe parses the display name ("5m", "1h", "100ms").
func ParseTimeframe(s string) (Timeframe, error) {
	for tf, name := range timeframeNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("invalid timeframe: %q", s)
}

// TimeframeFromMilliseconds resolves a bucket width back to the enum.
func TimeframeFromMilliseconds(ms uint64) (Timeframe, error) {
	for tf, v := range timeframeMS {
		if v == ms {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("invalid milliseconds value for timeframe: %d", ms)
}

// TickCount is the number of trades per bucket in tick-based aggregation.
type TickCount uint64

func (t TickCount) String() string {
	return fmt.Sprintf("%dT", uint64(t))
}

// Basis selects how datapoints are bucketed: by wall-clock interval or by
// trade count.
type Basis struct {
	Time  Timeframe
	Ticks TickCount
	// IsTick distinguishes the zero Timeframe from a tick basis.
	IsTick bool
}

func TimeBasis(tf Timeframe) Basis { return Basis{Time: tf} }
func TickBasis(tc TickCount) Basis { return Basis{Ticks: tc, IsTick: true} }

func (b Basis) String() string {
	if b.IsTick {
		return b.Ticks.String()
	}
	return b.Time.String()
}
