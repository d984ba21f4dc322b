package engine

import (
	"context"

	"github.com/google/uuid"

	"marketflow/internal/depth"
	"marketflow/internal/series"
	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

// PaneContent selects what a pane renders, which decides how events fan out
// into its aggregation state.
type PaneContent uint8

const (
	CandlestickPane PaneContent = iota
	FootprintPane
	HeatmapPane
	TimeAndSalesPane
)

func (c PaneContent) String() string {
	switch c {
	case CandlestickPane:
		return "candlestick"
	case FootprintPane:
		return "footprint"
	case HeatmapPane:
		return "heatmap"
	case TimeAndSalesPane:
		return "time_and_sales"
	default:
		return "unknown"
	}
}

// timeAndSalesCap bounds the rolling trade tape.
const timeAndSalesCap = 2000

// LinkGroup tags panes that move together when one changes ticker.
type LinkGroup uint8

// Pane owns the aggregation state for one chart. Panes reference themselves
// and each other by UUID only; the engine's registry is the single owner.
// Pane state is mutated by the dispatcher, which handles events one at a time
// under the registry's read lock, and by history merges under its write lock,
// so the two never interleave.
type Pane struct {
	ID      uuid.UUID
	Content PaneContent
	Streams stream.ResolvedStream
	Link    *LinkGroup

	// Candlestick / footprint state.
	Timeseries *series.TimeSeries[*series.KlineDataPoint]
	TickAggr   *series.TickAggr

	// Heatmap state.
	HeatmapSeries *series.TimeSeries[*depth.HeatmapDataPoint]
	Depth         *depth.HistoricalDepth

	// Time & sales tape, newest last.
	Tape []types.Trade

	LastPrice types.Price

	// fetchCancel aborts the in-flight history fetch when the pane's stream
	// is replaced or the pane closes; the result is then discarded.
	fetchCancel context.CancelFunc
}

// NewPane builds an empty pane of the given content kind.
func NewPane(content PaneContent) *Pane {
	return &Pane{ID: uuid.New(), Content: content}
}

// CancelFetch aborts any in-flight history fetch.
func (p *Pane) CancelFetch() {
	if p.fetchCancel != nil {
		p.fetchCancel()
		p.fetchCancel = nil
	}
}

// pushTape appends trades to the tape, trimming the oldest past the cap.
func (p *Pane) pushTape(trades []types.Trade) {
	p.Tape = append(p.Tape, trades...)
	if overflow := len(p.Tape) - timeAndSalesCap; overflow > 0 {
		p.Tape = append(p.Tape[:0], p.Tape[overflow:]...)
	}
}
