package layout

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "layout.json")

	info := types.NewTickerInfo(types.NewTicker("BTCUSDT", types.BinanceLinear), 0.01, 0.001, nil)
	group := uint8(1)
	state := DefaultState()
	state.Theme = "light"
	state.SizeInQuote = true
	state.Layouts[0].Panes = []PaneState{{
		ID:      uuid.New(),
		Content: "footprint",
		Streams: []stream.PersistStreamKind{
			stream.Persist(stream.KlineStream(info, types.TimeframeM5)),
		},
		LinkGroup:      &group,
		TickMultiplier: 10,
	}}

	if err := Save(path, &state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Theme != "light" || !loaded.SizeInQuote {
		t.Errorf("globals lost: %+v", loaded)
	}

	active, ok := loaded.Active()
	if !ok || len(active.Panes) != 1 {
		t.Fatalf("active layout lost: %+v", loaded.Layouts)
	}
	pane := active.Panes[0]
	if pane.TickMultiplier != 10 || pane.LinkGroup == nil || *pane.LinkGroup != 1 {
		t.Errorf("pane state lost: %+v", pane)
	}
	if len(pane.Streams) != 1 || pane.Streams[0].Kind != "kline" {
		t.Errorf("persisted streams lost: %+v", pane.Streams)
	}

	// Persisted streams resolve back once metadata is available.
	resolved, err := pane.Streams[0].Resolve(func(types.Ticker) (types.TickerInfo, bool) {
		return info, true
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !resolved.IsKline || resolved.Timeframe != types.TimeframeM5 {
		t.Errorf("resolved = %+v", resolved)
	}
}

func TestLoadMissingYieldsDefault(t *testing.T) {
	t.Parallel()
	state, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state.ActiveLayout != "Default" || len(state.Layouts) != 1 {
		t.Errorf("default state = %+v", state)
	}
}

func TestLinkedPanes(t *testing.T) {
	t.Parallel()
	groupA, groupB := uint8(1), uint8(2)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	state := DefaultState()
	state.Layouts[0].Panes = []PaneState{
		{ID: a, LinkGroup: &groupA},
		{ID: b, LinkGroup: &groupA},
		{ID: c, LinkGroup: &groupB},
	}

	linked := state.LinkedPanes(a)
	if len(linked) != 1 || linked[0] != b {
		t.Errorf("linked = %v, want just b", linked)
	}
	if got := state.LinkedPanes(c); got != nil {
		t.Errorf("pane in its own group links to nobody, got %v", got)
	}
}
