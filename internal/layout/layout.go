// Package layout is the persisted application state: named layouts of panes,
// each pane's stream specs in ticker-only form, plus the global UI options.
// State round-trips through JSON; writes are atomic (tmp file then rename).
package layout

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"marketflow/internal/stream"
)

// PaneState is one pane as persisted: identity, content kind and its stream
// specs. Cross-references between linked panes use the UUID plus the link
// group tag, never direct pointers.
type PaneState struct {
	ID        uuid.UUID                  `json:"id"`
	Content   string                     `json:"content"`
	Streams   []stream.PersistStreamKind `json:"streams"`
	LinkGroup *uint8                     `json:"link_group,omitempty"`
	// TickMultiplier is the pane's aggregation step selector.
	TickMultiplier uint16 `json:"tick_multiplier,omitempty"`
}

// Layout is a named arrangement of panes. The layout owns its panes.
type Layout struct {
	Name  string      `json:"name"`
	Panes []PaneState `json:"panes"`
}

// AudioConfig holds the trade-sound settings.
type AudioConfig struct {
	Enabled   bool    `json:"enabled"`
	Volume    float32 `json:"volume"`
	Threshold float32 `json:"threshold"`
}

// State is everything that survives a restart.
type State struct {
	Layouts      []Layout    `json:"layouts"`
	ActiveLayout string      `json:"active_layout"`
	Theme        string      `json:"theme"`
	Timezone     string      `json:"timezone"`
	Sidebar      bool        `json:"sidebar"`
	ScaleFactor  float64     `json:"scale_factor"`
	Audio        AudioConfig `json:"audio"`
	SizeInQuote  bool        `json:"size_in_quote_currency"`
}

// DefaultState is the state of a fresh install.
func DefaultState() State {
	return State{
		Layouts:      []Layout{{Name: "Default"}},
		ActiveLayout: "Default",
		Theme:        "dark",
		Timezone:     "UTC",
		Sidebar:      true,
		ScaleFactor:  1.0,
		Audio:        AudioConfig{Volume: 0.5},
	}
}

// Active returns the active layout, falling back to the first.
func (s *State) Active() (*Layout, bool) {
	for i := range s.Layouts {
		if s.Layouts[i].Name == s.ActiveLayout {
			return &s.Layouts[i], true
		}
	}
	if len(s.Layouts) > 0 {
		return &s.Layouts[0], true
	}
	return nil, false
}

// FindPane locates a pane by id across layouts.
func (s *State) FindPane(id uuid.UUID) (*PaneState, bool) {
	for i := range s.Layouts {
		for j := range s.Layouts[i].Panes {
			if s.Layouts[i].Panes[j].ID == id {
				return &s.Layouts[i].Panes[j], true
			}
		}
	}
	return nil, false
}

// LinkedPanes lists the ids sharing a link group with the given pane.
func (s *State) LinkedPanes(id uuid.UUID) []uuid.UUID {
	pane, ok := s.FindPane(id)
	if !ok || pane.LinkGroup == nil {
		return nil
	}
	group := *pane.LinkGroup

	var linked []uuid.UUID
	for _, l := range s.Layouts {
		for _, p := range l.Panes {
			if p.ID != id && p.LinkGroup != nil && *p.LinkGroup == group {
				linked = append(linked, p.ID)
			}
		}
	}
	return linked
}

// Save writes atomically: the state lands in a tmp file that is renamed over
// the target, so a crash mid-save never corrupts it.
func Save(path string, s *State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores state from disk; a missing file yields the default state.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultState(), nil
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return s, nil
}
