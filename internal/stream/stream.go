// Package stream defines logical subscription specs and their lifecycle.
//
// A StreamKind is either a kline stream or a combined depth+trades stream with
// an aggregation and push-frequency policy. Panes persist streams in ticker-only
// form (PersistStreamKind) and resolve them to full StreamKinds once ticker
// metadata is available; ResolvedStream models the two states explicitly so a
// stream is never half-resolved.
package stream

import (
	"encoding/json"
	"fmt"

	"marketflow/pkg/types"
)

// DepthAggr selects where book aggregation happens: client-side, or on the
// exchange with a tick multiplier.
type DepthAggr struct {
	ServerSide bool
	Multiplier types.TickMultiplier
}

func (d DepthAggr) String() string {
	if d.ServerSide {
		return "server " + d.Multiplier.String()
	}
	return "client"
}

// StreamKind is a resolved subscription: it carries full ticker metadata.
type StreamKind struct {
	// IsKline selects between the two variants.
	IsKline    bool
	TickerInfo types.TickerInfo

	// Kline variant.
	Timeframe types.Timeframe

	// DepthAndTrades variant.
	DepthAggr DepthAggr
	PushFreq  types.PushFrequency
}

// KlineStream builds the kline variant.
func KlineStream(info types.TickerInfo, tf types.Timeframe) StreamKind {
	return StreamKind{IsKline: true, TickerInfo: info, Timeframe: tf}
}

// DepthStream builds the depth+trades variant.
func DepthStream(info types.TickerInfo, aggr DepthAggr, push types.PushFrequency) StreamKind {
	return StreamKind{TickerInfo: info, DepthAggr: aggr, PushFreq: push}
}

// AsKlineStream returns the kline parameters when this is a kline stream.
func (s StreamKind) AsKlineStream() (types.TickerInfo, types.Timeframe, bool) {
	if !s.IsKline {
		return types.TickerInfo{}, 0, false
	}
	return s.TickerInfo, s.Timeframe, true
}

// AsDepthStream returns the depth parameters when this is a depth stream.
func (s StreamKind) AsDepthStream() (types.TickerInfo, DepthAggr, types.PushFrequency, bool) {
	if s.IsKline {
		return types.TickerInfo{}, DepthAggr{}, types.PushFrequency{}, false
	}
	return s.TickerInfo, s.DepthAggr, s.PushFreq, true
}

func (s StreamKind) String() string {
	sym := s.TickerInfo.Ticker.Symbol()
	if s.IsKline {
		return fmt.Sprintf("kline %s %s", sym, s.Timeframe)
	}
	return fmt.Sprintf("depth %s %s", sym, s.DepthAggr)
}

// key gives StreamKind set semantics inside UniqueStreams.
func (s StreamKind) key() string {
	if s.IsKline {
		return fmt.Sprintf("k|%s|%s", s.TickerInfo.Key(), s.Timeframe)
	}
	return fmt.Sprintf("d|%s|%s|%s", s.TickerInfo.Key(), s.DepthAggr, s.PushFreq)
}

// PersistStreamKind is the persisted form: ticker only, no runtime metadata.
type PersistStreamKind struct {
	Kind      string               `json:"kind"` // "kline" or "depth_and_trades"
	Ticker    types.Ticker         `json:"ticker"`
	Timeframe string               `json:"timeframe,omitempty"`
	DepthAggr *PersistDepthAggr    `json:"depth_aggr,omitempty"`
	PushFreq  *PersistPushFreq     `json:"push_freq,omitempty"`
}

// PersistDepthAggr mirrors DepthAggr for persistence.
type PersistDepthAggr struct {
	ServerSide bool                 `json:"server_side"`
	Multiplier types.TickMultiplier `json:"multiplier,omitempty"`
}

// PersistPushFreq mirrors types.PushFrequency for persistence.
type PersistPushFreq struct {
	Custom   bool   `json:"custom"`
	Interval string `json:"interval,omitempty"`
}

// Persist strips the runtime metadata off a StreamKind.
func Persist(s StreamKind) PersistStreamKind {
	if s.IsKline {
		return PersistStreamKind{
			Kind:      "kline",
			Ticker:    s.TickerInfo.Ticker,
			Timeframe: s.Timeframe.String(),
		}
	}
	p := PersistStreamKind{
		Kind:   "depth_and_trades",
		Ticker: s.TickerInfo.Ticker,
		DepthAggr: &PersistDepthAggr{
			ServerSide: s.DepthAggr.ServerSide,
			Multiplier: s.DepthAggr.Multiplier,
		},
	}
	if s.PushFreq.Custom {
		p.PushFreq = &PersistPushFreq{Custom: true, Interval: s.PushFreq.Interval.String()}
	}
	return p
}

// Resolver maps a ticker to its metadata; nil result means not yet known.
type Resolver func(types.Ticker) (types.TickerInfo, bool)

// Resolve converts the persisted form back to a runtime StreamKind.
// Fails when the resolver has no metadata for the ticker, so the caller can
// retry after the next ticker-info refresh.
func (p PersistStreamKind) Resolve(resolver Resolver) (StreamKind, error) {
	info, ok := resolver(p.Ticker)
	if !ok {
		return StreamKind{}, fmt.Errorf("ticker info not found for %s", p.Ticker.Symbol())
	}
	switch p.Kind {
	case "kline":
		tf, err := types.ParseTimeframe(p.Timeframe)
		if err != nil {
			return StreamKind{}, err
		}
		return KlineStream(info, tf), nil
	case "depth_and_trades":
		var aggr DepthAggr
		if p.DepthAggr != nil {
			aggr = DepthAggr{ServerSide: p.DepthAggr.ServerSide, Multiplier: p.DepthAggr.Multiplier}
		}
		var push types.PushFrequency
		if p.PushFreq != nil && p.PushFreq.Custom {
			tf, err := types.ParseTimeframe(p.PushFreq.Interval)
			if err != nil {
				return StreamKind{}, err
			}
			push = types.PushFrequency{Custom: true, Interval: tf}
		}
		return DepthStream(info, aggr, push), nil
	default:
		return StreamKind{}, fmt.Errorf("unknown persisted stream kind %q", p.Kind)
	}
}

// ResolvedStream is the two-state lifecycle of a pane's streams: Waiting holds
// persisted specs pending resolution, Ready holds fully resolved streams.
// Only Waiting is ever serialized.
type ResolvedStream struct {
	waiting []PersistStreamKind
	ready   []StreamKind
	isReady bool
}

// Waiting wraps persisted specs pending resolution.
func Waiting(specs []PersistStreamKind) ResolvedStream {
	return ResolvedStream{waiting: specs}
}

// Ready wraps resolved streams.
func Ready(streams []StreamKind) ResolvedStream {
	return ResolvedStream{ready: streams, isReady: true}
}

// IsReady reports whether the streams are resolved.
func (r *ResolvedStream) IsReady() bool { return r.isReady }

// RebuildReadyFrom replaces the resolved set.
func (r *ResolvedStream) RebuildReadyFrom(streams []StreamKind) {
	r.ready = append(r.ready[:0], streams...)
	r.waiting = nil
	r.isReady = true
}

// MatchesStream reports whether the resolved set contains the stream.
// Waiting streams never match.
func (r *ResolvedStream) MatchesStream(s StreamKind) bool {
	if !r.isReady {
		return false
	}
	for _, existing := range r.ready {
		if existing == s {
			return true
		}
	}
	return false
}

// ReadyStreams returns the resolved streams, or nil while waiting.
func (r *ResolvedStream) ReadyStreams() []StreamKind {
	if !r.isReady {
		return nil
	}
	return r.ready
}

// WaitingToResolve returns the persisted specs, or nil once resolved.
func (r *ResolvedStream) WaitingToResolve() []PersistStreamKind {
	if r.isReady {
		return nil
	}
	return r.waiting
}

// IntoWaiting converts to the persisted form regardless of state.
func (r *ResolvedStream) IntoWaiting() []PersistStreamKind {
	if !r.isReady {
		return r.waiting
	}
	persisted := make([]PersistStreamKind, 0, len(r.ready))
	for _, s := range r.ready {
		persisted = append(persisted, Persist(s))
	}
	return persisted
}

// TryResolve resolves all waiting specs at once. Either every spec resolves
// and the state flips to Ready, or the state is left untouched: a stream is
// never partially resolved.
func (r *ResolvedStream) TryResolve(resolver Resolver) error {
	if r.isReady {
		return nil
	}
	resolved := make([]StreamKind, 0, len(r.waiting))
	for _, spec := range r.waiting {
		s, err := spec.Resolve(resolver)
		if err != nil {
			return err
		}
		resolved = append(resolved, s)
	}
	r.ready = resolved
	r.waiting = nil
	r.isReady = true
	return nil
}

// MarshalJSON always persists the Waiting form.
func (r ResolvedStream) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.IntoWaiting())
}

// UnmarshalJSON restores to the Waiting state.
func (r *ResolvedStream) UnmarshalJSON(b []byte) error {
	var specs []PersistStreamKind
	if err := json.Unmarshal(b, &specs); err != nil {
		return err
	}
	*r = Waiting(specs)
	return nil
}
