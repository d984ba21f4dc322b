package stream

import (
	"marketflow/pkg/types"
)

// DepthSpec is one deduplicated depth subscription for an exchange.
type DepthSpec struct {
	TickerInfo types.TickerInfo
	DepthAggr  DepthAggr
	PushFreq   types.PushFrequency
}

// KlineSpec is one deduplicated kline subscription for an exchange.
type KlineSpec struct {
	TickerInfo types.TickerInfo
	Timeframe  types.Timeframe
}

// StreamSpecs is the combined subscription set for one exchange, as handed to
// its adapter.
type StreamSpecs struct {
	Depth []DepthSpec
	Kline []KlineSpec
}

// UniqueStreams deduplicates stream subscriptions across panes. Multiple
// consumers sharing a ticker end up with a single upstream subscription.
// The per-exchange spec buckets are recomputed atomically on every add.
type UniqueStreams struct {
	// exchange -> ticker key -> stream key -> stream
	streams map[types.Exchange]map[string]map[string]StreamKind
	specs   map[types.Exchange]StreamSpecs
}

// NewUniqueStreams returns an empty index.
func NewUniqueStreams() *UniqueStreams {
	return &UniqueStreams{
		streams: make(map[types.Exchange]map[string]map[string]StreamKind),
		specs:   make(map[types.Exchange]StreamSpecs),
	}
}

// UniqueStreamsFrom folds an existing stream list into a fresh index.
func UniqueStreamsFrom(streams []StreamKind) *UniqueStreams {
	u := NewUniqueStreams()
	u.Extend(streams)
	return u
}

// Add inserts one stream and recomputes its exchange's bucket.
func (u *UniqueStreams) Add(s StreamKind) {
	exchange := s.TickerInfo.Exchange()

	byTicker, ok := u.streams[exchange]
	if !ok {
		byTicker = make(map[string]map[string]StreamKind)
		u.streams[exchange] = byTicker
	}
	tickerKey := s.TickerInfo.Key()
	set, ok := byTicker[tickerKey]
	if !ok {
		set = make(map[string]StreamKind)
		byTicker[tickerKey] = set
	}
	set[s.key()] = s

	u.updateSpecsForExchange(exchange)
}

// Extend adds every stream in order.
func (u *UniqueStreams) Extend(streams []StreamKind) {
	for _, s := range streams {
		u.Add(s)
	}
}

func (u *UniqueStreams) updateSpecsForExchange(exchange types.Exchange) {
	u.specs[exchange] = StreamSpecs{
		Depth: u.DepthStreams(&exchange),
		Kline: u.KlineStreams(&exchange),
	}
}

func (u *UniqueStreams) eachStream(filter *types.Exchange, f func(StreamKind)) {
	visit := func(exchange types.Exchange) {
		for _, set := range u.streams[exchange] {
			for _, s := range set {
				f(s)
			}
		}
	}
	if filter != nil {
		visit(*filter)
		return
	}
	for _, exchange := range types.ExchangeAll {
		visit(exchange)
	}
}

// DepthStreams lists depth subscriptions, optionally for one exchange.
func (u *UniqueStreams) DepthStreams(filter *types.Exchange) []DepthSpec {
	var specs []DepthSpec
	u.eachStream(filter, func(s StreamKind) {
		if info, aggr, push, ok := s.AsDepthStream(); ok {
			specs = append(specs, DepthSpec{TickerInfo: info, DepthAggr: aggr, PushFreq: push})
		}
	})
	return specs
}

// KlineStreams lists kline subscriptions, optionally for one exchange.
func (u *UniqueStreams) KlineStreams(filter *types.Exchange) []KlineSpec {
	var specs []KlineSpec
	u.eachStream(filter, func(s StreamKind) {
		if info, tf, ok := s.AsKlineStream(); ok {
			specs = append(specs, KlineSpec{TickerInfo: info, Timeframe: tf})
		}
	})
	return specs
}

// Combined returns the per-exchange spec buckets for exchanges that have at
// least one stream.
func (u *UniqueStreams) Combined() map[types.Exchange]StreamSpecs {
	out := make(map[types.Exchange]StreamSpecs, len(u.specs))
	for exchange, specs := range u.specs {
		out[exchange] = specs
	}
	return out
}
