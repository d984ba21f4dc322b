// Package adapter defines the exchange event-source contract and the
// concrete venue adapters. Adapters own their sockets and REST clients and
// deliver normalized events; everything downstream is venue-agnostic.
package adapter

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

// ErrorKind classifies adapter failures.
type ErrorKind uint8

const (
	ErrFetch ErrorKind = iota
	ErrParse
	ErrWebsocket
	ErrInvalidRequest
)

func (k ErrorKind) String() string {
	switch k {
	case ErrFetch:
		return "fetch"
	case ErrParse:
		return "parse"
	case ErrWebsocket:
		return "websocket"
	case ErrInvalidRequest:
		return "invalid request"
	default:
		return "unknown"
	}
}

// Error is a classified adapter failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// EventKind tags adapter events.
type EventKind uint8

const (
	Connected EventKind = iota
	Disconnected
	DepthReceived
	KlineReceived
)

// Event is one normalized message from a venue. DepthReceived carries both
// the book snapshot and the trades that printed since the previous update;
// within one subscription, events arrive in monotone timestamp order.
type Event struct {
	Kind     EventKind
	Exchange types.Exchange
	// Reason is set on Disconnected.
	Reason string

	Stream stream.StreamKind

	// DepthReceived payload.
	Time   uint64
	Depth  *types.Depth
	Trades []types.Trade

	// KlineReceived payload.
	Kline types.Kline
}

// Adapter is one venue's event source plus its historical fetchers.
// Fetchers use the context for cancellation; long fetches are aborted by
// cancelling it.
type Adapter interface {
	// Exchange identifies the venue this adapter serves.
	Exchange() types.Exchange

	// Run subscribes to the given specs and delivers events until the
	// context is cancelled.
	Run(ctx context.Context, specs stream.StreamSpecs, events chan<- Event) error

	FetchTickerInfo(ctx context.Context) (map[types.Ticker]*types.TickerInfo, error)
	FetchTickerPrices(ctx context.Context) (map[types.Ticker]types.TickerStats, error)
	FetchKlines(ctx context.Context, info types.TickerInfo, tf types.Timeframe, start, end uint64) ([]types.Kline, error)
	FetchOpenInterest(ctx context.Context, ticker types.Ticker, tf types.Timeframe, start, end uint64) ([]types.OpenInterest, error)
}

// FetchAllTickerInfo fans out the metadata fetch across adapters and merges
// the results keyed by ticker.
func FetchAllTickerInfo(ctx context.Context, adapters []Adapter) (map[types.Ticker]*types.TickerInfo, error) {
	results := make([]map[types.Ticker]*types.TickerInfo, len(adapters))

	g, ctx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			infos, err := a.FetchTickerInfo(ctx)
			if err != nil {
				return fmt.Errorf("%s ticker info: %w", a.Exchange(), err)
			}
			results[i] = infos
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[types.Ticker]*types.TickerInfo)
	for _, infos := range results {
		for ticker, info := range infos {
			merged[ticker] = info
		}
	}
	return merged, nil
}
