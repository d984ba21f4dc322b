// binance.go implements the Binance adapter for all three Binance venues.
//
// One combined-stream WebSocket carries the depth, aggTrade and kline
// subscriptions; REST backs the historical fetchers. The socket
// auto-reconnects with exponential backoff (1s up to 30s) and re-subscribes
// on reconnection.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"

	"marketflow/internal/stream"
	"marketflow/pkg/types"
)

const (
	binanceReadTimeout      = 90 * time.Second
	binanceMaxReconnectWait = 30 * time.Second
	binanceKlineFetchLimit  = 1000
)

// binanceEndpoints per venue.
type binanceEndpoints struct {
	rest string
	ws   string
}

func endpointsFor(exchange types.Exchange) (binanceEndpoints, error) {
	switch exchange {
	case types.BinanceSpot:
		return binanceEndpoints{rest: "https://api.binance.com/api/v3", ws: "wss://stream.binance.com:9443/stream"}, nil
	case types.BinanceLinear:
		return binanceEndpoints{rest: "https://fapi.binance.com/fapi/v1", ws: "wss://fstream.binance.com/stream"}, nil
	case types.BinanceInverse:
		return binanceEndpoints{rest: "https://dapi.binance.com/dapi/v1", ws: "wss://dstream.binance.com/stream"}, nil
	default:
		return binanceEndpoints{}, &Error{Kind: ErrInvalidRequest, Message: fmt.Sprintf("%s is not a Binance venue", exchange)}
	}
}

// Binance is the adapter for one Binance venue.
type Binance struct {
	exchange  types.Exchange
	endpoints binanceEndpoints
	rest      *resty.Client
	logger    *slog.Logger

	// books holds per-ticker mirrors rebuilt from depth deltas; trade
	// buffers accumulate between depth pushes.
	books map[string]*bookState
}

type bookState struct {
	spec   stream.DepthSpec
	depth  types.Depth
	trades []types.Trade
}

// NewBinance builds an adapter for the given Binance venue.
func NewBinance(exchange types.Exchange, logger *slog.Logger) (*Binance, error) {
	endpoints, err := endpointsFor(exchange)
	if err != nil {
		return nil, err
	}
	return &Binance{
		exchange:  exchange,
		endpoints: endpoints,
		rest:      resty.New().SetBaseURL(endpoints.rest).SetTimeout(15 * time.Second),
		logger:    logger.With("component", "binance", "exchange", exchange.String()),
		books:     make(map[string]*bookState),
	}, nil
}

func (b *Binance) Exchange() types.Exchange { return b.exchange }

// streamNames builds the combined-stream path segments for the specs.
func streamNames(specs stream.StreamSpecs) []string {
	var names []string
	for _, d := range specs.Depth {
		symbol := strings.ToLower(d.TickerInfo.Ticker.Symbol())
		names = append(names, symbol+"@depth@100ms", symbol+"@aggTrade")
	}
	for _, k := range specs.Kline {
		symbol := strings.ToLower(k.TickerInfo.Ticker.Symbol())
		names = append(names, symbol+"@kline_"+k.Timeframe.String())
	}
	return names
}

// Run connects the combined stream and delivers events until ctx ends.
func (b *Binance) Run(ctx context.Context, specs stream.StreamSpecs, events chan<- Event) error {
	names := streamNames(specs)
	if len(names) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	for _, d := range specs.Depth {
		b.books[strings.ToUpper(d.TickerInfo.Ticker.Symbol())] = &bookState{spec: d}
	}

	url := b.endpoints.ws + "?streams=" + strings.Join(names, "/")
	backoff := time.Second

	for {
		err := b.connectAndRead(ctx, url, specs, events)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		events <- Event{Kind: Disconnected, Exchange: b.exchange, Reason: err.Error()}
		b.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > binanceMaxReconnectWait {
			backoff = binanceMaxReconnectWait
		}
	}
}

func (b *Binance) connectAndRead(ctx context.Context, url string, specs stream.StreamSpecs, events chan<- Event) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return &Error{Kind: ErrWebsocket, Message: "dial", Err: err}
	}
	defer conn.Close()

	events <- Event{Kind: Connected, Exchange: b.exchange}
	b.logger.Info("websocket connected", "streams", len(streamNames(specs)))

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(binanceReadTimeout))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return &Error{Kind: ErrWebsocket, Message: "read", Err: err}
		}
		if err := b.handleMessage(payload, specs, events); err != nil {
			b.logger.Warn("dropping unparseable message", "error", err)
		}
	}
}

// combinedFrame is the envelope of Binance combined streams.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsDepthUpdate struct {
	EventTime uint64      `json:"E"`
	Symbol    string      `json:"s"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

type wsAggTrade struct {
	Symbol     string `json:"s"`
	Price      string `json:"p"`
	Qty        string `json:"q"`
	TradeTime  uint64 `json:"T"`
	BuyerMaker bool   `json:"m"`
}

type wsKlineFrame struct {
	Symbol string `json:"s"`
	Kline  struct {
		Start     uint64 `json:"t"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		TakerBuy  string `json:"V"`
	} `json:"k"`
}

func (b *Binance) handleMessage(payload []byte, specs stream.StreamSpecs, events chan<- Event) error {
	var frame combinedFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return &Error{Kind: ErrParse, Message: "combined frame", Err: err}
	}

	switch {
	case strings.Contains(frame.Stream, "@depth"):
		return b.handleDepth(frame.Data, events)
	case strings.Contains(frame.Stream, "@aggTrade"):
		return b.handleAggTrade(frame.Data)
	case strings.Contains(frame.Stream, "@kline"):
		return b.handleKline(frame.Data, specs, events)
	default:
		return nil
	}
}

func (b *Binance) handleDepth(data json.RawMessage, events chan<- Event) error {
	var update wsDepthUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return &Error{Kind: ErrParse, Message: "depth update", Err: err}
	}
	state, ok := b.books[update.Symbol]
	if !ok {
		return nil
	}

	applyLevels := func(side *types.PriceLevels, levels [][2]string) {
		for _, lvl := range levels {
			price := parseF32(lvl[0])
			qty := parseF32(lvl[1])
			side.Set(types.PriceFromF32(price), qty)
		}
	}
	applyLevels(&state.depth.Bids, update.Bids)
	applyLevels(&state.depth.Asks, update.Asks)

	snapshot := state.depth.Clone()
	trades := state.trades
	state.trades = nil

	events <- Event{
		Kind:     DepthReceived,
		Exchange: b.exchange,
		Stream:   stream.DepthStream(state.spec.TickerInfo, state.spec.DepthAggr, state.spec.PushFreq),
		Time:     update.EventTime,
		Depth:    &snapshot,
		Trades:   trades,
	}
	return nil
}

func (b *Binance) handleAggTrade(data json.RawMessage) error {
	var trade wsAggTrade
	if err := json.Unmarshal(data, &trade); err != nil {
		return &Error{Kind: ErrParse, Message: "agg trade", Err: err}
	}
	state, ok := b.books[trade.Symbol]
	if !ok {
		return nil
	}
	state.trades = append(state.trades, types.Trade{
		Time:   trade.TradeTime,
		Price:  types.PriceFromF32(parseF32(trade.Price)),
		Qty:    parseF32(trade.Qty),
		IsSell: trade.BuyerMaker,
	})
	return nil
}

func (b *Binance) handleKline(data json.RawMessage, specs stream.StreamSpecs, events chan<- Event) error {
	var frame wsKlineFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return &Error{Kind: ErrParse, Message: "kline frame", Err: err}
	}
	tf, err := types.ParseTimeframe(frame.Kline.Interval)
	if err != nil {
		return &Error{Kind: ErrParse, Message: "kline interval", Err: err}
	}

	for _, spec := range specs.Kline {
		if spec.Timeframe != tf || !strings.EqualFold(spec.TickerInfo.Ticker.Symbol(), frame.Symbol) {
			continue
		}
		volume := parseF32(frame.Kline.Volume)
		takerBuy := parseF32(frame.Kline.TakerBuy)
		events <- Event{
			Kind:     KlineReceived,
			Exchange: b.exchange,
			Stream:   stream.KlineStream(spec.TickerInfo, tf),
			Kline: types.Kline{
				Time:  frame.Kline.Start,
				Open:  types.PriceFromF32(parseF32(frame.Kline.Open)),
				High:  types.PriceFromF32(parseF32(frame.Kline.High)),
				Low:   types.PriceFromF32(parseF32(frame.Kline.Low)),
				Close: types.PriceFromF32(parseF32(frame.Kline.Close)),
				Volume: types.BuySellVolume{
					Buy:  takerBuy,
					Sell: volume - takerBuy,
				},
			},
		}
	}
	return nil
}

// exchangeInfoResponse is the subset of /exchangeInfo the adapter needs.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Status  string `json:"status"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
			MinQty     string `json:"minQty"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchTickerInfo loads symbol metadata; symbols with unparsable filters map
// to nil so the caller can retry them after the next refresh.
func (b *Binance) FetchTickerInfo(ctx context.Context) (map[types.Ticker]*types.TickerInfo, error) {
	var info exchangeInfoResponse
	resp, err := b.rest.R().SetContext(ctx).SetResult(&info).Get("/exchangeInfo")
	if err != nil {
		return nil, &Error{Kind: ErrFetch, Message: "exchange info", Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Kind: ErrFetch, Message: fmt.Sprintf("exchange info: HTTP %d", resp.StatusCode())}
	}

	out := make(map[types.Ticker]*types.TickerInfo, len(info.Symbols))
	for _, sym := range info.Symbols {
		if sym.Status != "TRADING" || !isSupportedSymbol(sym.Symbol) {
			continue
		}
		ticker := types.NewTicker(sym.Symbol, b.exchange)

		var tickSize, minQty float32
		for _, filter := range sym.Filters {
			switch filter.FilterType {
			case "PRICE_FILTER":
				tickSize = parseF32(filter.TickSize)
			case "LOT_SIZE":
				minQty = parseF32(filter.MinQty)
			}
		}
		if tickSize <= 0 || minQty <= 0 {
			out[ticker] = nil
			continue
		}
		ti := types.NewTickerInfo(ticker, tickSize, minQty, nil)
		out[ticker] = &ti
	}
	return out, nil
}

type ticker24hResponse struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
}

// FetchTickerPrices loads the daily stats shown in the tickers table.
func (b *Binance) FetchTickerPrices(ctx context.Context) (map[types.Ticker]types.TickerStats, error) {
	var stats []ticker24hResponse
	resp, err := b.rest.R().SetContext(ctx).SetResult(&stats).Get("/ticker/24hr")
	if err != nil {
		return nil, &Error{Kind: ErrFetch, Message: "ticker prices", Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Kind: ErrFetch, Message: fmt.Sprintf("ticker prices: HTTP %d", resp.StatusCode())}
	}

	out := make(map[types.Ticker]types.TickerStats, len(stats))
	for _, s := range stats {
		if !isSupportedSymbol(s.Symbol) {
			continue
		}
		out[types.NewTicker(s.Symbol, b.exchange)] = types.TickerStats{
			MarkPrice:     parseF32(s.LastPrice),
			DailyPriceChg: parseF32(s.PriceChangePercent),
			DailyVolume:   parseF32(s.QuoteVolume),
		}
	}
	return out, nil
}

// FetchKlines loads historical candles for [start, end]; zero bounds fetch
// the most recent window.
func (b *Binance) FetchKlines(ctx context.Context, info types.TickerInfo, tf types.Timeframe, start, end uint64) ([]types.Kline, error) {
	req := b.rest.R().SetContext(ctx).
		SetQueryParam("symbol", info.Ticker.Symbol()).
		SetQueryParam("interval", tf.String()).
		SetQueryParam("limit", strconv.Itoa(binanceKlineFetchLimit))
	if start > 0 {
		req.SetQueryParam("startTime", strconv.FormatUint(start, 10))
	}
	if end > 0 {
		req.SetQueryParam("endTime", strconv.FormatUint(end, 10))
	}

	resp, err := req.Get("/klines")
	if err != nil {
		return nil, &Error{Kind: ErrFetch, Message: "klines", Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Kind: ErrFetch, Message: fmt.Sprintf("klines: HTTP %d", resp.StatusCode())}
	}

	// Rows are arrays: [openTime, open, high, low, close, volume, closeTime,
	// quoteVolume, trades, takerBuyBase, takerBuyQuote, ignore].
	var rows [][]json.RawMessage
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return nil, &Error{Kind: ErrParse, Message: "kline rows", Err: err}
	}

	klines := make([]types.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 10 {
			continue
		}
		var openTime uint64
		var open, high, low, closeStr, volume, takerBuy string
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			continue
		}
		fields := []*string{&open, &high, &low, &closeStr, &volume}
		parsed := true
		for i, dst := range fields {
			if err := json.Unmarshal(row[1+i], dst); err != nil {
				parsed = false
				break
			}
		}
		if !parsed {
			continue
		}
		if err := json.Unmarshal(row[9], &takerBuy); err != nil {
			continue
		}
		vol := parseF32(volume)
		buy := parseF32(takerBuy)
		klines = append(klines, types.Kline{
			Time:  openTime,
			Open:  types.PriceFromF32(parseF32(open)),
			High:  types.PriceFromF32(parseF32(high)),
			Low:   types.PriceFromF32(parseF32(low)),
			Close: types.PriceFromF32(parseF32(closeStr)),
			Volume: types.BuySellVolume{
				Buy:  buy,
				Sell: vol - buy,
			},
		})
	}
	return klines, nil
}

type openInterestRow struct {
	SumOpenInterest string `json:"sumOpenInterest"`
	Timestamp       uint64 `json:"timestamp"`
}

// FetchOpenInterest loads historical open interest; spot venues reject it.
func (b *Binance) FetchOpenInterest(ctx context.Context, ticker types.Ticker, tf types.Timeframe, start, end uint64) ([]types.OpenInterest, error) {
	if b.exchange == types.BinanceSpot {
		return nil, &Error{Kind: ErrInvalidRequest, Message: "open interest is not available for spot markets"}
	}

	req := b.rest.R().SetContext(ctx).
		SetQueryParam("symbol", ticker.Symbol()).
		SetQueryParam("period", tf.String())
	if start > 0 {
		req.SetQueryParam("startTime", strconv.FormatUint(start, 10))
	}
	if end > 0 {
		req.SetQueryParam("endTime", strconv.FormatUint(end, 10))
	}

	var rows []openInterestRow
	resp, err := req.SetResult(&rows).Get("/openInterestHist")
	if err != nil {
		return nil, &Error{Kind: ErrFetch, Message: "open interest", Err: err}
	}
	if resp.IsError() {
		return nil, &Error{Kind: ErrFetch, Message: fmt.Sprintf("open interest: HTTP %d", resp.StatusCode())}
	}

	out := make([]types.OpenInterest, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.OpenInterest{Time: row.Timestamp, Value: parseF32(row.SumOpenInterest)})
	}
	return out, nil
}

// isSupportedSymbol accepts alphanumeric and underscore symbols.
func isSupportedSymbol(symbol string) bool {
	if symbol == "" {
		return false
	}
	for i := 0; i < len(symbol); i++ {
		c := symbol[i]
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

func parseF32(s string) float32 {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0
	}
	return float32(v)
}
