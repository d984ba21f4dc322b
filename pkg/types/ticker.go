package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// tickerMaxLen bounds the internal symbol length.
const tickerMaxLen = 28

// Ticker is a compact venue+symbol identity. The symbol is printable ASCII,
// at most 28 bytes, and never contains ':' or '|' (both are reserved by the
// serialized form). DisplaySymbol only overrides UI rendering, mainly for
// Hyperliquid spot markets where the internal symbol is an index like "@107";
// it never participates in equality or hashing.
type Ticker struct {
	symbol        string
	Exchange      Exchange
	displaySymbol string
}

// NewTicker validates and builds a ticker. Invalid symbols are programmer
// errors and panic, matching the construction assertions at every call site.
func NewTicker(symbol string, exchange Exchange) Ticker {
	return NewTickerWithDisplay(symbol, exchange, "")
}

// NewTickerWithDisplay builds a ticker with an optional display override.
func NewTickerWithDisplay(symbol string, exchange Exchange, display string) Ticker {
	mustValidSymbol(symbol)
	if display != "" {
		mustValidSymbol(display)
	}
	return Ticker{symbol: symbol, Exchange: exchange, displaySymbol: display}
}

func mustValidSymbol(s string) {
	if len(s) == 0 || len(s) > tickerMaxLen {
		panic(fmt.Sprintf("ticker symbol length out of range: %q", s))
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b <= 0x20 || b >= 0x7f || b == ':' || b == '|' {
			panic(fmt.Sprintf("ticker symbol must be printable ASCII without ':' or '|': %q", s))
		}
	}
}

// Symbol returns the internal symbol.
func (t Ticker) Symbol() string { return t.symbol }

// DisplaySymbol returns the UI override, or "" when none is set.
func (t Ticker) DisplaySymbol() string { return t.displaySymbol }

// MarketType returns the market kind of the ticker's venue.
func (t Ticker) MarketType() MarketKind { return t.Exchange.MarketType() }

// DisplaySymbolAndType returns the symbol as shown in the UI. Hyperliquid
// linear symbols get a USDT suffix to match the other venues' format.
func (t Ticker) DisplaySymbolAndType() (string, MarketKind) {
	kind := t.MarketType()
	if t.displaySymbol != "" {
		return t.displaySymbol, kind
	}
	sym := t.symbol
	if t.Exchange == HyperliquidLinear && kind == LinearPerps {
		sym += "USDT"
	}
	return sym, kind
}

// Equal ignores the display symbol.
func (t Ticker) Equal(other Ticker) bool {
	return t.symbol == other.symbol && t.Exchange == other.Exchange
}

// Key returns a map key covering the identity fields only.
func (t Ticker) Key() string {
	return t.Exchange.String() + ":" + t.symbol
}

func (t Ticker) String() string { return t.symbol }

// FormatTicker serializes to "Exchange:symbol" or "Exchange:symbol|display".
func FormatTicker(t Ticker) string {
	if t.displaySymbol != "" {
		return fmt.Sprintf("%s:%s|%s", t.Exchange, t.symbol, t.displaySymbol)
	}
	return fmt.Sprintf("%s:%s", t.Exchange, t.symbol)
}

// ParseTicker parses the serialized form produced by FormatTicker.
func ParseTicker(s string) (Ticker, error) {
	exchangeStr, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Ticker{}, fmt.Errorf("expected \"Exchange:Symbol\", got %q", s)
	}
	exchange, err := ParseExchange(exchangeStr)
	if err != nil {
		return Ticker{}, err
	}
	symbol, display, _ := strings.Cut(rest, "|")
	if err := checkSymbol(symbol); err != nil {
		return Ticker{}, err
	}
	if display != "" {
		if err := checkSymbol(display); err != nil {
			return Ticker{}, err
		}
	}
	return Ticker{symbol: symbol, Exchange: exchange, displaySymbol: display}, nil
}

func checkSymbol(s string) error {
	if len(s) == 0 || len(s) > tickerMaxLen {
		return fmt.Errorf("ticker symbol length out of range: %q", s)
	}
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b <= 0x20 || b >= 0x7f || b == ':' || b == '|' {
			return fmt.Errorf("ticker symbol must be printable ASCII without ':' or '|': %q", s)
		}
	}
	return nil
}

// MarshalJSON writes the string form.
func (t Ticker) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatTicker(t))
}

// legacyPackedTicker is the old persisted representation: symbols packed
// 6 bits per character into two u64 words.
type legacyPackedTicker struct {
	Data     [2]uint64 `json:"data"`
	Len      uint8     `json:"len"`
	Exchange string    `json:"exchange"`
}

// UnmarshalJSON accepts both the current string form and the legacy
// 6-bit-packed object so old persisted states keep loading.
func (t *Ticker) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := ParseTicker(s)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}

	var old legacyPackedTicker
	if err := json.Unmarshal(b, &old); err != nil {
		return fmt.Errorf("unrecognized ticker encoding: %s", string(b))
	}
	if old.Len > 20 {
		return fmt.Errorf("legacy ticker length %d exceeds 20", old.Len)
	}
	var sb strings.Builder
	for i := 0; i < int(old.Len); i++ {
		shift := (i % 10) * 6
		v := byte((old.Data[i/10] >> shift) & 0x3f)
		switch {
		case v <= 9:
			sb.WriteByte('0' + v)
		case v >= 10 && v <= 35:
			sb.WriteByte('A' + (v - 10))
		case v == 36:
			sb.WriteByte('_')
		default:
			return fmt.Errorf("invalid legacy char code %d", v)
		}
	}
	exchange, err := ParseExchange(old.Exchange)
	if err != nil {
		return err
	}
	symbol := sb.String()
	if err := checkSymbol(symbol); err != nil {
		return err
	}
	*t = Ticker{symbol: symbol, Exchange: exchange}
	return nil
}

// SerTicker is the on-wire key form of an (exchange, ticker) pair, used for
// map keys in persisted state. Its string form matches the serialized ticker.
type SerTicker struct {
	Exchange Exchange
	Ticker   Ticker
}

// NewSerTicker asserts exchange-market consistency.
func NewSerTicker(exchange Exchange, ticker Ticker) SerTicker {
	if ticker.MarketType() != exchange.MarketType() {
		panic(fmt.Sprintf("ticker market type %v does not match exchange %v", ticker.MarketType(), exchange))
	}
	return SerTicker{Exchange: exchange, Ticker: ticker}
}

func (s SerTicker) String() string {
	return fmt.Sprintf("%s:%s", s.Exchange, s.Ticker.Symbol())
}

func (s SerTicker) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SerTicker) UnmarshalText(b []byte) error {
	exchangeStr, symbol, ok := strings.Cut(string(b), ":")
	if !ok {
		return fmt.Errorf("invalid SerTicker format: expected 'Exchange:Ticker', got %q", string(b))
	}
	exchange, err := ParseExchange(exchangeStr)
	if err != nil {
		return err
	}
	if err := checkSymbol(symbol); err != nil {
		return err
	}
	s.Exchange = exchange
	s.Ticker = Ticker{symbol: symbol, Exchange: exchange}
	return nil
}

// TickerInfo is the canonical immutable metadata for a tradeable symbol:
// minimum tick size, minimum quantity and, for some perps, contract size.
// Identity is the ticker alone.
type TickerInfo struct {
	Ticker       Ticker       `json:"ticker"`
	MinTicksize  MinTicksize  `json:"tickSize"`
	MinQty       MinQtySize   `json:"min_qty"`
	ContractSize *ContractSize `json:"contract_size,omitempty"`
}

// NewTickerInfo builds metadata from raw venue floats.
func NewTickerInfo(ticker Ticker, minTicksize, minQty float32, contractSize *float32) TickerInfo {
	info := TickerInfo{
		Ticker:      ticker,
		MinTicksize: MinTicksizeFromF32(minTicksize),
		MinQty:      MinQtySizeFromF32(minQty),
	}
	if contractSize != nil {
		cs := ContractSizeFromF32(*contractSize)
		info.ContractSize = &cs
	}
	return info
}

func (i TickerInfo) MarketType() MarketKind { return i.Ticker.MarketType() }

func (i TickerInfo) Exchange() Exchange { return i.Ticker.Exchange }

func (i TickerInfo) IsPerps() bool {
	kind := i.MarketType()
	return kind == LinearPerps || kind == InversePerps
}

// Key returns a map key over the identity (the ticker).
func (i TickerInfo) Key() string { return i.Ticker.Key() }
