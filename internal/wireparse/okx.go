package wireparse

import (
	"math/bits"

	"github.com/sawpanic/gateway/internal/record"
)

// Precomputed discriminator hashes for OKX's arg.channel field.
var (
	okxHashTickers = rollingHash([]byte("tickers"))
	okxHashTrades  = rollingHash([]byte("trades"))
	okxHashBooks   = rollingHash([]byte("books"))
)

var okxSnapshotHash = rollingHash([]byte("snapshot"))

// OKXParser decodes OKX's v5 public WebSocket push frames.
type OKXParser struct {
	bidBuf []record.Level
	askBuf []record.Level
}

// Classify implements Parser. OKX acks and errors carry a top-level
// "event" field ("subscribe", "unsubscribe", "error", "login"); any frame
// bearing one is filtered before the channel discriminator is even looked
// at, matching §4.1's "subscription replies are filtered by detecting
// venue-specific acknowledgement keys before classification is attempted".
func (p *OKXParser) Classify(frame []byte) record.DataType {
	s := newScanner(frame)
	if s.findKey("event") >= 0 {
		return record.Unknown
	}
	pos := s.findKey("channel")
	if pos < 0 {
		return record.Unknown
	}
	start, end, ok := s.quotedStringRange(pos)
	if !ok {
		return record.Unknown
	}
	h := rollingHash(frame[start:end])
	switch h {
	case okxHashTickers:
		return record.TickerType
	case okxHashTrades:
		return record.Trades
	case okxHashBooks:
		return record.OrderBookType
	default:
		return record.Unknown
	}
}

// ParseTicker implements Parser for OKX's "tickers" channel. OKX does not
// push a ready-made 24h change/pct pair; both are derived from open24h the
// way a consumer of the raw feed would compute them, at fixed-point
// precision (no float64 intermediate).
func (p *OKXParser) ParseTicker(frame []byte) (record.Ticker, error) {
	gatewayTS := record.Now()
	s := newScanner(frame)

	symbol, ok := p.requiredSymbol(s)
	if !ok {
		return record.Ticker{}, newParseError(record.OKX, "missing or malformed field 'instId'")
	}
	exchangeTS, err := p.requiredQuotedInt(s, "ts")
	if err != nil {
		return record.Ticker{}, err
	}
	last, err := p.requiredDecimal(s, "last")
	if err != nil {
		return record.Ticker{}, err
	}
	bid, err := p.requiredDecimal(s, "bidPx")
	if err != nil {
		return record.Ticker{}, err
	}
	ask, err := p.requiredDecimal(s, "askPx")
	if err != nil {
		return record.Ticker{}, err
	}
	bidQty, err := p.requiredDecimal(s, "bidSz")
	if err != nil {
		return record.Ticker{}, err
	}
	askQty, err := p.requiredDecimal(s, "askSz")
	if err != nil {
		return record.Ticker{}, err
	}
	vol, err := p.requiredDecimal(s, "vol24h")
	if err != nil {
		return record.Ticker{}, err
	}
	open24h, err := p.requiredDecimal(s, "open24h")
	if err != nil {
		return record.Ticker{}, err
	}

	chg := last - open24h
	var chgPct int64
	if open24h > 0 {
		// chg*Scale can exceed int64, so the product is formed in 128 bits.
		absChg := uint64(chg)
		if chg < 0 {
			absChg = uint64(-chg)
		}
		hi, lo := bits.Mul64(absChg, record.Scale)
		if hi < uint64(open24h) {
			q, _ := bits.Div64(hi, lo, uint64(open24h))
			chgPct = int64(q)
			if chg < 0 {
				chgPct = -chgPct
			}
		}
	}

	return record.Ticker{
		Venue:        record.OKX,
		Symbol:       symbol,
		ExchangeTSMs: exchangeTS,
		GatewayTSNs:  gatewayTS,
		Last:         last,
		Bid:          bid,
		Ask:          ask,
		BidQty:       bidQty,
		AskQty:       askQty,
		Volume24h:    vol,
		Change24h:    chg,
		ChangePct24h: chgPct,
	}, nil
}

// ParseTrade implements Parser for OKX's "trades" channel.
func (p *OKXParser) ParseTrade(frame []byte) (record.Trade, error) {
	gatewayTS := record.Now()
	s := newScanner(frame)

	symbol, ok := p.requiredSymbol(s)
	if !ok {
		return record.Trade{}, newParseError(record.OKX, "missing or malformed field 'instId'")
	}
	exchangeTS, err := p.requiredQuotedInt(s, "ts")
	if err != nil {
		return record.Trade{}, err
	}

	idPos := s.findKey("tradeId")
	if idPos < 0 {
		return record.Trade{}, newParseError(record.OKX, "missing field 'tradeId'")
	}
	tradeID, ok := s.quotedString(idPos)
	if !ok {
		return record.Trade{}, newParseError(record.OKX, "malformed field 'tradeId'")
	}

	price, err := p.requiredDecimal(s, "px")
	if err != nil {
		return record.Trade{}, err
	}
	qty, err := p.requiredDecimal(s, "sz")
	if err != nil {
		return record.Trade{}, err
	}

	sidePos := s.findKey("side")
	if sidePos < 0 {
		return record.Trade{}, newParseError(record.OKX, "missing field 'side'")
	}
	sideStr, ok := s.quotedString(sidePos)
	if !ok {
		return record.Trade{}, newParseError(record.OKX, "malformed field 'side'")
	}
	var side record.Side
	switch sideStr {
	case "buy":
		side = record.Buy
	case "sell":
		side = record.Sell
	default:
		return record.Trade{}, newParseError(record.OKX, "unknown side token '"+sideStr+"'")
	}

	return record.Trade{
		Venue:        record.OKX,
		Symbol:       symbol,
		ExchangeTSMs: exchangeTS,
		GatewayTSNs:  gatewayTS,
		TradeID:      tradeID,
		Price:        price,
		Quantity:     qty,
		Side:         side,
	}, nil
}

// ParseOrderBook implements Parser for OKX's "books" channel. Per the
// decision recorded in SPEC_FULL.md's Open Question resolution, IsSnapshot
// is true only when the envelope's top-level "action" field is literally
// "snapshot"; anything else (including "update") maps to false.
func (p *OKXParser) ParseOrderBook(frame []byte) (record.OrderBook, error) {
	gatewayTS := record.Now()
	s := newScanner(frame)

	symbol, ok := p.requiredSymbol(s)
	if !ok {
		return record.OrderBook{}, newParseError(record.OKX, "missing or malformed field 'instId'")
	}
	exchangeTS, err := p.requiredQuotedInt(s, "ts")
	if err != nil {
		return record.OrderBook{}, err
	}

	isSnapshot := false
	if actionPos := s.findKey("action"); actionPos >= 0 {
		if start, end, ok := s.quotedStringRange(actionPos); ok {
			isSnapshot = rollingHash(frame[start:end]) == okxSnapshotHash
		}
	}

	bidsPos := s.findKey("bids")
	if bidsPos < 0 {
		return record.OrderBook{}, newParseError(record.OKX, "missing field 'bids'")
	}
	p.bidBuf = p.bidBuf[:0]
	bids, _, ok := s.levelArray(bidsPos, p.bidBuf)
	if !ok {
		return record.OrderBook{}, newParseError(record.OKX, "malformed field 'bids'")
	}
	p.bidBuf = bids

	asksPos := s.findKey("asks")
	if asksPos < 0 {
		return record.OrderBook{}, newParseError(record.OKX, "missing field 'asks'")
	}
	p.askBuf = p.askBuf[:0]
	asks, _, ok := s.levelArray(asksPos, p.askBuf)
	if !ok {
		return record.OrderBook{}, newParseError(record.OKX, "malformed field 'asks'")
	}
	p.askBuf = asks

	return record.OrderBook{
		Venue:        record.OKX,
		Symbol:       symbol,
		ExchangeTSMs: exchangeTS,
		GatewayTSNs:  gatewayTS,
		Bids:         copyLevels(p.bidBuf),
		Asks:         copyLevels(p.askBuf),
		IsSnapshot:   isSnapshot,
	}, nil
}

// requiredSymbol reads "instId" and strips OKX's BASE-QUOTE dash per §4.1.
func (p *OKXParser) requiredSymbol(s *scanner) (string, bool) {
	pos := s.findKey("instId")
	if pos < 0 {
		return "", false
	}
	sym, ok := s.quotedString(pos)
	if !ok {
		return "", false
	}
	return canonicalSymbol(sym, "-"), true
}

func (p *OKXParser) requiredDecimal(s *scanner, key string) (int64, error) {
	pos := s.findKey(key)
	if pos < 0 {
		return 0, newParseError(record.OKX, "missing field '"+key+"'")
	}
	v, err := s.quotedDecimal(pos)
	if err != nil {
		return 0, newParseError(record.OKX, "field '"+key+"': "+err.Error())
	}
	return v, nil
}

// requiredQuotedInt reads a field OKX encodes as a quoted integer string
// (e.g. "ts":"1704067200000") with a hand-rolled integer loop over the
// quoted content, not the decimal parser (these fields carry no fractional
// part and aren't scaled).
func (p *OKXParser) requiredQuotedInt(s *scanner, key string) (int64, error) {
	pos := s.findKey(key)
	if pos < 0 {
		return 0, newParseError(record.OKX, "missing field '"+key+"'")
	}
	start, end, ok := s.quotedStringRange(pos)
	if !ok {
		return 0, newParseError(record.OKX, "malformed field '"+key+"'")
	}
	v, ok := parseDigits(s.buf[start:end])
	if !ok {
		return 0, newParseError(record.OKX, "malformed field '"+key+"'")
	}
	return v, nil
}

// FormatSubscribe implements Subscriber for OKX's args-array subscribe
// frame.
func (p *OKXParser) FormatSubscribe(symbols []string, types []record.DataType) [][]byte {
	if len(symbols) == 0 || len(types) == 0 {
		return nil
	}
	buf := []byte(`{"op":"subscribe","args":[`)
	first := true
	for _, sym := range symbols {
		instID := okxInstID(sym)
		for _, t := range types {
			channel := ""
			switch t {
			case record.TickerType:
				channel = "tickers"
			case record.Trades:
				channel = "trades"
			case record.OrderBookType:
				channel = "books"
			default:
				continue
			}
			if !first {
				buf = append(buf, ',')
			}
			first = false
			buf = append(buf, `{"channel":"`...)
			buf = append(buf, channel...)
			buf = append(buf, `","instId":"`...)
			buf = append(buf, instID...)
			buf = append(buf, `"}`...)
		}
	}
	buf = append(buf, `]}`...)
	return [][]byte{buf}
}

// okxInstID reformats a canonical "BTCUSDT"-style symbol back into OKX's
// dashed "BTC-USDT" instrument id. This gateway's symbol configuration
// always carries USDT-quoted pairs, the only quote currency spec §6's
// SYMBOLS grammar exercises.
func okxInstID(symbol string) string {
	const quote = "USDT"
	if len(symbol) > len(quote) && symbol[len(symbol)-len(quote):] == quote {
		return symbol[:len(symbol)-len(quote)] + "-" + quote
	}
	return symbol
}
