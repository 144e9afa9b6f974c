package wireparse

import "github.com/sawpanic/gateway/internal/record"

// Precomputed discriminator hashes for Bybit's topic prefix (the segment
// before the first '.').
var (
	bybitHashOrderbook   = rollingHash([]byte("orderbook"))
	bybitHashPublicTrade = rollingHash([]byte("publicTrade"))
	bybitHashTickers     = rollingHash([]byte("tickers"))
)

var bybitSnapshotHash = rollingHash([]byte("snapshot"))

// BybitParser decodes Bybit v5 public WebSocket push frames.
type BybitParser struct {
	bidBuf []record.Level
	askBuf []record.Level
}

// Classify implements Parser. Bybit's subscribe-ack envelope carries a
// top-level "op" field and no "topic"; its presence filters the ack before
// the topic discriminator is examined.
func (p *BybitParser) Classify(frame []byte) record.DataType {
	s := newScanner(frame)
	if s.findKey("op") >= 0 {
		return record.Unknown
	}
	pos := s.findKey("topic")
	if pos < 0 {
		return record.Unknown
	}
	start, end, ok := s.quotedStringRange(pos)
	if !ok {
		return record.Unknown
	}
	prefix := topicPrefix(frame[start:end])
	h := rollingHash(prefix)
	switch h {
	case bybitHashOrderbook:
		return record.OrderBookType
	case bybitHashPublicTrade:
		return record.Trades
	case bybitHashTickers:
		return record.TickerType
	default:
		return record.Unknown
	}
}

// topicPrefix returns the segment of a Bybit topic string before the
// first '.' (e.g. "orderbook" from "orderbook.1.BTCUSDT").
func topicPrefix(topic []byte) []byte {
	for i, c := range topic {
		if c == '.' {
			return topic[:i]
		}
	}
	return topic
}

// ParseTicker implements Parser for Bybit's "tickers.<symbol>" topic.
// Bybit nests the payload under a top-level "data" object and reports the
// event timestamp as a bare integer "ts" outside of it.
func (p *BybitParser) ParseTicker(frame []byte) (record.Ticker, error) {
	gatewayTS := record.Now()
	s := newScanner(frame)

	exchangeTS, ok := p.requiredBareInt(s, "ts")
	if !ok {
		return record.Ticker{}, newParseError(record.Bybit, "missing or malformed field 'ts'")
	}

	symbol, ok := p.requiredSymbol(s, "symbol")
	if !ok {
		return record.Ticker{}, newParseError(record.Bybit, "missing or malformed field 'symbol'")
	}
	last, err := p.requiredDecimal(s, "lastPrice")
	if err != nil {
		return record.Ticker{}, err
	}
	bid, err := p.requiredDecimal(s, "bid1Price")
	if err != nil {
		return record.Ticker{}, err
	}
	ask, err := p.requiredDecimal(s, "ask1Price")
	if err != nil {
		return record.Ticker{}, err
	}
	bidQty, err := p.requiredDecimal(s, "bid1Size")
	if err != nil {
		return record.Ticker{}, err
	}
	askQty, err := p.requiredDecimal(s, "ask1Size")
	if err != nil {
		return record.Ticker{}, err
	}
	vol, err := p.requiredDecimal(s, "volume24h")
	if err != nil {
		return record.Ticker{}, err
	}
	prevPrice, err := p.requiredDecimal(s, "prevPrice24h")
	if err != nil {
		return record.Ticker{}, err
	}
	chgPct, err := p.requiredDecimal(s, "price24hPcnt")
	if err != nil {
		return record.Ticker{}, err
	}

	return record.Ticker{
		Venue:        record.Bybit,
		Symbol:       symbol,
		ExchangeTSMs: exchangeTS,
		GatewayTSNs:  gatewayTS,
		Last:         last,
		Bid:          bid,
		Ask:          ask,
		BidQty:       bidQty,
		AskQty:       askQty,
		Volume24h:    vol,
		Change24h:    last - prevPrice,
		ChangePct24h: chgPct,
	}, nil
}

// ParseTrade implements Parser for Bybit's "publicTrade.<symbol>" topic.
// Bybit delivers trades as a one-or-more element "data" array; only the
// first element is parsed, matching this gateway's one-record-per-frame
// emission model. Further trades in the same frame are not emitted.
func (p *BybitParser) ParseTrade(frame []byte) (record.Trade, error) {
	gatewayTS := record.Now()
	s := newScanner(frame)

	exchangeTS, ok := p.requiredBareInt(s, "T")
	if !ok {
		return record.Trade{}, newParseError(record.Bybit, "missing or malformed field 'T'")
	}
	symbol, ok := p.requiredSymbol(s, "s")
	if !ok {
		return record.Trade{}, newParseError(record.Bybit, "missing or malformed field 's'")
	}

	idPos := s.findKey("i")
	if idPos < 0 {
		return record.Trade{}, newParseError(record.Bybit, "missing field 'i'")
	}
	tradeID, ok := s.quotedString(idPos)
	if !ok {
		return record.Trade{}, newParseError(record.Bybit, "malformed field 'i'")
	}

	price, err := p.requiredDecimal(s, "p")
	if err != nil {
		return record.Trade{}, err
	}
	qty, err := p.requiredDecimal(s, "v")
	if err != nil {
		return record.Trade{}, err
	}

	sidePos := s.findKey("S")
	if sidePos < 0 {
		return record.Trade{}, newParseError(record.Bybit, "missing field 'S'")
	}
	sideStr, ok := s.quotedString(sidePos)
	if !ok {
		return record.Trade{}, newParseError(record.Bybit, "malformed field 'S'")
	}
	var side record.Side
	switch sideStr {
	case "Buy":
		side = record.Buy
	case "Sell":
		side = record.Sell
	default:
		return record.Trade{}, newParseError(record.Bybit, "unknown side token '"+sideStr+"'")
	}

	return record.Trade{
		Venue:        record.Bybit,
		Symbol:       symbol,
		ExchangeTSMs: exchangeTS,
		GatewayTSNs:  gatewayTS,
		TradeID:      tradeID,
		Price:        price,
		Quantity:     qty,
		Side:         side,
	}, nil
}

// ParseOrderBook implements Parser for Bybit's "orderbook.<depth>.<symbol>"
// topic. Unlike OKX, Bybit reports the snapshot/delta distinction directly
// on the top-level "type" field ("snapshot" or "delta").
func (p *BybitParser) ParseOrderBook(frame []byte) (record.OrderBook, error) {
	gatewayTS := record.Now()
	s := newScanner(frame)

	exchangeTS, ok := p.requiredBareInt(s, "ts")
	if !ok {
		return record.OrderBook{}, newParseError(record.Bybit, "missing or malformed field 'ts'")
	}

	isSnapshot := false
	if typePos := s.findKey("type"); typePos >= 0 {
		if start, end, ok := s.quotedStringRange(typePos); ok {
			isSnapshot = rollingHash(frame[start:end]) == bybitSnapshotHash
		}
	}

	symbol, ok := p.requiredSymbol(s, "s")
	if !ok {
		return record.OrderBook{}, newParseError(record.Bybit, "missing or malformed field 's'")
	}

	bPos := s.findKey("b")
	if bPos < 0 {
		return record.OrderBook{}, newParseError(record.Bybit, "missing field 'b'")
	}
	p.bidBuf = p.bidBuf[:0]
	bids, _, ok := s.levelArray(bPos, p.bidBuf)
	if !ok {
		return record.OrderBook{}, newParseError(record.Bybit, "malformed field 'b'")
	}
	p.bidBuf = bids

	aPos := s.findKey("a")
	if aPos < 0 {
		return record.OrderBook{}, newParseError(record.Bybit, "missing field 'a'")
	}
	p.askBuf = p.askBuf[:0]
	asks, _, ok := s.levelArray(aPos, p.askBuf)
	if !ok {
		return record.OrderBook{}, newParseError(record.Bybit, "malformed field 'a'")
	}
	p.askBuf = asks

	return record.OrderBook{
		Venue:        record.Bybit,
		Symbol:       symbol,
		ExchangeTSMs: exchangeTS,
		GatewayTSNs:  gatewayTS,
		Bids:         copyLevels(p.bidBuf),
		Asks:         copyLevels(p.askBuf),
		IsSnapshot:   isSnapshot,
	}, nil
}

func (p *BybitParser) requiredSymbol(s *scanner, key string) (string, bool) {
	pos := s.findKey(key)
	if pos < 0 {
		return "", false
	}
	sym, ok := s.quotedString(pos)
	if !ok {
		return "", false
	}
	return canonicalSymbol(sym, ""), true
}

func (p *BybitParser) requiredDecimal(s *scanner, key string) (int64, error) {
	pos := s.findKey(key)
	if pos < 0 {
		return 0, newParseError(record.Bybit, "missing field '"+key+"'")
	}
	v, err := s.quotedDecimal(pos)
	if err != nil {
		return 0, newParseError(record.Bybit, "field '"+key+"': "+err.Error())
	}
	return v, nil
}

func (p *BybitParser) requiredBareInt(s *scanner, key string) (int64, bool) {
	pos := s.findKey(key)
	if pos < 0 {
		return 0, false
	}
	return s.bareInt(pos)
}

// FormatSubscribe implements Subscriber for Bybit's args-array subscribe
// frame.
func (p *BybitParser) FormatSubscribe(symbols []string, types []record.DataType) [][]byte {
	if len(symbols) == 0 || len(types) == 0 {
		return nil
	}
	var args []string
	for _, sym := range symbols {
		for _, t := range types {
			switch t {
			case record.TickerType:
				args = append(args, "tickers."+sym)
			case record.Trades:
				args = append(args, "publicTrade."+sym)
			case record.OrderBookType:
				args = append(args, "orderbook.1."+sym)
			}
		}
	}
	if len(args) == 0 {
		return nil
	}
	buf := []byte(`{"op":"subscribe","args":[`)
	for i, a := range args {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '"')
		buf = append(buf, a...)
		buf = append(buf, '"')
	}
	buf = append(buf, `]}`...)
	return [][]byte{buf}
}
