package wireparse

import "github.com/sawpanic/gateway/internal/record"

// Parser is the narrow, closed capability every venue implements. There is
// no per-frame parser lookup on the hot path: the (venue, data_type) a streaming
// client is bound to is known statically at wiring time in
// internal/supervisor, so a Parser value is just a field on that client,
// never looked up through an interface-satisfying registry per frame.
type Parser interface {
	// Classify performs a cheap discriminator scan and returns the data
	// type the frame carries, or record.Unknown for acks/heartbeats/pings/
	// error envelopes.
	Classify(frame []byte) record.DataType
	ParseTicker(frame []byte) (record.Ticker, error)
	ParseTrade(frame []byte) (record.Trade, error)
	ParseOrderBook(frame []byte) (record.OrderBook, error)
}

// Subscriber formats a venue's wire-level subscribe frame(s) for a set of
// canonical symbols and data types. It lives next to each venue's Parser
// because the two are defined by the same wire protocol.
type Subscriber interface {
	FormatSubscribe(symbols []string, types []record.DataType) [][]byte
}

// ForVenue returns the Parser+Subscriber pair for v. The set of venues is
// closed (record.Venue is a stable three-member enum), so this is a plain
// switch, not a registry. Each parser's level scratch buffers are
// preallocated with capacity levelScratchCap.
func ForVenue(v record.Venue) (Parser, Subscriber, bool) {
	const levelScratchCap = 100
	switch v {
	case record.Binance:
		p := &BinanceParser{bidBuf: make([]record.Level, 0, levelScratchCap), askBuf: make([]record.Level, 0, levelScratchCap)}
		return p, p, true
	case record.OKX:
		p := &OKXParser{bidBuf: make([]record.Level, 0, levelScratchCap), askBuf: make([]record.Level, 0, levelScratchCap)}
		return p, p, true
	case record.Bybit:
		p := &BybitParser{bidBuf: make([]record.Level, 0, levelScratchCap), askBuf: make([]record.Level, 0, levelScratchCap)}
		return p, p, true
	default:
		return nil, nil, false
	}
}

// canonicalSymbol uppercases sym and strips sep if present. sep == "" means
// the venue already reports a canonical pair and no separator is removed.
func canonicalSymbol(sym, sep string) string {
	if sep != "" {
		sym = removeAll(sym, sep)
	}
	return toUpperASCII(sym)
}

func removeAll(s, sep string) string {
	if len(sep) == 0 {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if i+len(sep) <= len(s) && s[i:i+len(sep)] == sep {
			i += len(sep)
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

func toUpperASCII(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
