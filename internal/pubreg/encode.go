// Package pubreg owns one publication handle per (venue, data_type),
// encodes normalized records into the gateway's fixed binary wire format,
// and offers them onto an ipc.Stream with non-blocking semantics.
package pubreg

import (
	"encoding/binary"
	"fmt"

	"github.com/sawpanic/gateway/internal/apperror"
	"github.com/sawpanic/gateway/internal/record"
)

const (
	msgTypeTicker    byte = 1
	msgTypeTrade     byte = 2
	msgTypeOrderBook byte = 3

	maxSymbolLen  = 20
	maxTradeIDLen = 32
	maxLevels     = 100
)

// encoder accumulates a single message's bytes into a reusable buffer.
// Never shared across goroutines; one lives per Handle-bound scratch slot.
type encoder struct {
	buf []byte
}

func newEncoder() *encoder {
	return &encoder{buf: make([]byte, 0, 512)}
}

func (e *encoder) reset() { e.buf = e.buf[:0] }

func (e *encoder) writeByte(b byte) { e.buf = append(e.buf, b) }

func (e *encoder) writeInt64(v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encoder) writeLenPrefixedString(s string, max int) error {
	if len(s) > max {
		return fmt.Errorf("string %q exceeds max length %d", s, max)
	}
	e.writeByte(byte(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *encoder) writeHeader(msgType byte, venue record.Venue, symbol string, exchangeTSMs, gatewayTSNs int64) error {
	e.writeByte(msgType)
	e.writeByte(byte(venue))
	if err := e.writeLenPrefixedString(symbol, maxSymbolLen); err != nil {
		return apperror.Wrap(err, apperror.CodeEncoding, "symbol too long")
	}
	e.writeInt64(exchangeTSMs)
	e.writeInt64(gatewayTSNs)
	return nil
}

// EncodeTicker writes a Ticker into the encoder's scratch buffer and
// returns the encoded bytes. The returned slice aliases the encoder's
// internal buffer and is only valid until the next Encode* call.
func (e *encoder) EncodeTicker(t record.Ticker) ([]byte, error) {
	e.reset()
	if t.Symbol == "" {
		return nil, apperror.New(apperror.CodeEncoding, apperror.WithContext("ticker missing symbol"))
	}
	if err := e.writeHeader(msgTypeTicker, t.Venue, t.Symbol, t.ExchangeTSMs, t.GatewayTSNs); err != nil {
		return nil, err
	}
	for _, v := range []int64{t.Last, t.Bid, t.Ask, t.BidQty, t.AskQty, t.Volume24h, t.Change24h, t.ChangePct24h} {
		e.writeInt64(v)
	}
	return e.buf, nil
}

// EncodeTrade writes a Trade into the encoder's scratch buffer.
func (e *encoder) EncodeTrade(tr record.Trade) ([]byte, error) {
	e.reset()
	if tr.Symbol == "" {
		return nil, apperror.New(apperror.CodeEncoding, apperror.WithContext("trade missing symbol"))
	}
	if err := e.writeHeader(msgTypeTrade, tr.Venue, tr.Symbol, tr.ExchangeTSMs, tr.GatewayTSNs); err != nil {
		return nil, err
	}
	if err := e.writeLenPrefixedString(tr.TradeID, maxTradeIDLen); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeEncoding, "trade_id too long")
	}
	e.writeInt64(tr.Price)
	e.writeInt64(tr.Quantity)
	e.writeByte(byte(tr.Side))
	return e.buf, nil
}

// EncodeOrderBook writes an OrderBook into the encoder's scratch buffer.
func (e *encoder) EncodeOrderBook(ob record.OrderBook) ([]byte, error) {
	e.reset()
	if ob.Symbol == "" {
		return nil, apperror.New(apperror.CodeEncoding, apperror.WithContext("order book missing symbol"))
	}
	if len(ob.Bids) > maxLevels || len(ob.Asks) > maxLevels {
		return nil, apperror.New(apperror.CodeEncoding,
			apperror.WithContext(fmt.Sprintf("order book level count exceeds %d", maxLevels)))
	}
	if err := e.writeHeader(msgTypeOrderBook, ob.Venue, ob.Symbol, ob.ExchangeTSMs, ob.GatewayTSNs); err != nil {
		return nil, err
	}
	e.writeByte(byte(len(ob.Bids)))
	e.writeByte(byte(len(ob.Asks)))
	if ob.IsSnapshot {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
	for _, lvl := range ob.Bids {
		e.writeInt64(lvl.Price)
		e.writeInt64(lvl.Quantity)
	}
	for _, lvl := range ob.Asks {
		e.writeInt64(lvl.Price)
		e.writeInt64(lvl.Quantity)
	}
	return e.buf, nil
}
