package wireparse

import (
	"testing"

	"github.com/sawpanic/gateway/internal/record"
)

// S1 — Binance ticker.
func TestBinanceParseTicker(t *testing.T) {
	frame := []byte(`{"e":"24hrTicker","E":1704067200000,"s":"BTCUSDT","c":"43250.50","b":"43250.00","a":"43251.00","B":"1.5","A":"2.0","v":"12345.67","p":"250.50","P":"0.58"}`)

	p := &BinanceParser{}
	if dt := p.Classify(frame); dt != record.TickerType {
		t.Fatalf("Classify = %v, want Ticker", dt)
	}

	ticker, err := p.ParseTicker(frame)
	if err != nil {
		t.Fatalf("ParseTicker: %v", err)
	}
	if ticker.Venue != record.Binance {
		t.Errorf("Venue = %v, want Binance", ticker.Venue)
	}
	if ticker.Symbol != "BTCUSDT" {
		t.Errorf("Symbol = %q, want BTCUSDT", ticker.Symbol)
	}
	if ticker.ExchangeTSMs != 1704067200000 {
		t.Errorf("ExchangeTSMs = %d", ticker.ExchangeTSMs)
	}
	if ticker.GatewayTSNs <= 0 {
		t.Errorf("GatewayTSNs not set")
	}
	want := record.Ticker{
		Last: 4325050000000, Bid: 4325000000000, Ask: 4325100000000,
		BidQty: 150000000, AskQty: 200000000,
		Volume24h: 1234567000000, Change24h: 25050000000, ChangePct24h: 58000000,
	}
	if ticker.Last != want.Last || ticker.Bid != want.Bid || ticker.Ask != want.Ask {
		t.Errorf("last/bid/ask = %d/%d/%d, want %d/%d/%d", ticker.Last, ticker.Bid, ticker.Ask, want.Last, want.Bid, want.Ask)
	}
	if ticker.BidQty != want.BidQty || ticker.AskQty != want.AskQty {
		t.Errorf("bidQty/askQty = %d/%d, want %d/%d", ticker.BidQty, ticker.AskQty, want.BidQty, want.AskQty)
	}
	if ticker.Volume24h != want.Volume24h || ticker.Change24h != want.Change24h || ticker.ChangePct24h != want.ChangePct24h {
		t.Errorf("volume/change/pct = %d/%d/%d, want %d/%d/%d",
			ticker.Volume24h, ticker.Change24h, ticker.ChangePct24h,
			want.Volume24h, want.Change24h, want.ChangePct24h)
	}
}

// S2 — Binance trade with buyer-was-maker=true maps to SELL.
func TestBinanceParseTradeBuyerMaker(t *testing.T) {
	frame := []byte(`{"e":"trade","E":1704067200000,"s":"BTCUSDT","t":123456789,"p":"43250.50","q":"0.5","m":true}`)

	p := &BinanceParser{}
	if dt := p.Classify(frame); dt != record.Trades {
		t.Fatalf("Classify = %v, want Trades", dt)
	}

	trade, err := p.ParseTrade(frame)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.TradeID != "123456789" {
		t.Errorf("TradeID = %q, want 123456789", trade.TradeID)
	}
	if trade.Side != record.Sell {
		t.Errorf("Side = %v, want Sell (buyer_maker=true)", trade.Side)
	}
	if trade.Price != 4325050000000 || trade.Quantity != 50000000 {
		t.Errorf("price/qty = %d/%d", trade.Price, trade.Quantity)
	}
}

func TestBinanceParseTradeNotBuyerMaker(t *testing.T) {
	frame := []byte(`{"e":"trade","E":1704067200000,"s":"BTCUSDT","t":1,"p":"1.0","q":"1.0","m":false}`)
	p := &BinanceParser{}
	trade, err := p.ParseTrade(frame)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.Side != record.Buy {
		t.Errorf("Side = %v, want Buy (buyer_maker=false)", trade.Side)
	}
}

// Open Question decision: trade_id falls back to "E" when "t" is absent.
func TestBinanceParseTradeFallsBackToEventTime(t *testing.T) {
	frame := []byte(`{"e":"aggTrade","E":1704067200000,"s":"BTCUSDT","p":"1.0","q":"1.0","m":false}`)
	p := &BinanceParser{}
	trade, err := p.ParseTrade(frame)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if trade.TradeID != "1704067200000" {
		t.Errorf("TradeID = %q, want fallback to event time 1704067200000", trade.TradeID)
	}
}

func TestBinanceParseOrderBook(t *testing.T) {
	frame := []byte(`{"e":"depthUpdate","E":1704067200000,"s":"BTCUSDT","U":1,"u":2,"b":[["43250.00","1.5"]],"a":[["43251.00","2.0"]]}`)
	p := &BinanceParser{}
	if dt := p.Classify(frame); dt != record.OrderBookType {
		t.Fatalf("Classify = %v, want OrderBookType", dt)
	}
	ob, err := p.ParseOrderBook(frame)
	if err != nil {
		t.Fatalf("ParseOrderBook: %v", err)
	}
	if ob.IsSnapshot {
		t.Error("Binance depthUpdate must never be IsSnapshot")
	}
	if len(ob.Bids) != 1 || ob.Bids[0].Price != 4325000000000 {
		t.Errorf("unexpected bids: %+v", ob.Bids)
	}
	if len(ob.Asks) != 1 || ob.Asks[0].Price != 4325100000000 {
		t.Errorf("unexpected asks: %+v", ob.Asks)
	}
}

// S5 — subscription ack is not data.
func TestBinanceClassifyAckIsUnknown(t *testing.T) {
	frame := []byte(`{"result":null,"id":12345}`)
	p := &BinanceParser{}
	if dt := p.Classify(frame); dt != record.Unknown {
		t.Fatalf("Classify(ack) = %v, want Unknown", dt)
	}
}

func TestBinanceParseTickerMissingField(t *testing.T) {
	frame := []byte(`{"e":"24hrTicker","E":1704067200000,"s":"BTCUSDT"}`)
	p := &BinanceParser{}
	if _, err := p.ParseTicker(frame); err == nil {
		t.Fatal("expected ParseError for missing fields")
	}
}

func TestBinanceParseTickerTooManyFractionalDigits(t *testing.T) {
	frame := []byte(`{"e":"24hrTicker","E":1,"s":"BTCUSDT","c":"1.123456789","b":"1","a":"1","B":"1","A":"1","v":"1","p":"1","P":"1"}`)
	p := &BinanceParser{}
	if _, err := p.ParseTicker(frame); err == nil {
		t.Fatal("expected error for > 8 fractional digits")
	}
}
