package wireparse

import "testing"

// TestDiscriminatorHashesDoNotCollide stands in for the build-time
// collision check §4.1 requires: each venue's closed set of valid
// discriminator strings must hash to pairwise-distinct values, or
// classification would silently misroute frames.
func TestDiscriminatorHashesDoNotCollide(t *testing.T) {
	sets := map[string][]string{
		"binance": {"24hrTicker", "trade", "aggTrade", "depthUpdate"},
		"okx":      {"tickers", "trades", "books"},
		"bybit":    {"orderbook", "publicTrade", "tickers"},
	}
	for venue, discriminators := range sets {
		seen := make(map[uint32]string, len(discriminators))
		for _, d := range discriminators {
			h := rollingHash([]byte(d))
			if prior, ok := seen[h]; ok {
				t.Fatalf("%s: discriminators %q and %q collide on hash %d", venue, prior, d, h)
			}
			seen[h] = d
		}
	}
}

func TestFindKey(t *testing.T) {
	frame := []byte(`{"e":"24hrTicker","E":1704067200000,"s":"BTCUSDT"}`)
	s := newScanner(frame)

	pos := s.findKey("s")
	if pos < 0 {
		t.Fatal("expected to find key 's'")
	}
	if frame[pos] != '"' {
		t.Fatalf("expected value start at a quote, got %q", frame[pos])
	}

	if s.findKey("missing") != -1 {
		t.Fatal("expected -1 for a missing key")
	}
}

func TestQuotedDecimal(t *testing.T) {
	s := newScanner([]byte(`"43250.50"`))
	v, err := s.quotedDecimal(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 4325050000000 {
		t.Fatalf("got %d, want 4325050000000", v)
	}
}

func TestLevelArray(t *testing.T) {
	frame := []byte(`[["43250.00","1.5"],["43249.00","2.0"]]`)
	s := newScanner(frame)
	levels, next, ok := s.levelArray(0, nil)
	if !ok {
		t.Fatal("expected ok")
	}
	if next != len(frame) {
		t.Fatalf("expected to consume whole array, stopped at %d/%d", next, len(frame))
	}
	if len(levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(levels))
	}
	if levels[0].Price != 4325000000000 || levels[0].Quantity != 150000000 {
		t.Fatalf("unexpected level[0]: %+v", levels[0])
	}
	if levels[1].Price != 4324900000000 || levels[1].Quantity != 200000000 {
		t.Fatalf("unexpected level[1]: %+v", levels[1])
	}
}

func TestLevelArrayWithTrailingFields(t *testing.T) {
	// OKX-style levels: [price, qty, deprecated, numOrders]
	frame := []byte(`[["41006.8","0.60038921","0","1"],["41006.3","0.30178218","0","2"]]`)
	s := newScanner(frame)
	levels, _, ok := s.levelArray(0, nil)
	if !ok {
		t.Fatal("expected ok")
	}
	if len(levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(levels))
	}
}
