package record

import "testing"

func TestStreamIDBijection(t *testing.T) {
	want := map[[2]int]int{
		{int(Binance), int(TickerType)}:        1001,
		{int(Binance), int(Trades)}:        1002,
		{int(Binance), int(OrderBookType)}: 1003,
		{int(OKX), int(TickerType)}:            1011,
		{int(OKX), int(Trades)}:            1012,
		{int(OKX), int(OrderBookType)}:     1013,
		{int(Bybit), int(TickerType)}:          1021,
		{int(Bybit), int(Trades)}:          1022,
		{int(Bybit), int(OrderBookType)}:   1023,
	}

	seen := make(map[int]bool)
	for k, want := range want {
		got := StreamID(Venue(k[0]), DataType(k[1]))
		if got != want {
			t.Fatalf("StreamID(%d,%d) = %d, want %d", k[0], k[1], got, want)
		}
		if seen[got] {
			t.Fatalf("stream id %d produced by more than one (venue,type) pair", got)
		}
		seen[got] = true
	}
	if len(seen) != 9 {
		t.Fatalf("expected 9 distinct stream ids, got %d", len(seen))
	}
}

func TestParseVenue(t *testing.T) {
	for _, name := range []string{"binance", "okx", "bybit"} {
		if _, ok := ParseVenue(name); !ok {
			t.Fatalf("ParseVenue(%q) failed", name)
		}
	}
	if _, ok := ParseVenue("kraken"); ok {
		t.Fatal("ParseVenue(kraken) should fail: not in the closed venue set")
	}
}

func TestNowMonotonic(t *testing.T) {
	prev := Now()
	for i := 0; i < 1000; i++ {
		next := Now()
		if next <= prev {
			t.Fatalf("Now() not strictly increasing: prev=%d next=%d", prev, next)
		}
		prev = next
	}
}

func TestParseDecimalBytesRoundTrip(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"43250.50", 4325050000000},
		{"0.00000001", 1},
		{"-1.5", -150000000},
		{"100", 10000000000},
		{"0", 0},
	}
	for _, c := range cases {
		got, err := ParseDecimalBytes([]byte(c.in))
		if err != nil {
			t.Fatalf("ParseDecimalBytes(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("ParseDecimalBytes(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseDecimalBytesRejectsExcessPrecision(t *testing.T) {
	_, err := ParseDecimalBytes([]byte("1.123456789"))
	if err != ErrTooManyFractionalDigits {
		t.Fatalf("expected ErrTooManyFractionalDigits, got %v", err)
	}
}

func TestParseDecimalBytesRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "-", "1a"} {
		if _, err := ParseDecimalBytes([]byte(in)); err == nil {
			t.Fatalf("ParseDecimalBytes(%q) should have failed", in)
		}
	}
}
