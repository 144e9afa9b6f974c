package config

import (
	"testing"

	"github.com/sawpanic/gateway/internal/record"
)

func TestParseExchanges(t *testing.T) {
	got, err := parseExchanges("binance:true:ticker,trade;okx:false:book")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Venue != record.Binance || !got[0].Enabled {
		t.Fatalf("entry 0 = %+v", got[0])
	}
	if len(got[0].DataTypes) != 2 || got[0].DataTypes[0] != record.TickerType || got[0].DataTypes[1] != record.Trades {
		t.Fatalf("entry 0 data types = %+v", got[0].DataTypes)
	}
	if got[1].Venue != record.OKX || got[1].Enabled {
		t.Fatalf("entry 1 = %+v", got[1])
	}
}

func TestParseExchangesRejectsUnknownVenue(t *testing.T) {
	if _, err := parseExchanges("kraken:true:ticker"); err == nil {
		t.Fatal("expected error for unknown venue")
	}
}

func TestParseExchangesRejectsMalformedEntry(t *testing.T) {
	if _, err := parseExchanges("binance:true"); err == nil {
		t.Fatal("expected error for entry missing a field")
	}
}

func TestParseSymbols(t *testing.T) {
	got, err := parseSymbols("btcusdt:binance,okx;ethusdt:bybit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Symbol != "BTCUSDT" || len(got[0].Venues) != 2 {
		t.Fatalf("entry 0 = %+v", got[0])
	}
	if got[1].Symbol != "ETHUSDT" || got[1].Venues[0] != record.Bybit {
		t.Fatalf("entry 1 = %+v", got[1])
	}
}

func TestValidateRequiresEnabledVenue(t *testing.T) {
	cfg := &Config{
		GatewayID:           "gw-1",
		ReconnectMaxRetries: 10,
		MetricsPort:         9090,
		Exchanges: []VenueConfig{
			{Venue: record.Binance, Enabled: false},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no venue is enabled")
	}
}

func TestValidateRequiresGatewayID(t *testing.T) {
	cfg := &Config{
		ReconnectMaxRetries: 10,
		MetricsPort:         9090,
		Exchanges:           []VenueConfig{{Venue: record.Binance, Enabled: true}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty GatewayID")
	}
}

func TestAeronDirDefault(t *testing.T) {
	cfg := &Config{GatewayID: "gw-1"}
	if got, want := cfg.AeronDirOrDefault(), "/dev/shm/trading-gateway-gw-1"; got != want {
		t.Fatalf("AeronDirOrDefault() = %q, want %q", got, want)
	}
	cfg.AeronDir = "/custom/path"
	if got := cfg.AeronDirOrDefault(); got != "/custom/path" {
		t.Fatalf("AeronDirOrDefault() = %q, want override", got)
	}
}

func TestSymbolsForVenue(t *testing.T) {
	cfg := &Config{
		Symbols: []SymbolBinding{
			{Symbol: "BTCUSDT", Venues: []record.Venue{record.Binance, record.OKX}},
			{Symbol: "ETHUSDT", Venues: []record.Venue{record.Bybit}},
		},
	}
	got := cfg.SymbolsForVenue(record.Binance)
	if len(got) != 1 || got[0] != "BTCUSDT" {
		t.Fatalf("SymbolsForVenue(Binance) = %v", got)
	}
	if got := cfg.SymbolsForVenue(record.Bybit); len(got) != 1 || got[0] != "ETHUSDT" {
		t.Fatalf("SymbolsForVenue(Bybit) = %v", got)
	}
}
