// Package config loads and validates the gateway's environment-driven
// configuration, with an optional YAML file layer for operators who prefer
// a file over the ;/:-delimited EXCHANGES and SYMBOLS strings.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sawpanic/gateway/internal/apperror"
	"github.com/sawpanic/gateway/internal/record"
)

// VenueConfig is one entry of the EXCHANGES env var: a venue, whether it is
// enabled, and the data types subscribed for it.
type VenueConfig struct {
	Venue     record.Venue
	Enabled   bool
	DataTypes []record.DataType
}

// SymbolBinding is one entry of the SYMBOLS env var: a canonical symbol and
// the subset of venues it is streamed from.
type SymbolBinding struct {
	Symbol string
	Venues []record.Venue
}

// Config holds all gateway configuration.
type Config struct {
	GatewayID           string          `mapstructure:"gateway_id"`
	AeronDir            string          `mapstructure:"aeron_dir"`
	HealthCheckMs        int             `mapstructure:"health_check_ms"`
	ReconnectMaxRetries  int             `mapstructure:"reconnect_max_retries"`
	MetricsPort          int             `mapstructure:"metrics_port"`
	LogLevel             string          `mapstructure:"log_level"`
	ExchangesRaw         string          `mapstructure:"exchanges"`
	SymbolsRaw           string          `mapstructure:"symbols"`

	Exchanges []VenueConfig   `mapstructure:"-"`
	Symbols   []SymbolBinding `mapstructure:"-"`
}

// ReconciliationInterval is the fixed subscription reconciliation cadence,
// independent of HealthCheckMs.
const ReconciliationInterval = 2 * time.Second

// venueCompression reports whether permessage-deflate is safe to enable for
// a venue. This is a configuration-level flag, never negotiated at runtime.
var venueCompression = map[record.Venue]bool{
	record.Binance: true,
	record.OKX:     true,
	record.Bybit:   false,
}

// Compression returns the per-venue compression flag.
func Compression(v record.Venue) bool { return venueCompression[v] }

// Public WebSocket endpoint bases, one per venue. Mirrors the teacher's
// BaseWSURL-style constants; a gateway dials these directly and never
// discovers them at runtime.
const (
	BinanceWSURL = "wss://stream.binance.com:9443/ws"
	OKXWSURL     = "wss://ws.okx.com:8443/ws/v5/public"
	BybitWSURL   = "wss://stream.bybit.com/v5/public/spot"
)

var venueEndpoint = map[record.Venue]string{
	record.Binance: BinanceWSURL,
	record.OKX:     OKXWSURL,
	record.Bybit:   BybitWSURL,
}

// Endpoint returns the public WebSocket base URL for a venue.
func Endpoint(v record.Venue) string { return venueEndpoint[v] }

// Load reads configuration from environment variables (and, if present, a
// YAML file) and validates it. A malformed value returns a CodeConfig
// AppError, fatal at startup.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, apperror.New(apperror.CodeConfig,
				apperror.WithContext("reading config file"), apperror.WithCause(err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperror.New(apperror.CodeConfig,
			apperror.WithContext("unmarshaling config"), apperror.WithCause(err))
	}

	exchanges, err := parseExchanges(cfg.ExchangesRaw)
	if err != nil {
		return nil, err
	}
	cfg.Exchanges = exchanges

	symbols, err := parseSymbols(cfg.SymbolsRaw)
	if err != nil {
		return nil, err
	}
	cfg.Symbols = symbols

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	v.BindEnv("gateway_id", "GATEWAY_ID")
	v.BindEnv("exchanges", "EXCHANGES")
	v.BindEnv("symbols", "SYMBOLS")
	v.BindEnv("aeron_dir", "AERON_DIR")
	v.BindEnv("health_check_ms", "HEALTH_CHECK_MS")
	v.BindEnv("reconnect_max_retries", "RECONNECT_MAX_RETRIES")
	v.BindEnv("metrics_port", "METRICS_PORT")
	v.BindEnv("log_level", "LOG_LEVEL")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway_id", "default")
	v.SetDefault("exchanges", "binance:true:ticker,trade,book;okx:true:ticker,trade,book;bybit:true:ticker,trade,book")
	v.SetDefault("symbols", "BTCUSDT:binance,okx,bybit")
	v.SetDefault("health_check_ms", 5000)
	v.SetDefault("reconnect_max_retries", 10)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("log_level", "info")
}

// AeronDirOrDefault returns AERON_DIR, defaulting to
// /dev/shm/trading-gateway-{GATEWAY_ID}.
func (c *Config) AeronDirOrDefault() string {
	if c.AeronDir != "" {
		return c.AeronDir
	}
	return "/dev/shm/trading-gateway-" + c.GatewayID
}

// parseExchanges parses the `;`-separated `venue:enabled:t1,t2,...` grammar.
func parseExchanges(raw string) ([]VenueConfig, error) {
	var out []VenueConfig
	for _, entry := range splitNonEmpty(raw, ";") {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, apperror.New(apperror.CodeConfig,
				apperror.WithContext(fmt.Sprintf("EXCHANGES: malformed entry %q", entry)))
		}
		venue, ok := record.ParseVenue(strings.TrimSpace(parts[0]))
		if !ok {
			return nil, apperror.New(apperror.CodeConfig,
				apperror.WithContext(fmt.Sprintf("EXCHANGES: unknown venue %q", parts[0])))
		}
		enabled, err := strconv.ParseBool(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, apperror.New(apperror.CodeConfig,
				apperror.WithContext(fmt.Sprintf("EXCHANGES: invalid enabled flag %q", parts[1])))
		}
		var types []record.DataType
		for _, tok := range splitNonEmpty(parts[2], ",") {
			dt, ok := record.ParseDataType(strings.TrimSpace(tok))
			if !ok {
				return nil, apperror.New(apperror.CodeConfig,
					apperror.WithContext(fmt.Sprintf("EXCHANGES: unknown data type %q", tok)))
			}
			types = append(types, dt)
		}
		out = append(out, VenueConfig{Venue: venue, Enabled: enabled, DataTypes: types})
	}
	return out, nil
}

// parseSymbols parses the `;`-separated `SYMBOL:v1,v2,...` grammar.
func parseSymbols(raw string) ([]SymbolBinding, error) {
	var out []SymbolBinding
	for _, entry := range splitNonEmpty(raw, ";") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, apperror.New(apperror.CodeConfig,
				apperror.WithContext(fmt.Sprintf("SYMBOLS: malformed entry %q", entry)))
		}
		symbol := strings.ToUpper(strings.TrimSpace(parts[0]))
		if symbol == "" {
			return nil, apperror.New(apperror.CodeConfig,
				apperror.WithContext("SYMBOLS: empty symbol"))
		}
		var venues []record.Venue
		for _, tok := range splitNonEmpty(parts[1], ",") {
			venue, ok := record.ParseVenue(strings.TrimSpace(tok))
			if !ok {
				return nil, apperror.New(apperror.CodeConfig,
					apperror.WithContext(fmt.Sprintf("SYMBOLS: unknown venue %q", tok)))
			}
			venues = append(venues, venue)
		}
		out = append(out, SymbolBinding{Symbol: symbol, Venues: venues})
	}
	return out, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SymbolsForVenue returns the canonical symbols configured for a venue.
func (c *Config) SymbolsForVenue(v record.Venue) []string {
	var out []string
	for _, b := range c.Symbols {
		for _, bv := range b.Venues {
			if bv == v {
				out = append(out, b.Symbol)
				break
			}
		}
	}
	return out
}

// Validate checks the loaded configuration for consistency beyond what the
// grammar parsers already enforce.
func (c *Config) Validate() error {
	if c.GatewayID == "" {
		return apperror.New(apperror.CodeConfig, apperror.WithContext("GATEWAY_ID must not be empty"))
	}
	if len(c.Exchanges) == 0 {
		return apperror.New(apperror.CodeConfig, apperror.WithContext("EXCHANGES must configure at least one venue"))
	}
	if c.ReconnectMaxRetries <= 0 {
		return apperror.New(apperror.CodeConfig, apperror.WithContext("RECONNECT_MAX_RETRIES must be positive"))
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return apperror.New(apperror.CodeConfig, apperror.WithContext("METRICS_PORT out of range"))
	}
	enabledAny := false
	for _, e := range c.Exchanges {
		if e.Enabled {
			enabledAny = true
		}
	}
	if !enabledAny {
		return apperror.New(apperror.CodeConfig, apperror.WithContext("no venue is enabled"))
	}
	return nil
}
