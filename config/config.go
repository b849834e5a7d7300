// Package config loads the service configuration from YAML, .env and flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvFeedURL        = "MARKETPULSE_FEED_URL"
	EnvRedisAddr      = "MARKETPULSE_REDIS_ADDR"
	EnvSnapshotURL    = "MARKETPULSE_SNAPSHOT_URL"
	EnvHyperliquidKey = "HYPERLIQUID_PRIVATE_KEY"
	EnvBinanceKey     = "BINANCE_API_KEY"
	EnvBinanceSecret  = "BINANCE_API_SECRET"
	EnvBybitKey       = "BYBIT_API_KEY"
	EnvBybitSecret    = "BYBIT_API_SECRET"
)

// Feed kinds.
const (
	FeedWebSocket = "ws"
	FeedKafka     = "kafka"
	FeedNone      = "none"
)

// Price poll and OHLC sources.
const (
	SourceHTTP    = "http"
	SourceBinance = "binance"
	SourceBybit   = "bybit"
)

type Config struct {
	Pair   domain.Pair
	Listen string
	// TLSDomains enables automatic certificates when set.
	TLSDomains  []string
	TLSCacheDir string

	FeedKind      string
	FeedURL       string
	FeedSubscribe string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	ArcCapacity   int

	GeoEndpoint   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	GeoCacheTTL   time.Duration

	PollSource   string
	SnapshotURL  string
	PollInterval time.Duration
	FlashDecay   time.Duration

	OHLCSource string
	OHLCURL    string

	ChartContainer string
	ChartSymbol    string
	ChartScriptURL string
	DefaultChart   domain.ChartViewConfig

	MarketsInterval time.Duration
	Exchanges       []string
	HyperliquidURL  string
	HyperliquidKey  string

	// Exchange credentials come from the environment only. Public endpoints
	// work without them.
	BinanceKey    string
	BinanceSecret string
	BybitKey      string
	BybitSecret   string

	SnapshotDir string
	// Console prints price labels to the terminal.
	Console bool
}

// ConfigTmp is the YAML representation; numbers are kept as strings and
// validated while building Config.
type ConfigTmp struct {
	Pair            string        `yaml:"pair"`
	Listen          string        `yaml:"listen,omitempty"`
	TLSDomains      []string      `yaml:"tls_domains,omitempty"`
	TLSCacheDir     string        `yaml:"tls_cache_dir,omitempty"`
	FeedKind        string        `yaml:"feed,omitempty"`
	FeedURL         string        `yaml:"feed_url,omitempty"`
	FeedSubscribe   string        `yaml:"feed_subscribe,omitempty"`
	KafkaBrokers    []string      `yaml:"kafka_brokers,omitempty"`
	KafkaTopic      string        `yaml:"kafka_topic,omitempty"`
	KafkaGroup      string        `yaml:"kafka_group,omitempty"`
	ArcCapacityStr  string        `yaml:"arc_capacity,omitempty"`
	GeoEndpoint     string        `yaml:"geo_endpoint,omitempty"`
	RedisAddr       string        `yaml:"redis_addr,omitempty"`
	RedisPassword   string        `yaml:"redis_password,omitempty"`
	RedisDBStr      string        `yaml:"redis_db,omitempty"`
	GeoCacheTTL     time.Duration `yaml:"geo_cache_ttl,omitempty"`
	PollSource      string        `yaml:"poll_source,omitempty"`
	SnapshotURL     string        `yaml:"snapshot_url,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	FlashDecay      time.Duration `yaml:"flash_decay,omitempty"`
	OHLCSource      string        `yaml:"ohlc_source,omitempty"`
	OHLCURL         string        `yaml:"ohlc_url,omitempty"`
	ChartContainer  string        `yaml:"chart_container,omitempty"`
	ChartSymbol     string        `yaml:"chart_symbol,omitempty"`
	ChartScriptURL  string        `yaml:"chart_script_url,omitempty"`
	ChartViewMode   string        `yaml:"chart_view_mode,omitempty"`
	ChartTimeframe  string        `yaml:"chart_timeframe,omitempty"`
	ChartTheme      string        `yaml:"chart_theme,omitempty"`
	MarketsInterval time.Duration `yaml:"markets_interval,omitempty"`
	Exchanges       []string      `yaml:"exchanges,omitempty"`
	HyperliquidURL  string        `yaml:"hyperliquid_url,omitempty"`
	SnapshotDir     string        `yaml:"snapshot_dir,omitempty"`
	Console         bool          `yaml:"console,omitempty"`
}

// Flags are the command line options.
type Flags struct {
	ConfigPath string
	Setup      bool
	Pair       string
	Listen     string
	FeedURL    string
}

// ParseFlags reads the command line.
func ParseFlags(args []string) (Flags, error) {
	var f Flags
	fs := flag.NewFlagSet("marketpulse", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive configuration wizard")
	fs.StringVar(&f.Pair, "pair", "BTC_USDT", "tracked pair, example: BTC_USDT")
	fs.StringVar(&f.Listen, "listen", ":8080", "http listen address")
	fs.StringVar(&f.FeedURL, "feed", "", "transaction feed websocket url")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Get loads .env, then the YAML file named by --config or the flags, then
// applies environment overrides.
func Get(f Flags) (Config, error) {
	// a missing .env file is fine
	_ = godotenv.Load()

	tmp := ConfigTmp{Pair: f.Pair, Listen: f.Listen, FeedURL: f.FeedURL}
	if f.ConfigPath != "" {
		var err error
		tmp, err = readYaml(f.ConfigPath)
		if err != nil {
			return Config{}, err
		}
	}
	applyEnv(&tmp)

	return tmp.Parse()
}

func readYaml(path string) (ConfigTmp, error) {
	var tmp ConfigTmp
	b, err := os.ReadFile(path)
	if err != nil {
		return ConfigTmp{}, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(b, &tmp); err != nil {
		return ConfigTmp{}, errors.Wrapf(err, "parse config %s", path)
	}
	return tmp, nil
}

func applyEnv(c *ConfigTmp) {
	if v := os.Getenv(EnvFeedURL); v != "" {
		c.FeedURL = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv(EnvSnapshotURL); v != "" {
		c.SnapshotURL = v
	}
}

// Parse validates c and fills defaults.
func (c ConfigTmp) Parse() (Config, error) {
	pair, err := domain.ParsePair(c.Pair)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'pair' param in config: %s, error: %w", c.Pair, err)
	}

	cfg := Config{
		Pair:            pair,
		Listen:          orDefault(c.Listen, ":8080"),
		TLSDomains:      c.TLSDomains,
		TLSCacheDir:     orDefault(c.TLSCacheDir, "cert-cache"),
		FeedURL:         c.FeedURL,
		FeedSubscribe:   c.FeedSubscribe,
		KafkaBrokers:    c.KafkaBrokers,
		KafkaTopic:      c.KafkaTopic,
		KafkaGroup:      orDefault(c.KafkaGroup, "marketpulse"),
		GeoEndpoint:     c.GeoEndpoint,
		RedisAddr:       c.RedisAddr,
		RedisPassword:   c.RedisPassword,
		GeoCacheTTL:     durationOr(c.GeoCacheTTL, 24*time.Hour),
		SnapshotURL:     c.SnapshotURL,
		PollInterval:    durationOr(c.PollInterval, 120*time.Second),
		FlashDecay:      durationOr(c.FlashDecay, 600*time.Millisecond),
		OHLCURL:         c.OHLCURL,
		ChartContainer:  orDefault(c.ChartContainer, "main-chart"),
		ChartSymbol:     orDefault(c.ChartSymbol, "BINANCE:"+pair.Symbol()),
		ChartScriptURL:  c.ChartScriptURL,
		MarketsInterval: durationOr(c.MarketsInterval, time.Minute),
		Exchanges:       c.Exchanges,
		HyperliquidURL:  c.HyperliquidURL,
		HyperliquidKey:  os.Getenv(EnvHyperliquidKey),
		BinanceKey:      os.Getenv(EnvBinanceKey),
		BinanceSecret:   os.Getenv(EnvBinanceSecret),
		BybitKey:        os.Getenv(EnvBybitKey),
		BybitSecret:     os.Getenv(EnvBybitSecret),
		SnapshotDir:     orDefault(c.SnapshotDir, "./wal/price"),
		Console:         c.Console,
	}
	if len(cfg.Exchanges) == 0 {
		cfg.Exchanges = []string{SourceBinance, SourceBybit, "hyperliquid"}
	}

	cfg.FeedKind = c.FeedKind
	if cfg.FeedKind == "" {
		switch {
		case len(c.KafkaBrokers) > 0:
			cfg.FeedKind = FeedKafka
		case c.FeedURL != "":
			cfg.FeedKind = FeedWebSocket
		default:
			cfg.FeedKind = FeedNone
		}
	}
	switch cfg.FeedKind {
	case FeedWebSocket:
		if cfg.FeedURL == "" {
			return Config{}, errors.New("'feed_url' is required for the ws feed")
		}
	case FeedKafka:
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return Config{}, errors.New("'kafka_brokers' and 'kafka_topic' are required for the kafka feed")
		}
	case FeedNone:
	default:
		return Config{}, fmt.Errorf("incorrect 'feed' param in config: %s", cfg.FeedKind)
	}

	if cfg.ArcCapacity, err = intOr(c.ArcCapacityStr, 64); err != nil || cfg.ArcCapacity < 1 {
		return Config{}, fmt.Errorf("incorrect 'arc_capacity' param in config (must be a positive integer): %s", c.ArcCapacityStr)
	}
	if cfg.RedisDB, err = intOr(c.RedisDBStr, 0); err != nil {
		return Config{}, fmt.Errorf("incorrect 'redis_db' param in config (must be an integer), error: %w", err)
	}

	cfg.PollSource = c.PollSource
	if cfg.PollSource == "" {
		cfg.PollSource = SourceBybit
		if cfg.SnapshotURL != "" {
			cfg.PollSource = SourceHTTP
		}
	}
	if cfg.PollSource != SourceHTTP && cfg.PollSource != SourceBybit {
		return Config{}, fmt.Errorf("incorrect 'poll_source' param in config: %s", cfg.PollSource)
	}
	if cfg.PollSource == SourceHTTP && cfg.SnapshotURL == "" {
		return Config{}, errors.New("'snapshot_url' is required for the http poll source")
	}

	cfg.OHLCSource = orDefault(c.OHLCSource, SourceBinance)
	switch cfg.OHLCSource {
	case SourceBinance, SourceBybit:
	case SourceHTTP:
		if cfg.OHLCURL == "" {
			return Config{}, errors.New("'ohlc_url' is required for the http ohlc source")
		}
	default:
		return Config{}, fmt.Errorf("incorrect 'ohlc_source' param in config: %s", cfg.OHLCSource)
	}

	tf, ok := domain.TimeframeByLabel(orDefault(c.ChartTimeframe, domain.DefaultTimeframe.Label))
	if !ok {
		return Config{}, fmt.Errorf("incorrect 'chart_timeframe' param in config: %s", c.ChartTimeframe)
	}
	mode := domain.ViewMode(orDefault(c.ChartViewMode, string(domain.ViewCandles)))
	if !mode.Valid() {
		return Config{}, fmt.Errorf("incorrect 'chart_view_mode' param in config: %s", c.ChartViewMode)
	}
	theme := domain.Theme(strings.ToLower(orDefault(c.ChartTheme, string(domain.ThemeDark))))
	if theme != domain.ThemeDark && theme != domain.ThemeLight {
		return Config{}, fmt.Errorf("incorrect 'chart_theme' param in config: %s", c.ChartTheme)
	}
	cfg.DefaultChart = domain.ChartViewConfig{ViewMode: mode, Timeframe: tf, Theme: theme}

	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func intOr(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
