package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
	databaseDSN       = "DATABASE_DSN"

	ctraderClientIDENV     = "CTRADER_CLIENT_ID"
	ctraderClientSecretENV = "CTRADER_CLIENT_SECRET"
	ctraderAccessTokenENV  = "CTRADER_ACCESS_TOKEN"
	ctraderAccountIDENV    = "CTRADER_ACCOUNT_ID"

	riskPctENV    = "RISK_PCT"
	sizingModeENV = "SIZING_MODE"
)

// Config ...
type Config struct {
	Service struct {
		Name      string `yaml:"name"`
		Host      string `yaml:"host"`
		AdminPort int    `yaml:"admin_port"`
		LogLevel  string `yaml:"log_level"`
	} `yaml:"service"`

	DB         string `yaml:"db_dsn"`
	DBMaxConns int32  `yaml:"db_max_conns"`

	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	CTrader  CTrader  `yaml:"ctrader"`
	Strategy Strategy `yaml:"strategy"`
	Executor Executor `yaml:"executor"`
}

// CTrader - подключение к Open API (JSON поверх websocket).
type CTrader struct {
	Endpoint     string `yaml:"endpoint"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AccessToken  string `yaml:"access_token"`
	AccountID    int64  `yaml:"account_id"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	OrderTimeout      time.Duration `yaml:"order_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// лимит исходящих запросов, req/s
	RateLimit   float64 `yaml:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst"`
	EventBuffer int     `yaml:"event_buffer"`
}

// Strategy - параметры фрактального движка и раннера.
type Strategy struct {
	Name      string `yaml:"name"`
	Symbol    string `yaml:"symbol"`
	Timeframe string `yaml:"timeframe"`

	PipSize        float64 `yaml:"pip_size"`
	MinImpulsePips float64 `yaml:"min_impulse_pips"`
	StopBufferPips float64 `yaml:"stop_buffer_pips"`

	// сигналы старше окна в ордера не уходят (история при первом прогоне)
	LiveWindow  time.Duration `yaml:"live_window"`
	RunInterval time.Duration `yaml:"run_interval"`
	// сколько свечей подтягивать с площадки за один проход
	IngestBars int `yaml:"ingest_bars"`
}

// Executor - очередь ордеров и сайзинг.
type Executor struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`

	SizingMode      string  `yaml:"sizing_mode"` // fixed | risk_percent
	DefaultUnits    float64 `yaml:"default_units"`
	RiskPct         float64 `yaml:"risk_pct"`
	SlippagePct     float64 `yaml:"slippage_pct"`
	VolumeStep      float64 `yaml:"volume_step"`
	MinUnits        float64 `yaml:"min_units"`
	MaxUnits        float64 `yaml:"max_units"`
	AccountCurrency string  `yaml:"account_currency"`
}

func defaults() Config {
	var c Config
	c.Service.Name = "fractal_bot"
	c.Service.Host = "0.0.0.0"
	c.Service.AdminPort = 8081
	c.Service.LogLevel = "info"
	c.DBMaxConns = 8

	c.CTrader = CTrader{
		Endpoint:          "wss://demo.ctraderapi.com:5036",
		ConnectTimeout:    10 * time.Second,
		RequestTimeout:    15 * time.Second,
		OrderTimeout:      20 * time.Second,
		HeartbeatInterval: 15 * time.Second,
		RateLimit:         5,
		RateBurst:         5,
		EventBuffer:       64,
	}
	c.Strategy = Strategy{
		Name:           "fractal_continuation",
		Symbol:         "EURUSD",
		Timeframe:      "5m",
		PipSize:        0.0001,
		MinImpulsePips: 20,
		StopBufferPips: 2,
		LiveWindow:     15 * time.Minute,
		RunInterval:    time.Minute,
		IngestBars:     500,
	}
	c.Executor = Executor{
		Interval:        30 * time.Second,
		BatchSize:       25,
		SizingMode:      "risk_percent",
		DefaultUnits:    1000,
		RiskPct:         1.0,
		SlippagePct:     10,
		VolumeStep:      1000,
		MinUnits:        1000,
		MaxUnits:        10_000_000,
		AccountCurrency: "USD",
	}
	return c
}

func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	return LoadFile(filepath.Join("configs", configFileName))
}

// LoadFile читает yaml поверх дефолтов, затем применяет env и валидирует.
func LoadFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	config := defaults()
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}

	config.applyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	c.DB = getenvDefault(databaseDSN, c.DB)
	c.Telegram.Token = getenvDefault(tokenTelegramENV, c.Telegram.Token)
	c.Telegram.ChatID = int64FromEnv(chatTelegramENV, c.Telegram.ChatID)

	c.CTrader.ClientID = getenvDefault(ctraderClientIDENV, c.CTrader.ClientID)
	c.CTrader.ClientSecret = getenvDefault(ctraderClientSecretENV, c.CTrader.ClientSecret)
	c.CTrader.AccessToken = getenvDefault(ctraderAccessTokenENV, c.CTrader.AccessToken)
	c.CTrader.AccountID = int64FromEnv(ctraderAccountIDENV, c.CTrader.AccountID)

	c.Executor.RiskPct = floatFromEnv(riskPctENV, c.Executor.RiskPct)
	c.Executor.SizingMode = getenvDefault(sizingModeENV, c.Executor.SizingMode)
}

func (c *Config) Validate() error {
	if c.Strategy.PipSize <= 0 {
		return fmt.Errorf("strategy.pip_size must be positive, got %v", c.Strategy.PipSize)
	}
	if c.Strategy.MinImpulsePips < 0 || c.Strategy.StopBufferPips < 0 {
		return fmt.Errorf("strategy pip thresholds must be non-negative")
	}
	switch c.Executor.SizingMode {
	case "fixed", "risk_percent":
	default:
		return fmt.Errorf("executor.sizing_mode %q is not supported", c.Executor.SizingMode)
	}
	if c.Executor.BatchSize <= 0 {
		return fmt.Errorf("executor.batch_size must be positive")
	}
	if c.Executor.VolumeStep <= 0 || c.Executor.MinUnits <= 0 || c.Executor.MaxUnits < c.Executor.MinUnits {
		return fmt.Errorf("executor volume limits are inconsistent: step=%v min=%v max=%v",
			c.Executor.VolumeStep, c.Executor.MinUnits, c.Executor.MaxUnits)
	}
	if c.CTrader.RequestTimeout <= 0 || c.CTrader.OrderTimeout <= 0 {
		return fmt.Errorf("ctrader timeouts must be positive")
	}
	return nil
}

func int64FromEnv(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
