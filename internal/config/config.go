package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server    ServerConfig            `yaml:"server"`
	Database  DatabaseConfig          `yaml:"database"`
	NATS      NATSConfig              `yaml:"nats"`
	Toncenter ToncenterConfig         `yaml:"toncenter"`
	HotWallet HotWalletConfig         `yaml:"hot_wallet"`
	Jettons   map[string]JettonConfig `yaml:"jettons"` // keyed by jetton name, e.g. "jUSDC"
	Batching  BatchingConfig          `yaml:"batching"`
	Schedule  ScheduleConfig          `yaml:"schedule"`
	Admin     AdminConfig             `yaml:"admin"`
	CORS      CORSConfig              `yaml:"cors"`
	Log       LogConfig               `yaml:"log"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // postgres | memory
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// NATSConfig NATS alert/event bus configuration (empty URL disables it)
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`        // seconds
	ReconnectWait   int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StreamName      string `yaml:"stream_name"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// ToncenterConfig toncenter API v2 configuration
type ToncenterConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Timeout  int    `yaml:"timeout"` // request timeout (seconds)
	Archival bool   `yaml:"archival"`
	PageSize int    `yaml:"page_size"`
}

// HotWalletConfig highload wallet v3 configuration
type HotWalletConfig struct {
	Address       string `yaml:"address"`
	Seed          string `yaml:"seed"`     // base64 or hex, takes precedence over mnemonic
	Mnemonic      string `yaml:"mnemonic"` // 24 words
	SubwalletID   uint32 `yaml:"subwallet_id"`
	Timeout       uint32 `yaml:"timeout"`        // dedup window (seconds)
	ForwardAmount string `yaml:"forward_amount"` // nanotons attached to the internal_transfer to self
}

// JettonConfig a supported jetton
type JettonConfig struct {
	Minter        string `yaml:"minter"`
	WalletAddress string `yaml:"wallet_address"` // the hot wallet's jetton wallet
	Decimals      int    `yaml:"decimals"`
	ForwardAmount string `yaml:"forward_amount"` // nanotons attached to each jetton transfer
}

// BatchingConfig batch builder policy
type BatchingConfig struct {
	MinSize           int `yaml:"min_size"`
	MaxSize           int `yaml:"max_size"`
	ForceAfterTicks   int `yaml:"force_after_ticks"`
	MaxBacklog        int `yaml:"max_backlog"`
	MaxBatchesPerTick int `yaml:"max_batches_per_tick"`
}

// ScheduleConfig task intervals (seconds)
type ScheduleConfig struct {
	BatchingInterval        int `yaml:"batching_interval"`
	SubmitInterval          int `yaml:"submit_interval"`
	ReconcileInterval       int `yaml:"reconcile_interval"`
	JettonReconcileInterval int `yaml:"jetton_reconcile_interval"`
	TickTimeout             int `yaml:"tick_timeout"`
}

// AdminConfig operator API configuration
type AdminConfig struct {
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`    // prefer ADMIN_PASSWORD
	TOTPSecret string   `yaml:"totp_secret"` // prefer ADMIN_TOTP_SECRET
	JWTSecret  string   `yaml:"jwt_secret"`  // prefer ADMIN_JWT_SECRET
	TokenTTL   int      `yaml:"token_ttl"`   // hours
	AllowedIPs []string `yaml:"allowed_ips"` // List of allowed IP addresses or CIDR ranges
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"` // seconds
}

// LogConfig logrus configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text | json
}

var AppConfig *Config

// Default returns a configuration with every tunable at its default
func Default() Config {
	return Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres", MaxOpenConns: 20, MaxIdleConns: 5},
		NATS: NATSConfig{
			Timeout:       10,
			ReconnectWait: 5,
			MaxReconnects: -1,
			StreamName:    "WITHDRAWALS",
			SubjectPrefix: "withdrawals",
		},
		Toncenter: ToncenterConfig{
			BaseURL:  "https://toncenter.com/api/v2",
			Timeout:  15,
			Archival: true,
			PageSize: 20,
		},
		HotWallet: HotWalletConfig{
			SubwalletID:   0x10ad,
			Timeout:       3600,
			ForwardAmount: "1000000000",
		},
		Batching: BatchingConfig{
			MinSize:           15,
			MaxSize:           50,
			ForceAfterTicks:   3,
			MaxBacklog:        1000,
			MaxBatchesPerTick: 20,
		},
		Schedule: ScheduleConfig{
			BatchingInterval:        10,
			SubmitInterval:          8,
			ReconcileInterval:       5,
			JettonReconcileInterval: 10,
			TickTimeout:             60,
		},
		Admin: AdminConfig{Username: "admin", TokenTTL: 24},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig Load configuration file into AppConfig
func LoadConfig(configPath string) error {
	config, err := Load(configPath)
	if err != nil {
		return err
	}
	AppConfig = config
	return nil
}

// Load reads, overrides from the environment and validates a configuration file
func Load(configPath string) (*Config, error) {
	// Use config.local.yaml when present, config.yaml otherwise
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			logrus.Infof("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	logrus.Infof("✅ Loading configuration from config file: %s", configPath)
	return config, nil
}

// Parse decodes YAML on top of the defaults, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	overrideFromEnv(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &config, nil
}

func overrideFromEnv(config *Config) {
	// DatabaseDSN
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	// server configuration
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// NATSConfiguration
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	// Toncenter
	if baseURL := os.Getenv("TONCENTER_BASE_URL"); baseURL != "" {
		config.Toncenter.BaseURL = baseURL
	}
	if apiKey := os.Getenv("TONCENTER_API_KEY"); apiKey != "" {
		config.Toncenter.APIKey = apiKey
	}

	// Hot wallet key material is expected from the environment in production
	if addr := os.Getenv("HOT_WALLET_ADDRESS"); addr != "" {
		config.HotWallet.Address = addr
	}
	if seed := os.Getenv("HOT_WALLET_SEED"); seed != "" {
		config.HotWallet.Seed = seed
	}
	if mnemonic := os.Getenv("HOT_WALLET_MNEMONIC"); mnemonic != "" {
		config.HotWallet.Mnemonic = mnemonic
	}

	// Admin credentials
	if password := os.Getenv("ADMIN_PASSWORD"); password != "" {
		config.Admin.Password = password
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}

	// CORS Configuration
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		origins := strings.Split(corsOrigins, ",")
		config.CORS.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				config.CORS.AllowedOrigins = append(config.CORS.AllowedOrigins, trimmed)
			}
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}

// maxBatchSize highload wallet v3 action list limit
const maxBatchSize = 254

// Validate checks ranges that would break engine invariants
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	b := c.Batching
	if b.MinSize <= 0 || b.MinSize > b.MaxSize || b.MaxSize > maxBatchSize {
		errs = append(errs, fmt.Errorf("batching band must satisfy 0 < min_size <= max_size <= %d, got [%d, %d]", maxBatchSize, b.MinSize, b.MaxSize))
	}
	if b.ForceAfterTicks <= 0 {
		errs = append(errs, errors.New("batching.force_after_ticks must be positive"))
	}
	if b.MaxBacklog < b.MaxSize {
		errs = append(errs, errors.New("batching.max_backlog must be at least batching.max_size"))
	}
	if b.MaxBatchesPerTick <= 0 {
		errs = append(errs, errors.New("batching.max_batches_per_tick must be positive"))
	}

	s := c.Schedule
	if s.BatchingInterval <= 0 || s.SubmitInterval <= 0 || s.ReconcileInterval <= 0 || s.JettonReconcileInterval <= 0 || s.TickTimeout <= 0 {
		errs = append(errs, errors.New("schedule intervals and tick_timeout must be positive"))
	}

	if c.HotWallet.Timeout == 0 || c.HotWallet.Timeout >= 1<<22 {
		errs = append(errs, fmt.Errorf("hot_wallet.timeout %d out of range", c.HotWallet.Timeout))
	}
	if _, err := ParseNano(c.HotWallet.ForwardAmount); err != nil {
		errs = append(errs, fmt.Errorf("hot_wallet.forward_amount: %w", err))
	}
	for name, jetton := range c.Jettons {
		if jetton.WalletAddress == "" {
			errs = append(errs, fmt.Errorf("jettons.%s.wallet_address is required", name))
		}
		if _, err := ParseNano(jetton.ForwardAmountOrDefault()); err != nil {
			errs = append(errs, fmt.Errorf("jettons.%s.forward_amount: %w", name, err))
		}
	}
	if c.Toncenter.PageSize < 2 {
		errs = append(errs, errors.New("toncenter.page_size must be at least 2"))
	}

	return errors.Join(errs...)
}

// DefaultJettonForwardAmount 0.05 TON
const DefaultJettonForwardAmount = "50000000"

// ForwardAmountOrDefault returns the configured forward amount or 0.05 TON
func (j JettonConfig) ForwardAmountOrDefault() string {
	if j.ForwardAmount == "" {
		return DefaultJettonForwardAmount
	}
	return j.ForwardAmount
}

// ParseNano parses a positive integer amount in nanotons
func ParseNano(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// Seconds converts a seconds field to a duration
func Seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}
