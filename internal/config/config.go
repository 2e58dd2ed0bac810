package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/landgrid/registry/internal/domain"
)

// DatabaseConfig holds Postgres cache connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the Postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// EthereumConfig holds ledger connection and signing settings
type EthereumConfig struct {
	RPCURL          string        `mapstructure:"rpc_url"`
	WSURL           string        `mapstructure:"ws_url"`
	ChainID         int64         `mapstructure:"chain_id"`
	ContractAddress string        `mapstructure:"contract_address"`
	SignerKey       string        `mapstructure:"signer_key"`
	GasMargin       float64       `mapstructure:"gas_margin"`
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	StartBlock      uint64        `mapstructure:"start_block"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	BatchWindow     uint64        `mapstructure:"batch_window"`
}

// ContentStoreConfig holds content-addressable gateway settings
type ContentStoreConfig struct {
	APIURL      string        `mapstructure:"api_url"`
	GatewayURL  string        `mapstructure:"gateway_url"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	Timeout     time.Duration `mapstructure:"timeout"`
	ReapOrphans bool          `mapstructure:"reap_orphans"`
}

// DocumentConfig holds document layer settings
type DocumentConfig struct {
	MaxFileSize   int64    `mapstructure:"max_file_size"`
	AllowedTypes  []string `mapstructure:"allowed_types"`
	EncryptionKey string   `mapstructure:"encryption_key"`
}

// NATSConfig holds event bus settings
type NATSConfig struct {
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
	Subject    string `mapstructure:"subject"`
}

// RedisConfig holds cache invalidation settings
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Channel string `mapstructure:"channel"`
}

// SentryConfig holds error reporting settings
type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Config is the top-level configuration shared by all binaries
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Debug        bool               `mapstructure:"debug"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Ethereum     EthereumConfig     `mapstructure:"ethereum"`
	ContentStore ContentStoreConfig `mapstructure:"content_store"`
	Document     DocumentConfig     `mapstructure:"document"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Sentry       SentryConfig       `mapstructure:"sentry"`
}

func loadEnv() {
	// Missing .env is fine, env vars may come from the process environment
	_ = godotenv.Overload()
}

func configureViper(v *viper.Viper) {
	v.SetEnvPrefix("LANDGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "landgrid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("ethereum.chain_id", 44787)
	v.SetDefault("ethereum.gas_margin", 1.2)
	v.SetDefault("ethereum.confirm_timeout", 120*time.Second)
	v.SetDefault("ethereum.start_block", 0)
	v.SetDefault("ethereum.poll_interval", 15*time.Second)
	v.SetDefault("ethereum.batch_window", 1000)

	v.SetDefault("content_store.api_url", "https://api.pinata.cloud")
	v.SetDefault("content_store.gateway_url", domain.DEFAULT_CONTENT_GATEWAY)
	v.SetDefault("content_store.timeout", 30*time.Second)
	v.SetDefault("content_store.reap_orphans", false)

	v.SetDefault("document.max_file_size", int64(10*1024*1024))
	v.SetDefault("document.allowed_types", []string{
		"application/pdf",
		"image/jpeg",
		"image/png",
		"image/tiff",
	})

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream_name", "landgrid")
	v.SetDefault("nats.subject", "landgrid.registry.events")

	v.SetDefault("redis.channel", "landgrid:invalidation")
}

// bindAllEnvVars binds every known key so AutomaticEnv resolves nested keys
func bindAllEnvVars(v *viper.Viper) {
	for _, key := range []string{
		"environment",
		"debug",
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"ethereum.rpc_url",
		"ethereum.ws_url",
		"ethereum.chain_id",
		"ethereum.contract_address",
		"ethereum.signer_key",
		"ethereum.gas_margin",
		"ethereum.confirm_timeout",
		"ethereum.start_block",
		"ethereum.poll_interval",
		"ethereum.batch_window",
		"content_store.api_url",
		"content_store.gateway_url",
		"content_store.api_key",
		"content_store.api_secret",
		"content_store.timeout",
		"content_store.reap_orphans",
		"document.max_file_size",
		"document.allowed_types",
		"document.encryption_key",
		"nats.url",
		"nats.stream_name",
		"nats.subject",
		"redis.url",
		"redis.channel",
		"sentry.dsn",
	} {
		_ = v.BindEnv(key)
	}
}

// Load reads configuration from the environment (and an optional .env file)
func Load() (*Config, error) {
	loadEnv()

	v := viper.New()
	configureViper(v)
	setDefaults(v)
	bindAllEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings
func (c *Config) Validate() error {
	if c.Ethereum.RPCURL == "" {
		return fmt.Errorf("ethereum.rpc_url is required")
	}
	if c.Ethereum.ContractAddress == "" {
		return fmt.Errorf("ethereum.contract_address is required")
	}
	if c.Ethereum.GasMargin < 1.0 {
		return fmt.Errorf("ethereum.gas_margin must be at least 1.0")
	}
	if c.Database.Password == "" && c.Environment != "development" {
		return fmt.Errorf("database.password is required outside development")
	}
	return nil
}
