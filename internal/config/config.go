package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/feral-file/ff-marketplace-indexer/internal/domain"
)

const envPrefix = "FF_MARKETPLACE"

// Store backends
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`  // e.g. "5m", "1h"
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"` // e.g. "10m", "30m"
}

// StoreConfig selects the entity store backend
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // postgres | memory
}

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL             string        `mapstructure:"url"`
	StreamName      string        `mapstructure:"stream_name"`
	ConsumerName    string        `mapstructure:"consumer_name"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	ConnectionName  string        `mapstructure:"connection_name"`
	AckWait         time.Duration `mapstructure:"ack_wait"`
	MaxDeliver      int           `mapstructure:"max_deliver"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`

	// In-process retries of a failing event before it is handed back to JetStream
	RetryInitialInterval time.Duration `mapstructure:"retry_initial_interval"`
	RetryMaxElapsed      time.Duration `mapstructure:"retry_max_elapsed"`
}

// EthereumConfig holds Ethereum-specific configuration
type EthereumConfig struct {
	WebSocketURL         string        `mapstructure:"websocket_url"`
	RPCURL               string        `mapstructure:"rpc_url"`
	ChainID              domain.Chain  `mapstructure:"chain_id"`
	StartBlock           uint64        `mapstructure:"start_block"`
	MarketplaceContracts []string      `mapstructure:"marketplace_contracts"`
	CollectionContracts  []string      `mapstructure:"collection_contracts"`
	BlockHeadTTL         time.Duration `mapstructure:"block_head_ttl"`
	BlockHeadStaleWindow time.Duration `mapstructure:"block_head_stale_window"`
	BlockTimestampCache  int           `mapstructure:"block_timestamp_cache"`
	CursorSaveFreq       uint64        `mapstructure:"cursor_save_freq"`
	CursorSaveDelay      time.Duration `mapstructure:"cursor_save_delay"`
}

// Contracts returns the marketplace and collection contracts together
func (c *EthereumConfig) Contracts() []string {
	contracts := make([]string, 0, len(c.MarketplaceContracts)+len(c.CollectionContracts))
	contracts = append(contracts, c.MarketplaceContracts...)
	contracts = append(contracts, c.CollectionContracts...)
	return contracts
}

// MetadataConfig holds token metadata resolution configuration
type MetadataConfig struct {
	FetchRemote     bool          `mapstructure:"fetch_remote"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
	IPFSGateways    []string      `mapstructure:"ipfs_gateways"`
	ArweaveGateways []string      `mapstructure:"arweave_gateways"`
}

// EmitterConfig holds configuration for marketplace-event-emitter
type EmitterConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Store      StoreConfig    `mapstructure:"store"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
}

// ProcessorConfig holds configuration for marketplace-processor
type ProcessorConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
	Store      StoreConfig    `mapstructure:"store"`
	NATS       NATSConfig     `mapstructure:"nats"`
	Ethereum   EthereumConfig `mapstructure:"ethereum"`
	Metadata   MetadataConfig `mapstructure:"metadata"`
}

// Validate checks the emitter configuration
func (c *EmitterConfig) Validate() error {
	if c.Ethereum.WebSocketURL == "" {
		return errors.New("ethereum.websocket_url is required")
	}
	if err := validateChain(c.Ethereum.ChainID); err != nil {
		return err
	}
	if err := validateContracts(c.Ethereum.Contracts()); err != nil {
		return err
	}
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	return validateStore(c.Store, c.Database)
}

// Validate checks the processor configuration
func (c *ProcessorConfig) Validate() error {
	if c.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if err := validateChain(c.Ethereum.ChainID); err != nil {
		return err
	}
	return validateStore(c.Store, c.Database)
}

func validateChain(chain domain.Chain) error {
	if !domain.IsValidChain(chain) {
		return fmt.Errorf("unsupported ethereum.chain_id %q", chain)
	}
	return nil
}

func validateContracts(contracts []string) error {
	for _, c := range contracts {
		if !common.IsHexAddress(c) {
			return fmt.Errorf("invalid contract address %q", c)
		}
	}
	return nil
}

func validateStore(store StoreConfig, db DatabaseConfig) error {
	switch store.Backend {
	case StoreBackendMemory:
		return nil
	case StoreBackendPostgres:
		if db.Host == "" {
			return errors.New("database.host is required")
		}
		if db.DBName == "" {
			return errors.New("database.dbname is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown store.backend %q", store.Backend)
	}
}

func setCommonDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.conn_max_idle_time", "10m")
	v.SetDefault("store.backend", StoreBackendPostgres)
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.stream_name", "MARKETPLACE_EVENTS")
	v.SetDefault("nats.duplicate_window", "2h")
	v.SetDefault("ethereum.chain_id", string(domain.ChainEthereumMainnet))
}

func LoadEmitterConfig(configFile string, envPath string) (*EmitterConfig, error) {
	v := configureViper("marketplace-event-emitter", configFile, envPath)

	setCommonDefaults(v)
	v.SetDefault("nats.connection_name", "marketplace-event-emitter")
	v.SetDefault("ethereum.block_head_ttl", "12s")
	v.SetDefault("ethereum.block_head_stale_window", "60s")
	v.SetDefault("ethereum.block_timestamp_cache", 10000)
	v.SetDefault("ethereum.cursor_save_freq", 10)
	v.SetDefault("ethereum.cursor_save_delay", "30s")

	if err := readConfig(v, configFile); err != nil {
		return nil, err
	}

	var config EmitterConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func LoadProcessorConfig(configFile string, envPath string) (*ProcessorConfig, error) {
	v := configureViper("marketplace-processor", configFile, envPath)

	setCommonDefaults(v)
	v.SetDefault("nats.connection_name", "marketplace-processor")
	v.SetDefault("nats.consumer_name", "marketplace-processor")
	v.SetDefault("nats.ack_wait", "1m")
	v.SetDefault("nats.max_deliver", 10)
	v.SetDefault("nats.retry_initial_interval", "500ms")
	v.SetDefault("nats.retry_max_elapsed", "30s")
	v.SetDefault("metadata.fetch_remote", true)
	v.SetDefault("metadata.http_timeout", "10s")
	v.SetDefault("metadata.max_elapsed_time", "30s")
	v.SetDefault("metadata.ipfs_gateways", []string{domain.DEFAULT_IPFS_GATEWAY})
	v.SetDefault("metadata.arweave_gateways", []string{domain.DEFAULT_ARWEAVE_GATEWAY})

	if err := readConfig(v, configFile); err != nil {
		return nil, err
	}

	var config ProcessorConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// readConfig reads the config file. Without an explicit file a missing
// config.yaml is fine and everything comes from env and defaults.
func readConfig(v *viper.Viper, configFile string) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}

	var notFound viper.ConfigFileNotFoundError
	if configFile == "" && errors.As(err, &notFound) {
		return nil
	}

	return fmt.Errorf("failed to read config: %w", err)
}

func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath, service)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindAllEnvVars(v)
	return v
}

func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		"store.backend",
		// NATS
		"nats.url",
		"nats.stream_name",
		"nats.consumer_name",
		"nats.max_reconnects",
		"nats.reconnect_wait",
		"nats.connection_name",
		"nats.ack_wait",
		"nats.max_deliver",
		"nats.duplicate_window",
		"nats.retry_initial_interval",
		"nats.retry_max_elapsed",
		// Ethereum
		"ethereum.websocket_url",
		"ethereum.rpc_url",
		"ethereum.chain_id",
		"ethereum.start_block",
		"ethereum.marketplace_contracts",
		"ethereum.collection_contracts",
		"ethereum.block_head_ttl",
		"ethereum.block_head_stale_window",
		"ethereum.block_timestamp_cache",
		"ethereum.cursor_save_freq",
		"ethereum.cursor_save_delay",
		// Metadata
		"metadata.fetch_remote",
		"metadata.http_timeout",
		"metadata.max_elapsed_time",
		"metadata.ipfs_gateways",
		"metadata.arweave_gateways",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	// Shared base first, then local, then optional per-service local
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // later files override earlier ones
	}
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
