// Package config provides configuration loading for the bridge deployer.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. BRIDGE_STATE_DIR.
const EnvPrefix = "BRIDGE"

// ErrUnknownNetwork is returned when a network is not configured.
var ErrUnknownNetwork = errors.New("unknown network")

// Config holds all configuration for the deployer.
type Config struct {
	Networks  map[string]NetworkConfig `mapstructure:"networks" validate:"dive"`
	Artifacts ArtifactsConfig          `mapstructure:"artifacts"`
	State     StateConfig              `mapstructure:"state"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Lock      LockConfig               `mapstructure:"lock"`
	Execution ExecutionConfig          `mapstructure:"execution"`
	Verify    VerifyConfig             `mapstructure:"verify"`
	Server    ServerConfig             `mapstructure:"server"`
	Log       LogConfig                `mapstructure:"log"`
}

// NetworkConfig holds one target network.
type NetworkConfig struct {
	// Name is the canonical, case-preserving network name. Viper folds map
	// keys to lower case.
	Name       string         `mapstructure:"name" validate:"required"`
	ChainID    int64          `mapstructure:"chain_id" validate:"gt=0"`
	RPCURL     string         `mapstructure:"rpc_url" validate:"omitempty,url"`
	PrivateKey string         `mapstructure:"private_key"`
	Signer     SignerConfig   `mapstructure:"signer"`
	Explorer   ExplorerConfig `mapstructure:"explorer"`
}

// SignerConfig configures a remote JSON-RPC signer used instead of a
// private key.
type SignerConfig struct {
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`
	APIKey   string `mapstructure:"api_key"`
	Address  string `mapstructure:"address" validate:"omitempty,eth_addr"`
}

// ExplorerConfig configures the Etherscan-compatible verification API.
type ExplorerConfig struct {
	APIURL     string `mapstructure:"api_url" validate:"omitempty,url"`
	BrowserURL string `mapstructure:"browser_url" validate:"omitempty,url"`
	APIKey     string `mapstructure:"api_key"`
}

// ArtifactsConfig locates Hardhat compilation output.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" validate:"required"`
}

// StateConfig selects the deployment state store.
type StateConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=file postgres"`
	Dir    string `mapstructure:"dir" validate:"required_if=Driver file"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the postgres:// URL used by migrations.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LockConfig selects how concurrent runs against one network are excluded.
type LockConfig struct {
	Driver string        `mapstructure:"driver" validate:"oneof=local redis"`
	TTL    time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

// ExecutionConfig tunes transaction submission.
type ExecutionConfig struct {
	// Confirmations is the number of blocks a receipt must be buried under.
	Confirmations uint64 `mapstructure:"confirmations"`
	// MaxParallel bounds concurrent confirmations within a batch.
	MaxParallel         int           `mapstructure:"max_parallel" validate:"gte=1"`
	PollInterval        time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ReceiptTimeout      time.Duration `mapstructure:"receipt_timeout" validate:"gt=0"`
	GasPriceBumpPercent int           `mapstructure:"gas_price_bump_percent" validate:"gte=100"`
	GasLimitBufferPct   int           `mapstructure:"gas_limit_buffer_percent" validate:"gte=0"`
}

// VerifyConfig tunes source verification.
type VerifyConfig struct {
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gt=0"`
	PollInterval      time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// ServerConfig holds HTTP server configuration for the status API.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// CORSOrigins lists browser origins allowed to read the API.
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// Options control where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit config path. Empty searches the default
	// locations for config.yaml.
	ConfigFile string
	// EnvFile is a dotenv file merged into the environment. Variables
	// already set win. A missing file is not an error.
	EnvFile string
}

// Load reads configuration from files and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := loadEnvFile(opts.EnvFile); err != nil {
			return nil, err
		}
	}

	v := viper.New()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindNetworkEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFile merges a dotenv file into the process environment.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	ev := viper.New()
	ev.SetConfigFile(path)
	ev.SetConfigType("env")
	if err := ev.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}

	for _, key := range ev.AllKeys() {
		name := strings.ToUpper(key)
		if _, set := os.LookupEnv(name); set {
			continue
		}
		if err := os.Setenv(name, ev.GetString(key)); err != nil {
			return fmt.Errorf("set %s: %w", name, err)
		}
	}
	return nil
}

// normalize fills network names from map keys where a config file added
// a network without one.
func (c *Config) normalize() {
	for key, n := range c.Networks {
		if n.Name == "" {
			n.Name = key
			c.Networks[key] = n
		}
	}
}

var validate = validator.New()

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Network returns the named network. Names match case-insensitively.
func (c *Config) Network(name string) (NetworkConfig, error) {
	if n, ok := c.Networks[strings.ToLower(name)]; ok {
		return n, nil
	}
	return NetworkConfig{}, fmt.Errorf("%w: %s (known: %s)", ErrUnknownNetwork, name, strings.Join(c.NetworkNames(), ", "))
}

// NetworkNames returns the canonical network names, sorted.
func (c *Config) NetworkNames() []string {
	names := make([]string, 0, len(c.Networks))
	for _, n := range c.Networks {
		names = append(names, n.Name)
	}
	sort.Strings(names)
	return names
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	for _, n := range DefaultNetworks {
		key := "networks." + strings.ToLower(n.Name)
		v.SetDefault(key+".name", n.Name)
		v.SetDefault(key+".chain_id", n.ChainID)
		v.SetDefault(key+".explorer.api_url", n.Explorer.APIURL)
		v.SetDefault(key+".explorer.browser_url", n.Explorer.BrowserURL)
		if n.Explorer.APIKey != "" {
			v.SetDefault(key+".explorer.api_key", n.Explorer.APIKey)
		}
	}

	v.SetDefault("artifacts.dir", "./artifacts")

	v.SetDefault("state.driver", "file")
	v.SetDefault("state.dir", "./deployments")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bridge")
	v.SetDefault("database.password", "bridge")
	v.SetDefault("database.database", "bridge")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.ttl", "30m")

	v.SetDefault("execution.confirmations", 1)
	v.SetDefault("execution.max_parallel", 4)
	v.SetDefault("execution.poll_interval", "2s")
	v.SetDefault("execution.receipt_timeout", "5m")
	v.SetDefault("execution.gas_price_bump_percent", 150)
	v.SetDefault("execution.gas_limit_buffer_percent", 20)

	v.SetDefault("verify.requests_per_second", 4)
	v.SetDefault("verify.poll_interval", "5s")
	v.SetDefault("verify.timeout", "2m")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindNetworkEnv binds the hardhat-style variables (BNB_MAINNET_RPC_URL,
// ETHERSCAN_API_KEY, ...) alongside the prefixed names.
func bindNetworkEnv(v *viper.Viper) {
	for _, n := range DefaultNetworks {
		key := "networks." + strings.ToLower(n.Name)
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))

		_ = v.BindEnv(key+".rpc_url", prefixed+"_RPC_URL", n.RPCEnv)
		_ = v.BindEnv(key+".private_key", prefixed+"_PRIVATE_KEY", n.KeyEnv)
		_ = v.BindEnv(key+".signer.endpoint", prefixed+"_SIGNER_ENDPOINT")
		_ = v.BindEnv(key+".signer.api_key", prefixed+"_SIGNER_API_KEY")
		_ = v.BindEnv(key+".signer.address", prefixed+"_SIGNER_ADDRESS")
		if n.APIKeyEnv != "" {
			_ = v.BindEnv(key+".explorer.api_key", prefixed+"_EXPLORER_API_KEY", n.APIKeyEnv)
		}
	}
}
