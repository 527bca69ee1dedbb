package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all configuration for the escrow daemon and the
// standalone tool server.
type Config struct {
	REST         RESTConfig         `mapstructure:"rest"`
	GRPC         GRPCConfig         `mapstructure:"grpc"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Ledger       LedgerConfig       `mapstructure:"ledger"`
	Signer       SignerConfig       `mapstructure:"signer"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Sequencer    SequencerConfig    `mapstructure:"sequencer"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// RESTConfig contains REST API server configuration.
type RESTConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// RateLimitRPS limits requests per remote address. Zero disables it.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// GRPCConfig contains the gRPC admin server configuration.
type GRPCConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Addr             string        `mapstructure:"addr"`
	EnableReflection bool          `mapstructure:"enable_reflection"`
	KeepaliveMinTime time.Duration `mapstructure:"keepalive_min_time"`
	HealthInterval   time.Duration `mapstructure:"health_interval"`
}

// LoggingConfig selects the log level and record format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn or error
	Format string `mapstructure:"format"` // "json" or "text"
}

// ToolsConfig contains the stdio tool server configuration.
type ToolsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LedgerConfig selects and configures the ledger backend.
type LedgerConfig struct {
	Backend         string        `mapstructure:"backend"` // "evm" or "memory"
	RPCURL          string        `mapstructure:"rpc_url"`
	ContractAddress string        `mapstructure:"contract_address"`
	ChainID         int64         `mapstructure:"chain_id"` // 0 asks the node
	Network         string        `mapstructure:"network"`
	ExplorerURL     string        `mapstructure:"explorer_url"`
	Confirmations   uint64        `mapstructure:"confirmations"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
}

// SignerConfig locates the custodial signing key. Either PrivateKey or
// KeystoreDir must be set.
type SignerConfig struct {
	PrivateKey  string `mapstructure:"private_key"`
	KeystoreDir string `mapstructure:"keystore_dir"`
	Address     string `mapstructure:"address"`
	Passphrase  string `mapstructure:"passphrase"`
}

// OrchestratorConfig contains transition execution settings.
type OrchestratorConfig struct {
	ConfirmTimeout    time.Duration `mapstructure:"confirm_timeout"`
	ConfirmAttempts   int           `mapstructure:"confirm_attempts"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ReadRetries       int           `mapstructure:"read_retries"`
	ReadRetryInterval time.Duration `mapstructure:"read_retry_interval"`
	ResolutionWindow  time.Duration `mapstructure:"resolution_window"`
	FeeBasisPoints    int64         `mapstructure:"fee_bps"`
}

// SequencerConfig contains signing sequencer settings.
type SequencerConfig struct {
	MaxHold time.Duration `mapstructure:"max_hold"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the optional cross-process signing lock.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	DB           int           `mapstructure:"db"`
	Password     string        `mapstructure:"password"`
	Key          string        `mapstructure:"key"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load loads the configuration from the given path.
// If configPath is empty, it looks for escrowd.yaml in the config/ directory.
// Environment variables with ESCROWD_ prefix override config file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("escrowd")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("ESCROWD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rest.enabled", true)
	v.SetDefault("rest.addr", ":3402")
	v.SetDefault("rest.read_timeout", 15*time.Second)
	// Mutations wait for confirmation, so writes get more room than reads.
	v.SetDefault("rest.write_timeout", 3*time.Minute)
	v.SetDefault("rest.idle_timeout", 60*time.Second)
	v.SetDefault("rest.rate_limit_rps", 5.0)
	v.SetDefault("rest.rate_limit_burst", 10)

	v.SetDefault("grpc.enabled", true)
	v.SetDefault("grpc.addr", ":9090")
	v.SetDefault("grpc.enable_reflection", true)
	v.SetDefault("grpc.keepalive_min_time", 30*time.Second)
	v.SetDefault("grpc.health_interval", 15*time.Second)

	v.SetDefault("tools.enabled", false)

	v.SetDefault("ledger.backend", "evm")
	v.SetDefault("ledger.rpc_url", "https://mainnet.base.org")
	v.SetDefault("ledger.contract_address", "0x9d249bB490348fAEd301a22Fe150959D21bC53eB")
	v.SetDefault("ledger.chain_id", 0)
	v.SetDefault("ledger.network", "Base Mainnet")
	v.SetDefault("ledger.explorer_url", "https://basescan.org")
	v.SetDefault("ledger.confirmations", 1)
	v.SetDefault("ledger.submit_timeout", 30*time.Second)

	v.SetDefault("signer.private_key", "")
	v.SetDefault("signer.keystore_dir", "")
	v.SetDefault("signer.address", "")
	v.SetDefault("signer.passphrase", "")

	v.SetDefault("orchestrator.confirm_timeout", 2*time.Minute)
	v.SetDefault("orchestrator.confirm_attempts", 5)
	v.SetDefault("orchestrator.poll_interval", 2*time.Second)
	v.SetDefault("orchestrator.read_retries", 3)
	v.SetDefault("orchestrator.read_retry_interval", 250*time.Millisecond)
	v.SetDefault("orchestrator.resolution_window", 7*24*time.Hour)
	v.SetDefault("orchestrator.fee_bps", 100)

	v.SetDefault("sequencer.max_hold", 5*time.Minute)
	v.SetDefault("sequencer.redis.enabled", false)
	v.SetDefault("sequencer.redis.addr", "localhost:6379")
	v.SetDefault("sequencer.redis.db", 0)
	v.SetDefault("sequencer.redis.password", "")
	v.SetDefault("sequencer.redis.key", "escrowd:signer")
	v.SetDefault("sequencer.redis.poll_interval", 100*time.Millisecond)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error

	switch c.Ledger.Backend {
	case "evm":
		if c.Ledger.RPCURL == "" {
			errs = append(errs, errors.New("ledger.rpc_url is required for the evm backend"))
		}
		if c.Ledger.ContractAddress == "" {
			errs = append(errs, errors.New("ledger.contract_address is required for the evm backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported ledger backend: %q", c.Ledger.Backend))
	}

	if c.Ledger.SubmitTimeout <= 0 {
		errs = append(errs, errors.New("ledger.submit_timeout must be greater than 0"))
	}
	if c.GRPC.HealthInterval <= 0 {
		errs = append(errs, errors.New("grpc.health_interval must be greater than 0"))
	}
	if c.Signer.PrivateKey == "" && c.Signer.KeystoreDir == "" {
		errs = append(errs, errors.New("signer.private_key or signer.keystore_dir is required"))
	}
	if c.Orchestrator.ConfirmAttempts <= 0 {
		errs = append(errs, errors.New("orchestrator.confirm_attempts must be greater than 0"))
	}
	if c.Orchestrator.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("orchestrator.confirm_timeout must be greater than 0"))
	}
	if c.Orchestrator.FeeBasisPoints < 0 || c.Orchestrator.FeeBasisPoints > 10_000 {
		errs = append(errs, errors.New("orchestrator.fee_bps must be between 0 and 10000"))
	}
	if c.Sequencer.MaxHold <= 0 {
		errs = append(errs, errors.New("sequencer.max_hold must be greater than 0"))
	}
	if !c.REST.Enabled && !c.Tools.Enabled {
		errs = append(errs, errors.New("at least one front door (rest or tools) must be enabled"))
	}

	return errors.Join(errs...)
}
