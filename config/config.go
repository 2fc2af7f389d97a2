package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	MinConfirmationDepth = 1

	DefaultPollInterval     = time.Second * 15
	DefaultMaxBlockRange    = uint64(1000)
	DefaultRpcRetryAttempts = uint(5)
	DefaultRelayAttempts    = 3
	DefaultRelayTimeout     = time.Second * 10
)

type Config struct {
	SourceChain ChainConfig   `mapstructure:"source-chain"`
	DestChain   ChainConfig   `mapstructure:"dest-chain"`
	Relayer     RelayerConfig `mapstructure:"relayer"`

	Database  Database `mapstructure:"database"`
	DBDir     string   `mapstructure:"dbDir"`
	LogFormat string   `mapstructure:"logFormat"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type ChainConfig struct {
	Name                  string        `mapstructure:"name"`
	RpcUrl                string        `mapstructure:"rpcUrl"`
	BridgeContractAddress string        `mapstructure:"bridgeContractAddress"`
	ConfirmationDepth     uint64        `mapstructure:"confirmationDepth"`
	StartBlockHeight      uint64        `mapstructure:"startBlockHeight"`
	PollInterval          time.Duration `mapstructure:"pollInterval"`
	MaxBlockRange         uint64        `mapstructure:"maxBlockRange"`
	RpcRetryAttempts      uint          `mapstructure:"rpcRetryAttempts"`
}

type RelayerConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

func (cfg *ChainConfig) Validate() error {
	if cfg.Name == "" {
		return fmt.Errorf("chain name cannot be empty")
	}
	if cfg.RpcUrl == "" {
		return fmt.Errorf("rpcUrl cannot be empty for chain %s", cfg.Name)
	}
	if cfg.BridgeContractAddress == "" {
		return fmt.Errorf("bridgeContractAddress cannot be empty for chain %s", cfg.Name)
	}
	if cfg.ConfirmationDepth < MinConfirmationDepth {
		return fmt.Errorf("confirmationDepth must be at least %d for chain %s", MinConfirmationDepth, cfg.Name)
	}

	return nil
}

func (cfg *RelayerConfig) Validate() error {
	if cfg.Endpoint == "" {
		return fmt.Errorf("relayer endpoint cannot be empty")
	}
	if cfg.MaxAttempts <= 0 {
		return fmt.Errorf("relayer maxAttempts must be positive")
	}

	return nil
}

func (cfg *Config) Validate() error {
	cfg.fillDefaultValueIfNotSet()
	if err := cfg.SourceChain.Validate(); err != nil {
		return err
	}
	if err := cfg.DestChain.Validate(); err != nil {
		return err
	}
	if err := cfg.Relayer.Validate(); err != nil {
		return err
	}
	if cfg.SourceChain.Name == cfg.DestChain.Name {
		return fmt.Errorf("source and destination chain names must differ")
	}

	return nil
}

func (cfg *Config) fillDefaultValueIfNotSet() {
	for _, chain := range []*ChainConfig{&cfg.SourceChain, &cfg.DestChain} {
		if chain.PollInterval == 0 {
			chain.PollInterval = DefaultPollInterval
		}
		if chain.MaxBlockRange == 0 {
			chain.MaxBlockRange = DefaultMaxBlockRange
		}
		if chain.RpcRetryAttempts == 0 {
			chain.RpcRetryAttempts = DefaultRpcRetryAttempts
		}
	}
	if cfg.Relayer.MaxAttempts == 0 {
		cfg.Relayer.MaxAttempts = DefaultRelayAttempts
	}
	if cfg.Relayer.Timeout == 0 {
		cfg.Relayer.Timeout = DefaultRelayTimeout
	}
	if cfg.DBDir == "" {
		cfg.DBDir = "./data"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "auto"
	}
}

// UseMysql reports whether a database section was configured. Without it the
// listener runs on the local leveldb cursor store and volatile records.
func (cfg *Config) UseMysql() bool {
	return cfg.Database.Host != ""
}

func (cfg *Config) CreateLogger(debug bool) (*zap.Logger, error) {
	return NewRootLogger(cfg.LogFormat, debug)
}

// NewConfig returns a fully parsed Config object from a given file directory
func NewConfig(configFile string) (Config, error) {
	if _, err := os.Stat(configFile); err == nil { // the given file exists, parse it
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return Config{}, err
		}
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return Config{}, err
		}
		if err := cfg.Validate(); err != nil {
			return Config{}, err
		}
		return cfg, err
	} else if errors.Is(err, os.ErrNotExist) { // the given config file does not exist, return error
		return Config{}, fmt.Errorf("no config file found at %s", configFile)
	} else { // other errors
		return Config{}, err
	}
}
