package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

// Config holds settings for the run command, loaded from flags, env, or config file.
type Config struct {
	FeedURL           string
	ChainID           uint64
	MaxConnections    int
	InitConnections   int
	RPCURL            string
	Out               string
	WindowsOut        string
	Capture           string
	PGDSN             string
	RedisAddr         string
	RedisChannel      string
	MetricsAddr       string
	Checkpoint        string
	CheckpointEnabled bool
	BatchSize         int
	FlushInterval     time.Duration
	Window            time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	HandshakeTimeout  time.Duration
	FrameBuffer       int
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("max-connections", 2)
		v.SetDefault("init-connections", 1)
		v.SetDefault("out", "./data/txs.jsonl")
		v.SetDefault("windows-out", "./data/windows.jsonl")
		v.SetDefault("redis-channel", "sequencer:txs")
		v.SetDefault("checkpoint", "./data/checkpoint.json")
		v.SetDefault("checkpoint-enabled", true)
		v.SetDefault("batch-size", 100)
		v.SetDefault("flush-interval", 2*time.Second)
		v.SetDefault("window", time.Minute)
		v.SetDefault("max-retries", 5)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("handshake-timeout", 10*time.Second)
		v.SetDefault("frame-buffer", 1024)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		FeedURL:           v.GetString("feed-url"),
		ChainID:           v.GetUint64("chain-id"),
		MaxConnections:    v.GetInt("max-connections"),
		InitConnections:   v.GetInt("init-connections"),
		RPCURL:            v.GetString("rpc"),
		Out:               v.GetString("out"),
		WindowsOut:        v.GetString("windows-out"),
		Capture:           v.GetString("capture"),
		PGDSN:             v.GetString("pg-dsn"),
		RedisAddr:         v.GetString("redis-addr"),
		RedisChannel:      v.GetString("redis-channel"),
		MetricsAddr:       v.GetString("metrics-addr"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		BatchSize:         v.GetInt("batch-size"),
		FlushInterval:     v.GetDuration("flush-interval"),
		Window:            v.GetDuration("window"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		HandshakeTimeout:  v.GetDuration("handshake-timeout"),
		FrameBuffer:       v.GetInt("frame-buffer"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings the run command cannot start without.
func (c Config) Validate() error {
	if c.FeedURL == "" {
		return fmt.Errorf("feed-url is required")
	}
	u, err := url.Parse(c.FeedURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return fmt.Errorf("feed-url must be a ws:// or wss:// url: %q", c.FeedURL)
	}
	if c.ChainID == 0 {
		return fmt.Errorf("chain-id is required")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max-connections must be greater than zero")
	}
	if c.InitConnections < 0 || c.InitConnections > c.MaxConnections {
		return fmt.Errorf("init-connections must be between 0 and max-connections (%d)", c.MaxConnections)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than zero")
	}
	if c.Window != 0 && c.Window < time.Second {
		return fmt.Errorf("window must be 0 or at least 1s")
	}
	if c.FrameBuffer < 0 {
		return fmt.Errorf("frame-buffer must not be negative")
	}
	return nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if defaults != nil {
		defaults(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return v, nil
}
