package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Arbitrum sequencer feed relay",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the sequencer feed and relay decoded transactions",
		RunE:  runRelay,
	}

	runCmd.Flags().String("feed-url", "", "sequencer feed websocket URL (ws:// or wss://)")
	runCmd.Flags().Uint64("chain-id", 0, "expected chain id, checked against the feed handshake")
	runCmd.Flags().Int("max-connections", 2, "maximum number of concurrent feed connections")
	runCmd.Flags().Int("init-connections", 1, "connections opened at startup")
	runCmd.Flags().String("rpc", "", "optional RPC URL used to cross-check the chain id")
	runCmd.Flags().String("out", "./data/txs.jsonl", "output JSONL path, empty disables")
	runCmd.Flags().String("windows-out", "./data/windows.jsonl", "window metrics JSONL path when no Postgres DSN is set")
	runCmd.Flags().String("capture", "", "optional JSONL path for raw feed frames")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("redis-addr", "", "Redis address for publishing transactions")
	runCmd.Flags().String("redis-channel", "sequencer:txs", "Redis pub/sub channel")
	runCmd.Flags().String("metrics-addr", "", "listen address for Prometheus metrics, empty disables")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Int("batch-size", 100, "transactions per storage batch")
	runCmd.Flags().Duration("flush-interval", 2*time.Second, "maximum time a batch is held")
	runCmd.Flags().Duration("window", time.Minute, "activity aggregation window, 0 disables")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("handshake-timeout", 10*time.Second, "websocket handshake timeout")
	runCmd.Flags().Int("frame-buffer", 1024, "frames buffered between connections and the consumer")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode captured feed frames into transactions",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input feed frames JSONL")
	decodeCmd.Flags().String("out", "./data/decoded_txs.jsonl", "output transactions JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().Uint64("chain-id", 0, "chain id written to records")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
