package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sequencerFeed/internal/config"
	"sequencerFeed/internal/model"
	"sequencerFeed/internal/relay"
	"sequencerFeed/internal/storage"
)

const decodeBatchSize = 500

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	// Outputs are rewritten on every run.
	for _, path := range []string{cfg.Out, cfg.Errors} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reset output %s: %w", path, err)
		}
	}

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Uint64("chain_id", cfg.ChainID),
	)

	stats, err := decodeFrames(cmd.Context(), inputFile, cfg.ChainID,
		storage.NewJsonlStorage(cfg.Out), storage.NewJsonlStorage(cfg.Errors))
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("frames", stats.frames),
		zap.Int("decoded", stats.decoded),
		zap.Int("duplicates", stats.duplicates),
		zap.Int("failed", stats.failed),
	)
	return nil
}

type decodeStats struct {
	frames, decoded, duplicates, failed int
}

// decodeFrames replays captured frames through the sequence filter and the
// decoder, writing records to out and failures to errs.
func decodeFrames(ctx context.Context, in io.Reader, chainID uint64, out, errs *storage.JsonlStorage) (decodeStats, error) {
	var stats decodeStats
	var filter relay.SequenceFilter
	records := make([]model.TxRecord, 0, decodeBatchSize)
	failures := make([]model.DecodeError, 0, decodeBatchSize)

	flush := func() error {
		if err := out.PutTxBatch(ctx, records); err != nil {
			return err
		}
		if err := errs.PutDecodeErrors(ctx, failures); err != nil {
			return err
		}
		records = records[:0]
		failures = failures[:0]
		return nil
	}

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.frames++

		frame, err := parseFrameLine(line)
		if err != nil {
			stats.failed++
			failures = append(failures, model.DecodeError{ChainID: chainID, Error: err.Error()})
			continue
		}

		for _, item := range frame.Envelope.Messages {
			if !filter.Accept(item.SequenceNumber) {
				stats.duplicates++
				continue
			}

			rec, err := relay.DecodeRecord(chainID, item, frame.ConnectionID, frame.ReceivedAt)
			if err != nil {
				stats.failed++
				msg := item.Message.Message
				failures = append(failures, model.DecodeError{
					ChainID:        chainID,
					SequenceNumber: item.SequenceNumber,
					Kind:           msg.Header.Kind,
					L2MsgSize:      len(msg.L2Msg),
					Error:          err.Error(),
				})
				continue
			}
			records = append(records, rec)
			stats.decoded++
		}

		if len(records) >= decodeBatchSize || len(failures) >= decodeBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}

// parseFrameLine accepts captured frames as well as bare feed envelopes.
func parseFrameLine(line []byte) (model.FeedFrame, error) {
	var frame model.FeedFrame
	if err := json.Unmarshal(line, &frame); err != nil {
		return model.FeedFrame{}, fmt.Errorf("parse frame: %w", err)
	}
	if len(frame.Envelope.Messages) > 0 {
		return frame, nil
	}

	var env model.BroadcastEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return model.FeedFrame{}, fmt.Errorf("parse envelope: %w", err)
	}
	frame.Envelope = env
	return frame, nil
}
