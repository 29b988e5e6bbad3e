package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sequencerFeed/internal/decoder"
	"sequencerFeed/internal/metrics"
	"sequencerFeed/internal/model"
	"sequencerFeed/internal/storage"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 2 * time.Second
	shutdownFlushTimeout = 10 * time.Second
)

// RunConfig holds runtime settings for the relay consumer.
type RunConfig struct {
	ChainID       uint64
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	RetryBackoff  time.Duration
}

// FrameSink stores raw feed frames.
type FrameSink interface {
	PutFrames(ctx context.Context, frames []model.FeedFrame) error
}

// WindowAggregator consumes stored records.
type WindowAggregator interface {
	Add(ctx context.Context, records []model.TxRecord) error
	Flush(ctx context.Context) error
}

// Runner drains feed frames, drops repeated sequence numbers, decodes the
// remaining messages and writes them to storage in batches.
type Runner struct {
	cfg        RunConfig
	sinks      []storage.Storage
	state      StateStore
	capture    FrameSink
	aggregator WindowAggregator
	logger     *zap.Logger
	metrics    *metrics.Metrics

	filter  SequenceFilter
	batch   []model.TxRecord
	frames  []model.FeedFrame
	saved   int64
	hasSave bool
	skipped int
}

// NewRunner builds a Runner writing every batch to each of sinks. state may
// be nil to disable checkpointing.
func NewRunner(cfg RunConfig, sinks []storage.Storage, state StateStore, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	return &Runner{
		cfg:     cfg,
		sinks:   sinks,
		state:   state,
		logger:  logger,
		metrics: m,
		batch:   make([]model.TxRecord, 0, cfg.BatchSize),
	}
}

// SetCapture stores every received frame in sink as well.
func (r *Runner) SetCapture(sink FrameSink) {
	r.capture = sink
}

// SetAggregator feeds every stored batch to agg.
func (r *Runner) SetAggregator(agg WindowAggregator) {
	r.aggregator = agg
}

// Run consumes frames until ctx is done or frames is closed. Pending records
// are flushed before returning.
func (r *Runner) Run(ctx context.Context, frames <-chan model.FeedFrame) error {
	if len(r.sinks) == 0 {
		return fmt.Errorf("no storage configured")
	}
	for i, sink := range r.sinks {
		if sink == nil {
			return fmt.Errorf("storage %d is nil", i)
		}
	}
	if frames == nil {
		return fmt.Errorf("frame channel is nil")
	}

	if r.state != nil {
		last, ok, err := r.state.Load(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if ok {
			r.filter.Seed(last)
			r.saved, r.hasSave = last, true
			r.logger.Info("resume from checkpoint", zap.Int64("last_sequence_number", last))
		}
	}

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			err := r.shutdown(flushCtx)
			cancel()
			if err != nil {
				return err
			}
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return r.shutdown(ctx)
			}
			if err := r.handleFrame(ctx, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := r.flush(ctx); err != nil {
				return err
			}
		}
	}
}

func (r *Runner) handleFrame(ctx context.Context, frame model.FeedFrame) error {
	if r.capture != nil {
		r.frames = append(r.frames, frame)
	}

	for _, item := range frame.Envelope.Messages {
		if !r.filter.Accept(item.SequenceNumber) {
			r.metrics.Duplicate()
			continue
		}

		rec, err := DecodeRecord(r.cfg.ChainID, item, frame.ConnectionID, frame.ReceivedAt)
		if err != nil {
			r.skipped++
			r.metrics.TxSkipped(decoder.Reason(err))
			r.logger.Debug("skip feed message",
				zap.Int64("sequence_number", item.SequenceNumber),
				zap.Int64("kind", item.Message.Message.Header.Kind),
				zap.Error(err),
			)
			continue
		}
		r.metrics.TxDecoded()
		r.batch = append(r.batch, rec)
	}

	if len(r.batch) >= r.cfg.BatchSize {
		return r.flush(ctx)
	}
	return nil
}

func (r *Runner) flush(ctx context.Context) error {
	if len(r.frames) > 0 {
		err := withRetry(ctx, r.logger, "capture frames", r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			return r.capture.PutFrames(ctx, r.frames)
		})
		if err != nil {
			return fmt.Errorf("store frames: %w", err)
		}
		r.frames = r.frames[:0]
	}

	if len(r.batch) > 0 {
		if err := r.storeBatch(ctx); err != nil {
			return err
		}
		if r.aggregator != nil {
			if err := r.aggregator.Add(ctx, r.batch); err != nil {
				return err
			}
		}
		r.logger.Info("batch complete",
			zap.Int("txs", len(r.batch)),
			zap.Int64("first_sequence", r.batch[0].SequenceNumber),
			zap.Int64("last_sequence", r.batch[len(r.batch)-1].SequenceNumber),
			zap.Int("skipped", r.skipped),
		)
		r.batch = r.batch[:0]
		r.skipped = 0
	}

	return r.saveCheckpoint(ctx)
}

// storeBatch retries each sink on its own so a sink that already accepted
// the batch is not written twice.
func (r *Runner) storeBatch(ctx context.Context) error {
	for i, sink := range r.sinks {
		err := withRetry(ctx, r.logger, "store transactions", r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
			return sink.PutTxBatch(ctx, r.batch)
		})
		if err != nil {
			return fmt.Errorf("store transactions in sink %d: %w", i, err)
		}
	}
	return nil
}

func (r *Runner) saveCheckpoint(ctx context.Context) error {
	if r.state == nil {
		return nil
	}
	last, ok := r.filter.Last()
	if !ok || (r.hasSave && last == r.saved) {
		return nil
	}
	if err := r.state.Save(ctx, last); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	r.saved, r.hasSave = last, true
	return nil
}

func (r *Runner) shutdown(ctx context.Context) error {
	if err := r.flush(ctx); err != nil {
		return err
	}
	if r.aggregator != nil {
		if err := r.aggregator.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
