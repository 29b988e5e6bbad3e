package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"sequencerFeed/internal/model"
)

// WindowSink receives closed windows.
type WindowSink interface {
	UpsertWindowMetrics(ctx context.Context, metrics []model.DestinationWindowMetrics) error
}

// Aggregator folds relayed transactions into per-destination activity
// windows keyed on the L1 timestamp of the message. A window is emitted once
// a transaction from a later window arrives; transactions for windows that
// were already emitted are dropped.
type Aggregator struct {
	window       uint64
	sink         WindowSink
	logger       *zap.Logger
	accumulators map[string]*Accumulator
	current      uint64
	late         int
}

func NewAggregator(window time.Duration, sink WindowSink, logger *zap.Logger) (*Aggregator, error) {
	if window < time.Second {
		return nil, fmt.Errorf("window must be at least 1s")
	}
	if sink == nil {
		return nil, fmt.Errorf("window sink is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		window:       uint64(window / time.Second),
		sink:         sink,
		logger:       logger,
		accumulators: make(map[string]*Accumulator),
	}, nil
}

// Add folds records into open windows, emitting windows that closed.
func (a *Aggregator) Add(ctx context.Context, records []model.TxRecord) error {
	for _, record := range records {
		start := windowStart(record.Timestamp, a.window)
		if start < a.current {
			a.late++
			a.logger.Debug("late transaction dropped from window",
				zap.Int64("sequence_number", record.SequenceNumber),
				zap.Uint64("timestamp", record.Timestamp),
			)
			continue
		}
		if start > a.current {
			if err := a.flush(ctx); err != nil {
				return err
			}
			a.current = start
		}

		key := destinationKey(record)
		acc := a.accumulators[key]
		if acc == nil {
			acc = NewAccumulator(record, start, start+a.window)
			a.accumulators[key] = acc
		}
		if err := acc.AddTx(record); err != nil {
			a.logger.Warn("aggregate transaction", zap.Error(err), zap.Int64("sequence_number", record.SequenceNumber))
		}
	}
	return nil
}

// Flush emits every open window.
func (a *Aggregator) Flush(ctx context.Context) error {
	return a.flush(ctx)
}

// Late returns how many transactions arrived after their window was emitted.
func (a *Aggregator) Late() int {
	return a.late
}

func (a *Aggregator) flush(ctx context.Context) error {
	if len(a.accumulators) == 0 {
		return nil
	}

	metrics := make([]model.DestinationWindowMetrics, 0, len(a.accumulators))
	for _, acc := range a.accumulators {
		if acc.TxCount == 0 {
			continue
		}
		metrics = append(metrics, acc.Metrics())
	}
	sort.Slice(metrics, func(i, j int) bool {
		return metrics[i].Destination < metrics[j].Destination
	})

	if err := a.sink.UpsertWindowMetrics(ctx, metrics); err != nil {
		return fmt.Errorf("store window metrics: %w", err)
	}
	a.accumulators = make(map[string]*Accumulator)

	a.logger.Info("window closed",
		zap.Uint64("window_start", a.current),
		zap.Int("destinations", len(metrics)),
	)
	return nil
}
