package aggregate

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"sequencerFeed/internal/model"
)

// creationDestination groups contract-creation transactions.
const creationDestination = "creation"

// Accumulator holds activity for one destination in one window.
type Accumulator struct {
	ChainID       uint64
	Destination   string
	WindowStart   uint64
	WindowEnd     uint64
	TxCount       uint64
	CreationCount uint64
	ValueSum      *big.Int
	CallDataBytes uint64
	FirstSequence int64
	LastSequence  int64
}

func NewAccumulator(record model.TxRecord, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		ChainID:       record.ChainID,
		Destination:   destinationKey(record),
		WindowStart:   windowStart,
		WindowEnd:     windowEnd,
		ValueSum:      big.NewInt(0),
		FirstSequence: record.SequenceNumber,
		LastSequence:  record.SequenceNumber,
	}
}

// AddTx folds a transaction into the window.
func (a *Accumulator) AddTx(record model.TxRecord) error {
	value, err := parseBigInt(record.Value)
	if err != nil {
		return err
	}

	a.TxCount++
	if record.ContractCreation {
		a.CreationCount++
	}
	a.ValueSum.Add(a.ValueSum, value)
	a.CallDataBytes += calldataSize(record.Data)
	if record.SequenceNumber < a.FirstSequence {
		a.FirstSequence = record.SequenceNumber
	}
	if record.SequenceNumber > a.LastSequence {
		a.LastSequence = record.SequenceNumber
	}
	return nil
}

// Metrics converts the accumulator into an output row.
func (a *Accumulator) Metrics() model.DestinationWindowMetrics {
	return model.DestinationWindowMetrics{
		ChainID:        a.ChainID,
		Destination:    a.Destination,
		WindowSizeSecs: int64(a.WindowEnd - a.WindowStart),
		WindowStart:    time.Unix(int64(a.WindowStart), 0).UTC(),
		WindowEnd:      time.Unix(int64(a.WindowEnd), 0).UTC(),
		TxCount:        a.TxCount,
		CreationCount:  a.CreationCount,
		ValueSum:       a.ValueSum.String(),
		CallDataBytes:  a.CallDataBytes,
		FirstSequence:  a.FirstSequence,
		LastSequence:   a.LastSequence,
	}
}

func destinationKey(record model.TxRecord) string {
	if record.ContractCreation || record.To == "" {
		return creationDestination
	}
	return strings.ToLower(record.To)
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid value: %s", value)
	}
	return out, nil
}

// calldataSize returns the byte length of 0x-prefixed hex data.
func calldataSize(data string) uint64 {
	data = strings.TrimPrefix(data, "0x")
	return uint64(len(data) / 2)
}

func windowStart(ts uint64, windowSec uint64) uint64 {
	return ts - (ts % windowSec)
}
