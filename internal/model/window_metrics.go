package model

import "time"

// DestinationWindowMetrics stores aggregated activity for one destination in a window.
type DestinationWindowMetrics struct {
	ChainID        uint64    `json:"chain_id"`
	Destination    string    `json:"destination"`
	WindowSizeSecs int64     `json:"window_size_seconds"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end"`
	TxCount        uint64    `json:"tx_count"`
	CreationCount  uint64    `json:"creation_count"`
	ValueSum       string    `json:"value_sum"`
	CallDataBytes  uint64    `json:"calldata_bytes"`
	FirstSequence  int64     `json:"first_sequence"`
	LastSequence   int64     `json:"last_sequence"`
}
