package model

// DecodeError records a message that could not be decoded by the offline decoder.
type DecodeError struct {
	ChainID        uint64 `json:"chain_id"`
	SequenceNumber int64  `json:"sequence_number"`
	Kind           int64  `json:"kind"`
	L2MsgSize      int    `json:"l2_msg_size"`
	Error          string `json:"error"`
}
