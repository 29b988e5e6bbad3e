package model

import "encoding/json"

// L1MessageTypeL2Message is the header kind carrying a sequenced L2 message.
const L1MessageTypeL2Message = 3

// BroadcastEnvelope is one sequencer feed frame.
type BroadcastEnvelope struct {
	Version  int             `json:"version"`
	Messages []BroadcastItem `json:"messages"`
}

// BroadcastItem is a single sequenced message inside a feed frame.
// SequenceNumber is not monotonic across reconnects.
type BroadcastItem struct {
	SequenceNumber int64           `json:"sequenceNumber"`
	Message        MessageEnvelope `json:"message"`
	Signature      json.RawMessage `json:"signature"`
}

// MessageEnvelope wraps the incoming L1 message with inbox metadata.
type MessageEnvelope struct {
	Message             L1Header `json:"message"`
	DelayedMessagesRead uint64   `json:"delayedMessagesRead"`
}

// L1Header is the incoming message header plus the base64 encoded L2 payload.
type L1Header struct {
	Header Header `json:"header"`
	L2Msg  string `json:"l2Msg"`
}

// Header describes the origin of an incoming message.
type Header struct {
	Kind        int64           `json:"kind"`
	Sender      string          `json:"sender"`
	BlockNumber uint64          `json:"blockNumber"`
	Timestamp   uint64          `json:"timestamp"`
	RequestID   json.RawMessage `json:"requestId"`
	BaseFeeL1   json.RawMessage `json:"baseFeeL1"`
}
