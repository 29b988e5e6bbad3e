package model

import "time"

// ConnectionID identifies a pool slot. Ids are dense and reused when a slot is repaired.
type ConnectionID uint32

// FeedFrame is a decoded feed frame tagged with the connection that received it.
type FeedFrame struct {
	ConnectionID ConnectionID      `json:"connection_id"`
	ReceivedAt   time.Time         `json:"received_at"`
	Envelope     BroadcastEnvelope `json:"envelope"`
}
