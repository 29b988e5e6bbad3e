package storage

import (
	"context"

	"sequencerFeed/internal/model"
)

// Storage defines a sink for decoded transaction records.
type Storage interface {
	PutTxBatch(ctx context.Context, records []model.TxRecord) error
}
