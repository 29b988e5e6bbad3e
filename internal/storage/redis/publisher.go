package redis

import (
	"bytes"
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"sequencerFeed/internal/model"
)

// Publisher publishes transaction records on a Redis pub/sub channel as
// MessagePack documents keyed by their JSON field names.
type Publisher struct {
	client  *goredis.Client
	channel string
}

func NewPublisher(ctx context.Context, addr, channel string) (*Publisher, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return &Publisher{client: client, channel: channel}, nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

// PutTxBatch publishes every record in a single pipeline.
func (p *Publisher) PutTxBatch(ctx context.Context, records []model.TxRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := p.client.Pipeline()
	for _, rec := range records {
		msg, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, p.channel, msg)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish transactions: %w", err)
	}
	return nil
}

func encodeRecord(rec model.TxRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(rec); err != nil {
		return nil, fmt.Errorf("encode transaction %d: %w", rec.SequenceNumber, err)
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses a published message back into a record.
func DecodeRecord(data []byte) (model.TxRecord, error) {
	var rec model.TxRecord
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&rec); err != nil {
		return model.TxRecord{}, fmt.Errorf("decode transaction: %w", err)
	}
	return rec, nil
}
