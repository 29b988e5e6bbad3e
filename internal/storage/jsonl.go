package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"sequencerFeed/internal/model"
)

// JsonlStorage appends records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutTxBatch appends a batch of transaction records as JSON lines.
func (s *JsonlStorage) PutTxBatch(_ context.Context, records []model.TxRecord) error {
	return appendLines(s, records)
}

// PutFrames appends raw feed frames, used for capture files that the
// decode command can replay.
func (s *JsonlStorage) PutFrames(_ context.Context, frames []model.FeedFrame) error {
	return appendLines(s, frames)
}

// PutDecodeErrors appends decode failures.
func (s *JsonlStorage) PutDecodeErrors(_ context.Context, records []model.DecodeError) error {
	return appendLines(s, records)
}

// UpsertWindowMetrics appends closed activity windows.
func (s *JsonlStorage) UpsertWindowMetrics(_ context.Context, metrics []model.DestinationWindowMetrics) error {
	return appendLines(s, metrics)
}

func appendLines[T any](s *JsonlStorage, records []T) error {
	if len(records) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
