package service

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"chatwiki/internal/models"
)

var ErrQueueClosed = errors.New("ingest queue closed")

// IngestQueue is a bounded in-memory MessageSource fed by the HTTP API.
type IngestQueue struct {
	ch        chan models.RawMessage
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewIngestQueue(size int) *IngestQueue {
	return &IngestQueue{
		ch:   make(chan models.RawMessage, size),
		done: make(chan struct{}),
	}
}

// Enqueue blocks until there is room, the queue is closed or ctx is done.
func (q *IngestQueue) Enqueue(ctx context.Context, raw models.RawMessage) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- raw:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *IngestQueue) Messages(ctx context.Context) (<-chan models.RawMessage, error) {
	return q.ch, nil
}

// Len is the number of queued messages.
func (q *IngestQueue) Len() int {
	return len(q.ch)
}

// Close stops accepting messages. Already queued messages are still
// delivered before the channel closes.
func (q *IngestQueue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// JSONLSource reads exported chat history, one RawMessage JSON object per
// line.
type JSONLSource struct {
	path string
}

func NewJSONLSource(path string) *JSONLSource {
	return &JSONLSource{path: path}
}

// Batches calls fn with consecutive batches of at most size messages.
func (s *JSONLSource) Batches(ctx context.Context, size int, fn func([]models.RawMessage) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open export: %w", err)
	}
	defer f.Close()

	return readJSONL(ctx, f, size, fn)
}

func readJSONL(ctx context.Context, r io.Reader, size int, fn func([]models.RawMessage) error) error {
	if size < 1 {
		size = 1
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)

	batch := make([]models.RawMessage, 0, size)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var raw models.RawMessage
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			return fmt.Errorf("line %d: failed to decode message: %w", line, err)
		}
		batch = append(batch, raw)

		if len(batch) == size {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]models.RawMessage, 0, size)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read export: %w", err)
	}

	if len(batch) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(batch)
	}
	return nil
}
