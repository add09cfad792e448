// Package collector buffers analytics events and publishes them to Kafka in
// batches. Ingestion uses it because its events arrive in bursts during
// imports.
package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/kafka"
)

// BatchCollector flushes when batchSize events are buffered or every
// flushInterval, whichever comes first. Events from a failed flush are kept
// ahead of newer ones, up to three batches in total; beyond that the newest
// are dropped.
type BatchCollector struct {
	producer      kafka.Publisher
	batchSize     int
	maxBuffered   int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []kafka.Event

	// flushMu serialises flushes so requeued events keep their order.
	flushMu sync.Mutex
	done    chan struct{}
	logger  *slog.Logger
}

func NewBatchCollector(producer kafka.Publisher, batchSize int, flushInterval time.Duration) *BatchCollector {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	return &BatchCollector{
		producer:      producer,
		batchSize:     batchSize,
		maxBuffered:   3 * batchSize,
		flushInterval: flushInterval,
		buffer:        make([]kafka.Event, 0, batchSize),
		done:          make(chan struct{}),
		logger:        slog.Default().With("component", "batch-collector"),
	}
}

// Start runs the interval flush loop until ctx ends, then flushes once more
// with a five second deadline.
func (bc *BatchCollector) Start(ctx context.Context) {
	go func() {
		defer close(bc.done)
		ticker := time.NewTicker(bc.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bc.Flush(ctx)
			case <-ctx.Done():
				final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				bc.Flush(final)
				cancel()
				return
			}
		}
	}()
	bc.logger.Info("batch collector started", "batch_size", bc.batchSize, "flush_interval", bc.flushInterval)
}

// Track buffers an analytics event, wrapped with analytics.Envelope. A full
// batch is flushed in the background.
func (bc *BatchCollector) Track(event any) {
	bc.mu.Lock()
	bc.buffer = append(bc.buffer, analytics.Envelope(event))
	full := len(bc.buffer) >= bc.batchSize
	bc.mu.Unlock()

	if full {
		go bc.Flush(context.Background())
	}
}

// Close waits for the flush loop started by Start to finish.
func (bc *BatchCollector) Close() {
	<-bc.done
}

// BufferLen returns the number of events waiting to be published.
func (bc *BatchCollector) BufferLen() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.buffer)
}

// Flush publishes everything buffered so far.
func (bc *BatchCollector) Flush(ctx context.Context) {
	bc.flushMu.Lock()
	defer bc.flushMu.Unlock()

	bc.mu.Lock()
	batch := bc.buffer
	if len(batch) == 0 {
		bc.mu.Unlock()
		return
	}
	bc.buffer = make([]kafka.Event, 0, bc.batchSize)
	bc.mu.Unlock()

	err := bc.producer.PublishBatch(ctx, batch)
	if err == nil {
		bc.logger.Debug("batch flushed", "events", len(batch))
		return
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.buffer = append(batch, bc.buffer...)
	dropped := 0
	if len(bc.buffer) > bc.maxBuffered {
		dropped = len(bc.buffer) - bc.maxBuffered
		bc.buffer = bc.buffer[:bc.maxBuffered]
	}
	bc.logger.Error("batch flush failed, events requeued",
		"events", len(batch),
		"buffered", len(bc.buffer),
		"dropped", dropped,
		"error", err,
	)
}
