package broadcast

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cap-mahdi/stream-backend/internal/audio"
	"github.com/cap-mahdi/stream-backend/internal/metrics"
)

// Config contains broadcast loop configuration
type Config struct {
	ChunkDelay     time.Duration // inter-chunk delay, simulates real-time playback rate
	SourceRetry    time.Duration // delay before retrying an unavailable source
	FatalOnMissing bool          // a source failure terminates the loop instead of retrying
}

// Stats represents broadcast loop statistics for monitoring
type Stats struct {
	ChunksBroadcast uint64 `json:"chunks_broadcast"`
	ChunksDropped   uint64 `json:"chunks_dropped"`
	LoopsCompleted  uint64 `json:"loops_completed"`
	ActiveListeners int    `json:"active_listeners"`
	QueueCapacity   int    `json:"queue_capacity"`
}

// Broadcaster is the single producer driving playback cadence and fan-out.
// It owns the listener registry and the last-chunk cache; both are shared
// with stream sessions and safe for concurrent access.
type Broadcaster struct {
	source   audio.Source
	registry *Registry
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	lastChunk []byte

	chunks  atomic.Uint64
	dropped atomic.Uint64
	loops   atomic.Uint64
}

// New creates a broadcaster over source. Run must be started exactly once.
func New(source audio.Source, registry *Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		source:   source,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Run drives the broadcast loop until ctx is cancelled. Each pass opens the
// source, fans every chunk out to all registered listeners at the configured
// cadence, and restarts from offset zero on exhaustion, replaying the asset
// indefinitely. Cancellation is a clean stop, not an error.
//
// A source failure is logged and retried after the configured delay, unless
// FatalOnMissing is set, in which case the error is returned.
func (b *Broadcaster) Run(ctx context.Context) error {
	b.logger.Info("Broadcast loop started",
		slog.Duration("chunk_delay", b.cfg.ChunkDelay),
		slog.String("content_type", b.source.ContentType()),
	)

	for {
		if ctx.Err() != nil {
			b.logger.Info("Broadcast loop stopped")
			return nil
		}

		reader, err := b.source.Open()
		if err != nil {
			b.metrics.RecordSourceError()
			if b.cfg.FatalOnMissing {
				return fmt.Errorf("audio source unavailable: %w", err)
			}
			b.logger.Error("Audio source unavailable",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", b.cfg.SourceRetry),
			)
			if !b.sleep(ctx, b.cfg.SourceRetry) {
				b.logger.Info("Broadcast loop stopped")
				return nil
			}
			continue
		}

		produced, passErr := b.pass(ctx, reader)
		if err := reader.Close(); err != nil {
			b.logger.Warn("Failed to close source reader", slog.String("error", err.Error()))
		}

		if passErr != nil {
			if ctx.Err() != nil {
				b.logger.Info("Broadcast loop stopped")
				return nil
			}
			// Mid-pass read error: abort this pass, retry on the next one.
			b.metrics.RecordSourceError()
			b.logger.Error("Broadcast pass aborted",
				slog.String("error", passErr.Error()),
				slog.Duration("retry_in", b.cfg.SourceRetry),
			)
			if !b.sleep(ctx, b.cfg.SourceRetry) {
				b.logger.Info("Broadcast loop stopped")
				return nil
			}
			continue
		}

		if produced == 0 {
			// A pass with no chunks means the asset is empty; an instant
			// restart would spin without ever observing cancellation.
			b.metrics.RecordSourceError()
			if b.cfg.FatalOnMissing {
				return fmt.Errorf("audio asset produced no chunks")
			}
			b.logger.Error("Audio asset produced no chunks",
				slog.Duration("retry_in", b.cfg.SourceRetry),
			)
			if !b.sleep(ctx, b.cfg.SourceRetry) {
				b.logger.Info("Broadcast loop stopped")
				return nil
			}
			continue
		}

		b.loops.Add(1)
		b.metrics.RecordLoop()
		b.logger.Info("Looping audio asset",
			slog.Uint64("pass", b.loops.Load()),
			slog.Int("active_listeners", b.registry.Len()),
		)
	}
}

// pass plays one complete pass over the asset, returning the number of chunks
// it produced.
func (b *Broadcaster) pass(ctx context.Context, reader audio.Reader) (int, error) {
	ticker := time.NewTicker(b.cfg.ChunkDelay)
	defer ticker.Stop()

	produced := 0
	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			return produced, nil
		}
		if err != nil {
			return produced, err
		}

		b.mu.Lock()
		b.lastChunk = chunk
		b.mu.Unlock()

		_, dropped := b.registry.Broadcast(chunk)
		b.chunks.Add(1)
		produced++
		if dropped > 0 {
			b.dropped.Add(uint64(dropped))
		}
		b.metrics.RecordChunkBroadcast(len(chunk), dropped)

		select {
		case <-ctx.Done():
			return produced, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *Broadcaster) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// LastChunk returns the most recently broadcast chunk, or nil before the
// first chunk is produced. Chunks are immutable after creation, so the
// returned slice is shared, not copied.
func (b *Broadcaster) LastChunk() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastChunk
}

// Registry returns the listener registry shared with stream sessions.
func (b *Broadcaster) Registry() *Registry {
	return b.registry
}

// ContentType reports the MIME type of the broadcast stream.
func (b *Broadcaster) ContentType() string {
	return b.source.ContentType()
}

// Stats returns a snapshot of broadcast counters.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		ChunksBroadcast: b.chunks.Load(),
		ChunksDropped:   b.dropped.Load(),
		LoopsCompleted:  b.loops.Load(),
		ActiveListeners: b.registry.Len(),
		QueueCapacity:   b.registry.Capacity(),
	}
}
