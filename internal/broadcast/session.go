package broadcast

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Session models one client connection's lifetime: it acquires a listener
// queue on creation and guarantees its release on every exit path through an
// idempotent Close. Next is the only operation allowed to suspend waiting for
// data; everything else in the package is non-blocking with respect to
// listener speed.
type Session struct {
	broadcaster *Broadcaster
	listener    *Listener
	started     time.Time
	closeOnce   sync.Once
}

// NewSession registers a listener queue and, if broadcasting has already
// begun, seeds it with the most recently broadcast chunk so a late joiner
// starts in sync with the live stream. The seed push is best-effort; a
// freshly created queue cannot be full, but the push stays non-blocking.
func (b *Broadcaster) NewSession() *Session {
	l := b.registry.Register()

	if last := b.LastChunk(); last != nil {
		if l.Push(last) {
			b.metrics.RecordSeedChunk()
		}
	}

	active := b.registry.Len()
	b.metrics.RecordListenerJoined(active)
	b.logger.Info("Listener joined",
		slog.String("listener_id", l.ID()),
		slog.Int("active_listeners", active),
	)

	return &Session{
		broadcaster: b,
		listener:    l,
		started:     time.Now(),
	}
}

// ID returns the session's listener identity.
func (s *Session) ID() string {
	return s.listener.ID()
}

// Next blocks until a chunk is available on the session's queue, ctx is
// cancelled, or the queue is closed. Cancellation returns ctx.Err() so the
// caller's cleanup path always runs; a closed queue returns io.EOF.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-s.listener.Chunks():
		if !ok {
			return nil, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unregisters the session's listener queue. It is idempotent and must
// run on every session exit path, normal or abrupt.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.broadcaster.registry.Unregister(s.listener)

		active := s.broadcaster.registry.Len()
		duration := time.Since(s.started)
		sent, dropped := s.listener.Stats()

		s.broadcaster.metrics.RecordListenerLeft(active, duration.Seconds())
		s.broadcaster.logger.Info("Listener left",
			slog.String("listener_id", s.listener.ID()),
			slog.Int("active_listeners", active),
			slog.Duration("session_duration", duration),
			slog.Uint64("chunks_received", sent),
			slog.Uint64("chunks_dropped", dropped),
		)
	})
}
