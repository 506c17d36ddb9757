package broadcast

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cap-mahdi/stream-backend/internal/audio"
	"github.com/cap-mahdi/stream-backend/internal/metrics"
)

// testMetrics is shared across the package's tests; promauto metrics register
// globally and can only be created once per test binary.
var testMetrics = metrics.NewMetrics()

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAsset(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func newTestBroadcaster(asset []byte, capacity int) *Broadcaster {
	source := audio.NewBufferSource(asset, 4096, "audio/mpeg")
	registry := NewRegistry(capacity)
	return New(source, registry, Config{
		ChunkDelay:  time.Millisecond,
		SourceRetry: 10 * time.Millisecond,
	}, testLogger(), testMetrics)
}

func TestBroadcasterDeliversAssetInOrder(t *testing.T) {
	asset := testAsset(10000)
	b := newTestBroadcaster(asset, 100)

	l := b.Registry().Register()
	defer b.Registry().Unregister(l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// A keeping-up listener observes one full pass: [4096, 4096, 1808],
	// concatenating to the asset exactly.
	var got []byte
	wantLens := []int{4096, 4096, 1808}
	for i, want := range wantLens {
		select {
		case chunk := <-l.Chunks():
			if len(chunk) != want {
				t.Errorf("chunk %d: expected length %d, got %d", i, want, len(chunk))
			}
			got = append(got, chunk...)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for chunk %d", i)
		}
	}

	if !bytes.Equal(got, asset) {
		t.Error("first pass does not reproduce the asset")
	}

	// The loop restarts seamlessly: the next chunk is a full-size chunk
	// from offset 0 again.
	select {
	case chunk := <-l.Chunks():
		if len(chunk) != 4096 {
			t.Errorf("expected full 4096-byte chunk after restart, got %d", len(chunk))
		}
		if !bytes.Equal(chunk, asset[:4096]) {
			t.Error("restarted pass did not begin at offset 0")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the loop restart")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned error on cancellation: %v", err)
	}
}

func TestBroadcasterLastChunkCache(t *testing.T) {
	asset := testAsset(4096)
	b := newTestBroadcaster(asset, 10)

	if b.LastChunk() != nil {
		t.Error("expected nil last chunk before broadcasting starts")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for b.LastChunk() == nil {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the last-chunk cache")
		}
		time.Sleep(time.Millisecond)
	}

	if !bytes.Equal(b.LastChunk(), asset) {
		t.Error("last chunk does not match the broadcast chunk")
	}

	cancel()
	<-done
}

func TestBroadcasterStalledListenerDoesNotBlockOthers(t *testing.T) {
	asset := testAsset(20480) // 5 chunks per pass
	b := newTestBroadcaster(asset, 3)

	stalled := b.Registry().Register()
	active := b.Registry().Register()
	defer b.Registry().Unregister(stalled)
	defer b.Registry().Unregister(active)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// The active listener keeps consuming well past the stalled listener's
	// capacity; the loop must not slow down for the stalled one.
	for i := 0; i < 20; i++ {
		select {
		case <-active.Chunks():
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for chunk %d; stalled listener blocked the loop", i)
		}
	}

	cancel()
	<-done

	if got := len(stalled.ch); got > 3 {
		t.Errorf("stalled queue exceeded its capacity: %d chunks buffered", got)
	}
	if _, dropped := stalled.Stats(); dropped == 0 {
		t.Error("expected drops for the stalled listener")
	}

	stats := b.Stats()
	if stats.ChunksDropped == 0 {
		t.Error("expected broadcaster drop counter to be non-zero")
	}
}

func TestBroadcasterLoopCounter(t *testing.T) {
	asset := testAsset(4096)
	b := newTestBroadcaster(asset, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for b.Stats().LoopsCompleted < 2 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for two completed passes")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done
}

func TestBroadcasterFatalOnMissingSource(t *testing.T) {
	source := audio.NewFileSource("/nonexistent/audio.mp3", 4096)
	b := New(source, NewRegistry(10), Config{
		ChunkDelay:     time.Millisecond,
		SourceRetry:    time.Millisecond,
		FatalOnMissing: true,
	}, testLogger(), testMetrics)

	if err := b.Run(context.Background()); err == nil {
		t.Error("expected Run to fail for a missing asset with FatalOnMissing")
	}
}

// emptyPassSource opens successfully but yields no chunks, modelling an asset
// truncated to zero length after Open's checks.
type emptyPassSource struct{}

func (emptyPassSource) Open() (audio.Reader, error) { return emptyPassReader{}, nil }
func (emptyPassSource) ContentType() string         { return "audio/mpeg" }

type emptyPassReader struct{}

func (emptyPassReader) Next() ([]byte, error) { return nil, io.EOF }
func (emptyPassReader) Close() error          { return nil }

func TestBroadcasterEmptyAssetStopsOnCancel(t *testing.T) {
	// A zero-byte asset file must not turn the loop into a busy spin that
	// ignores cancellation and hangs shutdown.
	path := filepath.Join(t.TempDir(), "empty.mp3")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to write asset: %v", err)
	}

	source := audio.NewFileSource(path, 4096)
	b := New(source, NewRegistry(10), Config{
		ChunkDelay:  time.Millisecond,
		SourceRetry: 5 * time.Millisecond,
	}, testLogger(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on cancellation: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation with an empty asset")
	}

	if loops := b.Stats().LoopsCompleted; loops != 0 {
		t.Errorf("expected 0 completed passes over an empty asset, got %d", loops)
	}
}

func TestBroadcasterZeroChunkPassRetries(t *testing.T) {
	// A pass that ends without producing a single chunk is a source problem:
	// the loop must back off instead of restarting instantly, and must still
	// observe cancellation.
	b := New(emptyPassSource{}, NewRegistry(10), Config{
		ChunkDelay:  time.Millisecond,
		SourceRetry: 5 * time.Millisecond,
	}, testLogger(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on cancellation: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation with a zero-chunk source")
	}

	if loops := b.Stats().LoopsCompleted; loops != 0 {
		t.Errorf("expected 0 completed passes for a zero-chunk source, got %d", loops)
	}
}

func TestBroadcasterZeroChunkPassFatal(t *testing.T) {
	b := New(emptyPassSource{}, NewRegistry(10), Config{
		ChunkDelay:     time.Millisecond,
		SourceRetry:    time.Millisecond,
		FatalOnMissing: true,
	}, testLogger(), testMetrics)

	if err := b.Run(context.Background()); err == nil {
		t.Error("expected Run to fail for a zero-chunk source with FatalOnMissing")
	}
}

func TestBroadcasterRetriesMissingSource(t *testing.T) {
	source := audio.NewFileSource("/nonexistent/audio.mp3", 4096)
	b := New(source, NewRegistry(10), Config{
		ChunkDelay:  time.Millisecond,
		SourceRetry: 5 * time.Millisecond,
	}, testLogger(), testMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	// Give the loop a few retry cycles, then confirm cancellation still
	// stops it cleanly.
	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error on cancellation: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
