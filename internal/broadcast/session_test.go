package broadcast

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestSessionLateJoinSeed(t *testing.T) {
	asset := testAsset(4096)
	b := newTestBroadcaster(asset, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for b.LastChunk() == nil {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for broadcasting to begin")
		}
		time.Sleep(time.Millisecond)
	}

	// A listener that joins after broadcasting has begun receives the most
	// recently broadcast chunk first.
	s := b.NewSession()
	defer s.Close()

	first, err := s.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if !bytes.Equal(first, b.LastChunk()) && !bytes.Equal(first, asset) {
		t.Error("first chunk of a late joiner is not the cached chunk")
	}

	cancel()
	<-done
}

func TestSessionNoSeedBeforeBroadcast(t *testing.T) {
	b := newTestBroadcaster(testAsset(4096), 10)

	// Without a running loop there is no last chunk to seed; the session's
	// queue starts empty and Next honours cancellation.
	s := b.NewSession()
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestSessionCancellation(t *testing.T) {
	b := newTestBroadcaster(testAsset(4096), 10)

	s := b.NewSession()
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Next(ctx); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSessionCleanup(t *testing.T) {
	b := newTestBroadcaster(testAsset(4096), 10)
	registry := b.Registry()

	s := b.NewSession()
	if registry.Len() != 1 {
		t.Fatalf("expected 1 registered listener, got %d", registry.Len())
	}

	s.Close()
	if registry.Len() != 0 {
		t.Errorf("expected 0 listeners after Close, got %d", registry.Len())
	}

	// Close is idempotent on every exit path.
	s.Close()
	if registry.Len() != 0 {
		t.Errorf("expected 0 listeners after double Close, got %d", registry.Len())
	}
}

func TestSessionIndependentLifecycles(t *testing.T) {
	b := newTestBroadcaster(testAsset(4096), 10)
	registry := b.Registry()

	s1 := b.NewSession()
	s2 := b.NewSession()
	s3 := b.NewSession()

	if registry.Len() != 3 {
		t.Fatalf("expected 3 listeners, got %d", registry.Len())
	}

	s2.Close()
	if registry.Len() != 2 {
		t.Errorf("expected 2 listeners after closing one session, got %d", registry.Len())
	}

	s1.Close()
	s3.Close()
	if registry.Len() != 0 {
		t.Errorf("expected 0 listeners, got %d", registry.Len())
	}
}
