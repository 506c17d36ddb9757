package broadcast

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegistryRegisterUnregister(t *testing.T) {
	r := NewRegistry(10)

	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d listeners", r.Len())
	}

	l := r.Register()
	if l.ID() == "" {
		t.Error("expected a non-empty listener ID")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 listener, got %d", r.Len())
	}

	r.Unregister(l)
	if r.Len() != 0 {
		t.Errorf("expected empty registry after unregister, got %d", r.Len())
	}

	// Unregistering again is a no-op, not an error.
	r.Unregister(l)
	if r.Len() != 0 {
		t.Errorf("expected empty registry after double unregister, got %d", r.Len())
	}

	r.Unregister(nil)
}

func TestListenerDropNewest(t *testing.T) {
	// A capacity-10 queue receiving 15 chunks with no consumer holds the
	// earliest 10; the newest 5 are dropped and the producer never blocks.
	r := NewRegistry(10)
	l := r.Register()

	for i := 0; i < 15; i++ {
		l.Push([]byte(fmt.Sprintf("chunk-%d", i)))
	}

	if got := len(l.ch); got != 10 {
		t.Fatalf("expected 10 buffered chunks, got %d", got)
	}

	sent, dropped := l.Stats()
	if sent != 10 {
		t.Errorf("expected 10 sent, got %d", sent)
	}
	if dropped != 5 {
		t.Errorf("expected 5 dropped, got %d", dropped)
	}

	for i := 0; i < 10; i++ {
		chunk := <-l.ch
		want := fmt.Sprintf("chunk-%d", i)
		if string(chunk) != want {
			t.Errorf("buffered chunk %d: expected %q, got %q", i, want, chunk)
		}
	}
}

func TestRegistryBroadcast(t *testing.T) {
	r := NewRegistry(2)

	a := r.Register()
	b := r.Register()

	// Fill b so the next broadcast drops for it.
	b.Push([]byte("x"))
	b.Push([]byte("y"))

	sent, dropped := r.Broadcast([]byte("z"))
	if sent != 1 {
		t.Errorf("expected 1 sent, got %d", sent)
	}
	if dropped != 1 {
		t.Errorf("expected 1 dropped, got %d", dropped)
	}

	if got := <-a.Chunks(); string(got) != "z" {
		t.Errorf("listener a: expected %q, got %q", "z", got)
	}
}

func TestRegistryConcurrentMembership(t *testing.T) {
	// Registration and unregistration must be safe against concurrent
	// fan-out iteration.
	r := NewRegistry(4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			r.Broadcast([]byte("chunk"))
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l := r.Register()
				r.Unregister(l)
			}
		}()
	}

	wg.Wait()
	<-done

	if r.Len() != 0 {
		t.Errorf("expected empty registry, got %d listeners", r.Len())
	}
}

func TestUnregisterClosesQueue(t *testing.T) {
	r := NewRegistry(4)
	l := r.Register()
	r.Unregister(l)

	if _, ok := <-l.Chunks(); ok {
		t.Error("expected closed queue after unregister")
	}
}
