package utils

import (
	"sync"
	"testing"
	"time"
)

// TestKeyedMutexSerializesSameKey verifies that two goroutines holding
// the same key never run their critical sections at the same time.
func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	const workers = 20
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			km.Lock("res-42")
			defer km.Unlock("res-42")
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected counter %d, got %d", workers, counter)
	}
}

// TestKeyedMutexIndependentKeys verifies that different keys do not
// block each other: a goroutine holding key A must not stop key B.
func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	km.Lock("a")
	defer km.Unlock("a")

	done := make(chan struct{})
	go func() {
		km.Lock("b")
		km.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
}

// TestKeyedMutexUnlockUnheldPanics verifies the sync.Mutex-like panic
// on misuse.
func TestKeyedMutexUnlockUnheldPanics(t *testing.T) {
	km := NewKeyedMutex()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unlock of unheld key")
		}
	}()
	km.Unlock("never-locked")
}
