package kvstore

import (
	"bytes"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestSetGetDelete(t *testing.T) {
	m := NewMemory()

	m.Set("a", []byte("value"), 0)
	got, ok := m.Get("a")
	if !ok || !bytes.Equal(got, []byte("value")) {
		t.Fatalf("Get(a) = %q, %v", got, ok)
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Error("expected a to be gone after Delete")
	}
}

func TestTTLExpiry(t *testing.T) {
	m := NewMemory()
	m.Set("short", []byte("x"), 10*time.Millisecond)

	if _, ok := m.Get("short"); !ok {
		t.Fatal("entry should be present before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := m.Get("short"); ok {
		t.Error("entry should be expired")
	}
}

func TestWindowPrunes(t *testing.T) {
	m := NewMemory()
	now := time.Now()

	// Three attempts inside the window.
	for i := 0; i < 3; i++ {
		m.Window("user", now.Add(time.Duration(i)*time.Second), time.Minute)
	}
	// A fourth attempt two minutes later: the first three have aged out.
	n := m.Window("user", now.Add(2*time.Minute), time.Minute)
	if n != 1 {
		t.Errorf("expected pruned window count 1, got %d", n)
	}
}

func TestWindowCounts(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	for i := 1; i <= 5; i++ {
		if n := m.Window("k", now, time.Minute); n != i {
			t.Errorf("attempt %d: count = %d", i, n)
		}
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i%4)
			for j := 0; j < 100; j++ {
				m.Set(key, []byte{byte(j)}, time.Second)
				m.Get(key)
				m.Window(key, time.Now(), time.Second)
			}
		}(i)
	}
	wg.Wait()
}

func TestSweepEvictsExpired(t *testing.T) {
	m := NewMemory()
	m.sweepAt = 8
	for i := 0; i < 8; i++ {
		m.Set(fmt.Sprintf("old-%d", i), []byte("x"), time.Nanosecond)
	}
	time.Sleep(time.Millisecond)
	m.Set("fresh", []byte("y"), time.Minute)

	m.mu.Lock()
	n := len(m.entries)
	m.mu.Unlock()
	if n > 2 {
		t.Errorf("expected expired entries swept, still have %d", n)
	}
}
