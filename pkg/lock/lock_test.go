package lock

import (
	"errors"
	"testing"
	"time"
)

func TestLock_AcquireRelease(t *testing.T) {
	l := New("camera")

	if err := l.Acquire(0); err != nil {
		t.Fatalf("Acquire failed on free lock: %v", err)
	}
	if l.TryAcquire() {
		t.Error("TryAcquire succeeded on held lock")
	}
	l.Release()
	if !l.TryAcquire() {
		t.Error("TryAcquire failed on released lock")
	}
	l.Release()
}

func TestLock_AcquireTimeout(t *testing.T) {
	l := New("stage")
	if err := l.Acquire(0); err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	err := l.Acquire(20 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error on contended lock")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error does not match ErrTimeout: %v", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Name != "stage" {
		t.Errorf("expected TimeoutError naming the stage lock, got %v", err)
	}
}

func TestLock_ReleaseUnheldPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic releasing an unheld lock")
		}
	}()
	New("camera").Release()
}

func TestLock_WithReleasesOnError(t *testing.T) {
	l := New("camera")
	wantErr := errors.New("boom")

	if err := l.With(0, func() error { return wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("With returned %v, want %v", err, wantErr)
	}
	if !l.TryAcquire() {
		t.Error("lock still held after With returned an error")
	}
	l.Release()
}

func TestComposite_PartialFailureReleasesHeld(t *testing.T) {
	a := New("camera")
	b := New("stage")
	c := NewComposite(a, b)

	// Hold B so the composite acquisition fails after taking A.
	if err := b.Acquire(0); err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	err := c.Acquire(20 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout acquiring composite, got %v", err)
	}

	// A must have been released before the error was returned.
	if !a.TryAcquire() {
		t.Error("first member still held after composite acquisition failed")
	}
	a.Release()
}

func TestComposite_AcquireReleaseAll(t *testing.T) {
	a := New("camera")
	b := New("stage")
	c := NewComposite(a, b)

	if err := c.Acquire(0); err != nil {
		t.Fatal(err)
	}
	if a.TryAcquire() || b.TryAcquire() {
		t.Error("members acquirable while composite held")
	}
	c.Release()
	if !a.TryAcquire() || !b.TryAcquire() {
		t.Error("members not released by composite Release")
	}
	a.Release()
	b.Release()
}

func TestComposite_BlocksConcurrentHolder(t *testing.T) {
	a := New("camera")
	b := New("stage")
	c := NewComposite(a, b)

	if err := c.Acquire(0); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.With(500*time.Millisecond, func() error { return nil })
	}()

	select {
	case <-done:
		t.Fatal("second holder ran while composite was held")
	case <-time.After(30 * time.Millisecond):
	}

	c.Release()
	if err := <-done; err != nil {
		t.Fatalf("second holder failed after release: %v", err)
	}
}
