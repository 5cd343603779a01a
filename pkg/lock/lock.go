// Package lock provides named, timeout-capable exclusive locks for hardware
// resources, and a composite lock that treats several resources as one.
//
// The camera and stage each own a Lock. Any operation that must keep both
// resources consistent for its whole duration (e.g. an autofocus run) acquires
// them through a Composite, which always takes its members in a fixed order so
// two composite holders can never deadlock against each other.
package lock

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned (wrapped) when a lock cannot be acquired in time.
// Match with errors.Is.
var ErrTimeout = errors.New("lock: acquisition timed out")

// TimeoutError reports which lock could not be acquired.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock: %q not acquired within %v", e.Name, e.Timeout)
}

// Is makes TimeoutError match ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// Lock is a mutual-exclusion handle with a name (for diagnostics) and
// timeout-capable acquisition. The zero value is not usable; use New.
type Lock struct {
	name string
	ch   chan struct{}
}

// New returns an unheld lock with the given name.
func New(name string) *Lock {
	l := &Lock{name: name, ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Name returns the lock's name.
func (l *Lock) Name() string { return l.name }

// Acquire takes exclusive ownership of the lock, waiting up to timeout.
// A timeout <= 0 waits indefinitely. On timeout it returns a *TimeoutError
// matching ErrTimeout.
func (l *Lock) Acquire(timeout time.Duration) error {
	if timeout <= 0 {
		<-l.ch
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.ch:
		return nil
	case <-t.C:
		return &TimeoutError{Name: l.name, Timeout: timeout}
	}
}

// TryAcquire takes the lock if it is free, returning whether it succeeded.
func (l *Lock) TryAcquire() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

// Release gives up ownership. Releasing a lock that is not held panics,
// since it indicates a locking discipline bug rather than a runtime condition.
func (l *Lock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
		panic(fmt.Sprintf("lock: release of unheld lock %q", l.name))
	}
}

// With acquires the lock, runs fn, and releases on every exit path,
// including a panic inside fn.
func (l *Lock) With(timeout time.Duration, fn func() error) error {
	if err := l.Acquire(timeout); err != nil {
		return err
	}
	defer l.Release()
	return fn()
}
