package lock

import "time"

// Composite acquires a fixed, ordered set of locks as one unit.
//
// Acquisition is all-or-nothing: if any member cannot be taken within the
// timeout, every member already held by this call is released before the
// error is returned. Because the member order is fixed at construction and
// shared by all holders, circular waits cannot occur.
type Composite struct {
	locks []*Lock
}

// NewComposite builds a composite over locks, acquired in the given order.
func NewComposite(locks ...*Lock) *Composite {
	return &Composite{locks: locks}
}

// Acquire takes every member lock in order, waiting up to timeout for each.
// On failure, members acquired so far are released in reverse order.
func (c *Composite) Acquire(timeout time.Duration) error {
	for i, l := range c.locks {
		if err := l.Acquire(timeout); err != nil {
			for j := i - 1; j >= 0; j-- {
				c.locks[j].Release()
			}
			return err
		}
	}
	return nil
}

// Release gives up all member locks, in reverse acquisition order.
func (c *Composite) Release() {
	for i := len(c.locks) - 1; i >= 0; i-- {
		c.locks[i].Release()
	}
}

// With acquires all members, runs fn, and releases on every exit path.
func (c *Composite) With(timeout time.Duration, fn func() error) error {
	if err := c.Acquire(timeout); err != nil {
		return err
	}
	defer c.Release()
	return fn()
}
