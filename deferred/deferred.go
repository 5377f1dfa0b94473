// Package deferred provides a value that becomes available later.
//
// A Deferred settles exactly once, either with a value or with an error.
// Continuations attached with Then run synchronously on the goroutine that
// settles the Deferred, or immediately if it has already settled.
package deferred

import (
	"context"
	"errors"
	"sync"
)

// ErrAlreadySettled is returned when a settled Deferred is settled again.
var ErrAlreadySettled = errors.New("deferred already settled")

type state int

const (
	pending state = iota
	fulfilled
	rejected
)

// Deferred is a promise-style value.
type Deferred struct {
	lock      sync.Mutex
	state     state
	value     any
	err       error
	callbacks []func()
	settled   chan struct{}
}

// New creates a pending Deferred.
func New() *Deferred {
	return &Deferred{settled: make(chan struct{})}
}

// Resolved creates a Deferred that is already fulfilled with v.
func Resolved(v any) *Deferred {
	d := New()
	_ = d.Resolve(v)

	return d
}

// Rejected creates a Deferred that is already rejected with err.
func Rejected(err error) *Deferred {
	d := New()
	_ = d.Reject(err)

	return d
}

// Resolve fulfills the Deferred with v.
func (d *Deferred) Resolve(v any) error {
	return d.settle(fulfilled, v, nil)
}

// Reject rejects the Deferred with err.
func (d *Deferred) Reject(err error) error {
	return d.settle(rejected, nil, err)
}

func (d *Deferred) settle(s state, v any, err error) error {
	d.lock.Lock()
	if d.state != pending {
		d.lock.Unlock()
		return ErrAlreadySettled
	}

	d.state = s
	d.value = v
	d.err = err
	callbacks := d.callbacks
	d.callbacks = nil
	close(d.settled)
	d.lock.Unlock()

	for _, cb := range callbacks {
		cb()
	}

	return nil
}

// Then returns a Deferred that fulfills with onValue's result once d
// fulfills. A rejection of d is passed through to the returned Deferred and
// onValue is not called.
func (d *Deferred) Then(onValue func(v any) any) *Deferred {
	next := New()

	d.whenSettled(func() {
		if d.state == rejected {
			_ = next.Reject(d.err)
			return
		}

		_ = next.Resolve(onValue(d.value))
	})

	return next
}

// Catch returns a Deferred that fulfills with onErr's result if d rejects.
// A fulfilled value is passed through unchanged.
func (d *Deferred) Catch(onErr func(err error) any) *Deferred {
	next := New()

	d.whenSettled(func() {
		if d.state == rejected {
			_ = next.Resolve(onErr(d.err))
			return
		}

		_ = next.Resolve(d.value)
	})

	return next
}

func (d *Deferred) whenSettled(cb func()) {
	d.lock.Lock()
	if d.state == pending {
		d.callbacks = append(d.callbacks, cb)
		d.lock.Unlock()

		return
	}
	d.lock.Unlock()

	cb()
}

// Settled tells whether the Deferred is no longer pending.
func (d *Deferred) Settled() bool {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.state != pending
}

// Wait blocks until the Deferred settles or the context is done.
func (d *Deferred) Wait(ctx context.Context) (any, error) {
	if d.Settled() {
		return d.result()
	}

	select {
	case <-d.settled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return d.result()
}

func (d *Deferred) result() (any, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	return d.value, d.err
}
