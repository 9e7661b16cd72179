// Package waitqueue implements a FIFO of waiters that can be woken one at a
// time, like the "signal" half of a condition variable, except that a waiter
// may also give up on a context without losing a wakeup meant for someone else.
//
// Queue is not safe for concurrent use: every call must be made while holding
// the lock that protects the state the waiters are interested in.
package waitqueue

// Waiter is a single parked goroutine. C is closed when the waiter is signaled.
type Waiter struct {
	C        chan struct{}
	signaled bool
}

type Queue struct {
	waiters []*Waiter
}

// Add enqueues a new waiter. The caller must release its lock before blocking
// on the returned channel.
func (q *Queue) Add() *Waiter {
	w := &Waiter{C: make(chan struct{})}
	q.waiters = append(q.waiters, w)

	return w
}

// Signal wakes the oldest waiter, if there is one.
func (q *Queue) Signal() {
	if len(q.waiters) == 0 {
		return
	}

	w := q.waiters[0]
	q.waiters[0] = nil
	q.waiters = q.waiters[1:]

	w.signaled = true
	close(w.C)
}

// Remove drops a waiter that stopped waiting. If the waiter had already been
// signaled, the wakeup is handed to the next waiter in line.
func (q *Queue) Remove(w *Waiter) {
	if w.signaled {
		q.Signal()
		return
	}

	for i, other := range q.waiters {
		if other == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

func (q *Queue) Len() int {
	return len(q.waiters)
}
