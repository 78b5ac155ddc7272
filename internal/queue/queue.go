/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package queue implements the bounded per-worker task queue each
// worker process dequeues accepted connections from. Two interchangeable
// implementations are provided: Queue, a classic mutex+condvar ring
// buffer, and SemaphoreQueue, built on golang.org/x/sync/semaphore,
// for callers that prefer the counting-semaphore formulation. Both
// satisfy the same Dispatcher interface so a worker can pick either
// without the rest of its code noticing.
package queue

import (
	"context"
	"net"
	"sync"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorQueueFull = liberr.MinPkgQueue + iota
	ErrorQueueClosed
)

func init() {
	liberr.RegisterIdFctMessage(ErrorQueueFull, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorQueueFull:
		return "task queue is full"
	case ErrorQueueClosed:
		return "task queue is shutting down"
	}
	return liberr.NullMessage
}

// Dispatcher is the interface internal/worker and internal/pool use;
// it hides whether the concrete queue is the condvar ring buffer or
// the semaphore-backed variant.
type Dispatcher interface {
	// TryEnqueue attempts to add conn without blocking. It returns an
	// error immediately (never blocks the master/worker's accept
	// loop) when the queue is full or already shutting down.
	TryEnqueue(conn net.Conn) liberr.Error

	// Dequeue blocks until a connection is available or ctx is done
	// or the queue is shutting down, in which case it returns
	// (nil, false).
	Dequeue(ctx context.Context) (net.Conn, bool)

	// Shutdown marks the queue closed and wakes every blocked
	// Dequeue caller.
	Shutdown()

	// Len returns the number of connections currently queued.
	Len() int
}

// Queue is a fixed-capacity circular buffer of net.Conn guarded by a
// mutex and a condition variable, the direct translation of the
// original server's local_queue_t / add_task / dequeue pair.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	buf   []net.Conn
	head  int
	tail  int
	count int

	shutdown bool
}

// New returns a Queue with room for capacity pending connections.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}

	q := &Queue{buf: make([]net.Conn, capacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) TryEnqueue(conn net.Conn) liberr.Error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		return liberr.New(ErrorQueueClosed, "queue is shutting down")
	}

	if q.count == len(q.buf) {
		return liberr.New(ErrorQueueFull, "queue has no free slot")
	}

	q.buf[q.tail] = conn
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++

	q.cond.Signal()
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (net.Conn, bool) {
	// A condvar has no native context cancellation, so a watcher
	// goroutine broadcasts on ctx.Done() to unblock Wait - the same
	// technique used to bolt cancellation onto condition variables
	// when no select-friendly alternative exists.
	done := make(chan struct{})
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				q.cond.Broadcast()
				q.mu.Unlock()
			case <-done:
			}
		}()
		defer close(done)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.shutdown {
		if ctx != nil && ctx.Err() != nil {
			return nil, false
		}
		q.cond.Wait()
	}

	if q.count == 0 {
		return nil, false
	}

	conn := q.buf[q.head]
	q.buf[q.head] = nil
	q.head = (q.head + 1) % len(q.buf)
	q.count--

	return conn, true
}

func (q *Queue) Shutdown() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}
