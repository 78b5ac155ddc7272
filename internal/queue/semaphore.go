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

package queue

import (
	"container/list"
	"context"
	"net"
	"sync"

	"golang.org/x/sync/semaphore"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

// SemaphoreQueue is the counting-semaphore formulation of the same
// bounded queue contract as Queue: a weighted semaphore of capacity
// slots stands in for the empty_slots/filled_slots semaphore pair the
// original master/worker pipeline uses, with a plain mutex-guarded
// list as backing storage instead of the array-based ring buffer.
type SemaphoreQueue struct {
	slots *semaphore.Weighted

	mu   sync.Mutex
	list *list.List

	shutdown   bool
	shutdownCh chan struct{}
}

// NewSemaphoreQueue returns a SemaphoreQueue with room for capacity
// pending connections.
func NewSemaphoreQueue(capacity int) *SemaphoreQueue {
	if capacity <= 0 {
		capacity = 1
	}

	return &SemaphoreQueue{
		slots:      semaphore.NewWeighted(int64(capacity)),
		list:       list.New(),
		shutdownCh: make(chan struct{}),
	}
}

func (q *SemaphoreQueue) TryEnqueue(conn net.Conn) liberr.Error {
	q.mu.Lock()
	closed := q.shutdown
	q.mu.Unlock()

	if closed {
		return liberr.New(ErrorQueueClosed, "queue is shutting down")
	}

	if !q.slots.TryAcquire(1) {
		return liberr.New(ErrorQueueFull, "queue has no free slot")
	}

	q.mu.Lock()
	q.list.PushBack(conn)
	q.mu.Unlock()

	return nil
}

func (q *SemaphoreQueue) Dequeue(ctx context.Context) (net.Conn, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		q.mu.Lock()
		if e := q.list.Front(); e != nil {
			q.list.Remove(e)
			q.mu.Unlock()
			q.slots.Release(1)
			return e.Value.(net.Conn), true
		}
		shut := q.shutdown
		q.mu.Unlock()

		if shut {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-q.shutdownCh:
			// loop again: Shutdown may race a final enqueue, so
			// drain whatever is left before reporting closed.
		}
	}
}

func (q *SemaphoreQueue) Shutdown() {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	q.mu.Unlock()
	close(q.shutdownCh)
}

func (q *SemaphoreQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.list.Len()
}
