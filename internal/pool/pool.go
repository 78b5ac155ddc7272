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

// Package pool implements the per-worker-process thread pool as a
// fixed number of goroutines pulling from a queue.Dispatcher, with a
// supervisor that restarts any goroutine that dies on an unexpected
// panic - the goroutine equivalent of the original thread pool
// manager's join-and-recreate loop, adapted to Go's recover() instead
// of pthread_join-on-a-dead-thread-id as the liveness signal.
package pool

import (
	"context"
	"net"

	"github.com/nabbar/concurrent-httpd/internal/corelog"
	"github.com/nabbar/concurrent-httpd/internal/queue"
)

// Handler processes one accepted connection to completion (including
// closing it).
type Handler func(conn net.Conn)

// Pool supervises size goroutines, each pulling connections off q and
// running fn on them, restarting any that exit via panic.
type Pool struct {
	size int
	q    queue.Dispatcher
	fn   Handler
	log  *corelog.Logger

	done chan struct{}
}

// New builds a Pool. Call Run to start the goroutines; call Stop to
// request they drain and exit.
func New(size int, q queue.Dispatcher, fn Handler, log *corelog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{size: size, q: q, fn: fn, log: log, done: make(chan struct{})}
}

// Run starts the pool's goroutines and blocks until every one of them
// has exited (which only happens after Stop, or after the queue
// itself reports shutdown).
func (p *Pool) Run(ctx context.Context) {
	exited := make(chan int, p.size)

	for i := 0; i < p.size; i++ {
		go p.supervise(ctx, i, exited)
	}

	for i := 0; i < p.size; i++ {
		<-exited
	}
}

// Stop unblocks every goroutine parked in a Dequeue call. It does not
// wait for in-flight handlers to finish; callers that need that
// should await Run's return instead.
func (p *Pool) Stop() {
	p.q.Shutdown()
}

// supervise runs worker id's loop and, if it exits via panic rather
// than a clean shutdown, logs the recovered value and restarts it -
// mirroring the original pool's "join returned early, thread died,
// recreate it" behavior, since Go goroutines have no equivalent of a
// dead thread ID to detect from the outside.
func (p *Pool) supervise(ctx context.Context, id int, exited chan<- int) {
	for {
		clean := p.runOnce(ctx, id)
		if clean {
			exited <- id
			return
		}
		p.log.WithField("worker_thread", id).Warn("pool goroutine recovered from panic, restarting")
	}
}

// runOnce returns true if the loop exited cleanly (queue shutdown or
// context cancellation), false if it exited via a recovered panic.
func (p *Pool) runOnce(ctx context.Context, id int) (clean bool) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("worker_thread", id).WithField("panic", r).Error("handler panicked")
			clean = false
		}
	}()

	for {
		conn, ok := p.q.Dequeue(ctx)
		if !ok {
			return true
		}
		p.fn(conn)
	}
}
