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

// Package worker implements the worker-side bootstrap: map the shared
// statistics region inherited from master, build the local cache,
// access log sink and thread pool, then pull accepted connections off
// the inherited IPC channel and hand each one to the pool until master
// closes the channel.
package worker

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/nabbar/concurrent-httpd/config"
	"github.com/nabbar/concurrent-httpd/internal/accesslog"
	"github.com/nabbar/concurrent-httpd/internal/cache"
	"github.com/nabbar/concurrent-httpd/internal/corelog"
	"github.com/nabbar/concurrent-httpd/internal/handler"
	"github.com/nabbar/concurrent-httpd/internal/ipc"
	"github.com/nabbar/concurrent-httpd/internal/pool"
	"github.com/nabbar/concurrent-httpd/internal/queue"
	"github.com/nabbar/concurrent-httpd/internal/stats"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorWorkerStatsMap = liberr.MinPkgWorker + iota
	ErrorWorkerIPC
	ErrorWorkerCache
	ErrorWorkerAccessLog
)

func init() {
	liberr.RegisterIdFctMessage(ErrorWorkerStatsMap, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorWorkerStatsMap:
		return "could not map inherited shared statistics region"
	case ErrorWorkerIPC:
		return "could not wrap inherited IPC file descriptor"
	case ErrorWorkerCache:
		return "could not initialize local file cache"
	case ErrorWorkerAccessLog:
		return "could not open access log sink"
	}
	return liberr.NullMessage
}

// serviceUnavailableBody is the fixed body sent when the local queue
// has no free slot - the one response this process ever writes
// without having run a request through the handler pipeline, so it
// does not borrow handler's response writer.
const serviceUnavailableBody = "server queue is full\n"

// Run is the worker process's entry point. ipcFile and statsFile are
// the inherited file descriptors at indices 3 and 4 set up by
// master.spawnWorker. Run blocks until master closes its end of the
// IPC channel, then drains the pool and returns.
func Run(cfg config.ServerConfig, ipcFile, statsFile *os.File, log *corelog.Logger) liberr.Error {
	// SIGINT is the master's concern; a worker that reacted to it
	// independently could tear down its thread pool while the master
	// still believes the worker is healthy and keeps dispatching to it.
	signal.Ignore(syscall.SIGINT)

	region, rerr := stats.MapRegion(statsFile)
	if rerr != nil {
		return liberr.New(ErrorWorkerStatsMap, "mmap of inherited region failed", rerr)
	}

	ch, cerr := ipc.FromFile(ipcFile)
	if cerr != nil {
		return liberr.New(ErrorWorkerIPC, "wrapping inherited IPC fd failed", cerr)
	}
	defer ch.Close()

	fileCache, caerr := cache.New(cfg.CacheBytes())
	if caerr != nil {
		return liberr.New(ErrorWorkerCache, "cache initialization failed", caerr)
	}

	sink, serr := accesslog.Open(cfg.AccessLog)
	if serr != nil {
		return liberr.New(ErrorWorkerAccessLog, "access log initialization failed", serr)
	}
	defer sink.Close()

	h := handler.New(cfg, fileCache, region, sink, log)

	q := queue.New(cfg.MaxQueueSize)
	p := pool.New(cfg.ThreadsPerWorker, q, h.Handle, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		p.Run(ctx)
	}()

	log.Info("worker ready, waiting for connections")
	receiveLoop(ch, q, log)

	p.Stop()
	cancel()
	<-poolDone

	log.Info("worker shut down cleanly")
	return nil
}

// receiveLoop pulls connections off the IPC channel one at a time and
// tries to enqueue each for the thread pool, returning once master
// closes its end (Receive reports a clean EOF).
func receiveLoop(ch *ipc.Channel, q *queue.Queue, log *corelog.Logger) {
	for {
		conn, err := ch.Receive()
		if err != nil {
			log.WithError(err).Warn("IPC receive failed, stopping")
			return
		}
		if conn == nil {
			log.Info("master closed IPC channel")
			return
		}

		if qerr := q.TryEnqueue(conn); qerr != nil {
			rejectOverloaded(conn)
		}
	}
}

// rejectOverloaded writes a fixed 503 response and closes conn when
// the local queue has no free slot - the per-worker backpressure the
// spec requires instead of letting the queue grow unbounded.
func rejectOverloaded(conn net.Conn) {
	defer conn.Close()

	resp := fmt.Sprintf(
		"HTTP/1.1 503 Service Unavailable\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		len(serviceUnavailableBody), serviceUnavailableBody,
	)
	_, _ = conn.Write([]byte(resp))
}
