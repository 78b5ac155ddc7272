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

// Package accesslog implements the buffered Common Log Format access
// log sink each worker writes to. Entries accumulate in a 4 KiB
// in-memory buffer guarded by a semaphore rather than a plain mutex -
// matching the original log_mutex's role as a cross-cutting lock that
// also has to be acquired from the periodic flush goroutine - and are
// flushed to disk either when the buffer is nearly full or by a
// background flush loop every five seconds. The log file is rotated
// to "<path>.old" once it reaches 10 MiB.
package accesslog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	// BufferSize is the in-memory append buffer's capacity before a
	// flush is forced mid-request rather than waiting for the
	// periodic flush loop.
	BufferSize = 4 * 1024

	// RotateSize is the file size at which the next flush rotates
	// the current log to "<path>.old" before writing.
	RotateSize = 10 * 1024 * 1024
)

const (
	ErrorAccessLogOpen = liberr.MinPkgAccessLog + iota
	ErrorAccessLogWrite
)

func init() {
	liberr.RegisterIdFctMessage(ErrorAccessLogOpen, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorAccessLogOpen:
		return "could not open access log file"
	case ErrorAccessLogWrite:
		return "could not write access log entry to disk"
	}
	return liberr.NullMessage
}

// Sink is one worker's access log writer. Every exported method is
// safe to call from any of that worker's handler goroutines
// concurrently.
type Sink struct {
	path string

	sem syncSemaphore
	buf bytes.Buffer

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// syncSemaphore is the 1-weight binary semaphore used in place of a
// plain mutex, so the same primitive guards both Log's buffer append
// and the periodic flush goroutine's drain.
type syncSemaphore struct {
	w *semaphore.Weighted
}

func newSyncSemaphore() syncSemaphore {
	return syncSemaphore{w: semaphore.NewWeighted(1)}
}

func (s syncSemaphore) lock() {
	_ = s.w.Acquire(context.Background(), 1)
}

func (s syncSemaphore) unlock() {
	s.w.Release(1)
}

// Open creates a Sink writing to path and starts its background
// flush loop. Call Close to stop the loop and flush any remainder.
func Open(path string) (*Sink, liberr.Error) {
	s := &Sink{
		path:   path,
		sem:    newSyncSemaphore(),
		stopCh: make(chan struct{}),
	}

	// Touch the file now so a misconfigured path is caught at
	// startup instead of on the first logged request.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, liberr.New(ErrorAccessLogOpen, "cannot open access log for append", err)
	}
	_ = f.Close()

	s.wg.Add(1)
	go s.flushLoop()

	return s, nil
}

// Log appends one Common Log Format entry for a completed request.
func (s *Sink) Log(clientIP, method, path string, status int, bytesSent int64, when time.Time) {
	entry := fmt.Sprintf("%s - - [%s] \"%s %s HTTP/1.1\" %d %d\n",
		clientIP, when.Format("02/Jan/2006:15:04:05 -0700"), method, path, status, bytesSent)

	s.sem.lock()
	defer s.sem.unlock()

	if s.buf.Len()+len(entry) >= BufferSize {
		s.flushLocked()
	}

	s.buf.WriteString(entry)
}

// flushLocked writes the buffer to disk, rotating first if needed.
// Caller must hold s.sem.
func (s *Sink) flushLocked() {
	if s.buf.Len() == 0 {
		return
	}

	s.rotateIfNeeded()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err == nil {
		_, _ = f.Write(s.buf.Bytes())
		_ = f.Close()
	}

	s.buf.Reset()
}

func (s *Sink) rotateIfNeeded() {
	info, err := os.Stat(s.path)
	if err != nil || info.Size() < RotateSize {
		return
	}
	_ = os.Rename(s.path, s.path+".old")
}

// flushLoop wakes every five seconds, sleeping in one-second slices
// so Close's stop signal is noticed quickly rather than after a full
// five-second sleep, exactly as the original flush thread polls its
// shutdown flag.
func (s *Sink) flushLoop() {
	defer s.wg.Done()

	for {
		for i := 0; i < 5; i++ {
			select {
			case <-s.stopCh:
				s.finalFlush()
				return
			case <-time.After(time.Second):
			}
		}

		s.sem.lock()
		s.flushLocked()
		s.sem.unlock()
	}
}

func (s *Sink) finalFlush() {
	s.sem.lock()
	s.flushLocked()
	s.sem.unlock()
}

// Close stops the flush loop and flushes any buffered entries.
func (s *Sink) Close() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}
