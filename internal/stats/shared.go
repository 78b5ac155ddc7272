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

// Package stats implements the cross-process statistics region
// (total requests, bytes transferred, status-code tallies, active
// connections, accumulated response time). The master creates the
// backing region before spawning any worker and every worker mmaps
// the same region, so a counter bumped by worker 3 is visible to a
// /stats request served by worker 1.
//
// Go cannot fork after the runtime has started, so there is no
// pthread_mutex-over-shared-memory available to us the way the
// original C server uses one: a process-shared *blocking* mutex needs
// either cgo or a futex syscall wrapper, neither of which is worth
// the complexity for a struct of a dozen integers. Mutual exclusion
// here is a compare-and-swap spin-lock instead: every critical
// section is a handful of additions, so a worker only ever spins for
// the few nanoseconds it takes another worker to finish its own
// update.
package stats

import (
	"encoding/binary"
	"sync/atomic"
	"unsafe"
)

// layout mirrors server_stats_t from the original implementation, laid
// out as fixed-width fields at fixed offsets so every process - master
// and each worker, all mmap-ing the same region independently -
// agrees on where each counter lives without sharing Go type
// information (which mmap obviously cannot carry across exec).
const (
	offLock            = 0
	offTotalRequests   = 8
	offBytesTransfered = 16
	offStatus200       = 24
	offStatus404       = 32
	offStatus500       = 40
	offActiveConns     = 48
	offResponseTimeSum = 56

	// RegionSize is the number of bytes the backing mapping must
	// provide. Rounded well past offResponseTimeSum+8 to leave
	// headroom without forcing every caller to recompute it.
	RegionSize = 4096
)

// Region is a view over the shared memory mapping. Multiple Regions
// in different processes, backed by the same mapping, observe each
// other's writes as soon as they land - mmap MAP_SHARED semantics,
// not anything Go-specific.
type Region struct {
	mem []byte
}

// FromBytes wraps an existing mapping. The caller (master or worker
// bootstrap) owns the mapping's lifetime; Region never unmaps it.
func FromBytes(mem []byte) *Region {
	if len(mem) < RegionSize {
		panic("stats: shared region smaller than RegionSize")
	}
	return &Region{mem: mem}
}

func (r *Region) lockWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&r.mem[offLock]))
}

func (r *Region) lock() {
	w := r.lockWord()
	for !atomic.CompareAndSwapUint32(w, 0, 1) {
		// busy-wait: the critical section is a few additions, never
		// a blocking call, so spinning beats parking a goroutine.
	}
}

func (r *Region) unlock() {
	atomic.StoreUint32(r.lockWord(), 0)
}

func (r *Region) add(offset int, delta int64) {
	cur := int64(binary.LittleEndian.Uint64(r.mem[offset : offset+8]))
	binary.LittleEndian.PutUint64(r.mem[offset:offset+8], uint64(cur+delta))
}

func (r *Region) get(offset int) int64 {
	return int64(binary.LittleEndian.Uint64(r.mem[offset : offset+8]))
}

// Outcome classifies a completed request into the coarse status class
// the prometheus registry labels its counter by. This is a DOMAIN
// STACK addition the shared region itself does not track - see the
// exact-code tallies on RecordRequest below for what the region (and
// /stats) actually count, matching the original implementation.
type Outcome int

const (
	Outcome2xx Outcome = iota
	Outcome3xx
	Outcome4xx
	Outcome5xx
)

// OutcomeFor maps an HTTP status code to its prometheus label class.
func OutcomeFor(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Outcome2xx
	case code >= 300 && code < 400:
		return Outcome3xx
	case code >= 400 && code < 500:
		return Outcome4xx
	default:
		return Outcome5xx
	}
}

// ConnectionOpened bumps the active-connection gauge. Call once per
// accepted connection, balanced by a later ConnectionClosed.
func (r *Region) ConnectionOpened() {
	r.lock()
	r.add(offActiveConns, 1)
	r.unlock()
}

// ConnectionClosed balances a prior ConnectionOpened.
func (r *Region) ConnectionClosed() {
	r.lock()
	r.add(offActiveConns, -1)
	r.unlock()
}

// RecordRequest folds one completed request into the shared counters:
// total requests, bytes transferred, the running sum used to compute
// average response time, and - for exactly 200, 404 and 500 - the
// matching named tally. shared_mem_t in the original only ever counted
// those three exact codes; every other status (403, 405, 416, 408,
// 503, 206...) still counts toward total_requests and bytes but bumps
// no status counter, matching worker.c's update_stats_and_log.
func (r *Region) RecordRequest(statusCode int, bytesSent int64, elapsedMs int64) {
	r.lock()
	defer r.unlock()

	r.add(offTotalRequests, 1)
	r.add(offBytesTransfered, bytesSent)
	r.add(offResponseTimeSum, elapsedMs)

	switch statusCode {
	case 200:
		r.add(offStatus200, 1)
	case 404:
		r.add(offStatus404, 1)
	case 500:
		r.add(offStatus500, 1)
	}
}

// Snapshot is a point-in-time, non-shared copy of the region's
// counters - what /stats and /metrics both render from.
type Snapshot struct {
	TotalRequests     int64
	BytesTransferred  int64
	Status200         int64
	Status404         int64
	Status500         int64
	ActiveConnections int64
	AvgResponseTimeMs float64
}

// Snapshot reads every counter under the spin-lock so the values are
// mutually consistent (no reader ever sees half of one update and
// half of the next).
func (r *Region) Snapshot() Snapshot {
	r.lock()
	defer r.unlock()

	s := Snapshot{
		TotalRequests:     r.get(offTotalRequests),
		BytesTransferred:  r.get(offBytesTransfered),
		Status200:         r.get(offStatus200),
		Status404:         r.get(offStatus404),
		Status500:         r.get(offStatus500),
		ActiveConnections: r.get(offActiveConns),
	}

	if s.TotalRequests > 0 {
		s.AvgResponseTimeMs = float64(r.get(offResponseTimeSum)) / float64(s.TotalRequests)
	}

	return s
}
