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

package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestRegion(t *testing.T) *Region {
	t.Helper()
	return FromBytes(make([]byte, RegionSize))
}

func TestRegion_RecordRequest(t *testing.T) {
	r := newTestRegion(t)

	r.RecordRequest(200, 1024, 12)
	r.RecordRequest(404, 0, 3)
	r.RecordRequest(403, 0, 1)

	snap := r.Snapshot()
	require.EqualValues(t, 3, snap.TotalRequests)
	require.EqualValues(t, 1024, snap.BytesTransferred)
	require.EqualValues(t, 1, snap.Status200)
	require.EqualValues(t, 1, snap.Status404)
	require.EqualValues(t, 0, snap.Status500)
	require.InDelta(t, 16.0/3.0, snap.AvgResponseTimeMs, 0.001)
}

func TestRegion_ConnectionGauge(t *testing.T) {
	r := newTestRegion(t)

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()

	require.EqualValues(t, 1, r.Snapshot().ActiveConnections)
}

func TestRegion_ConcurrentUpdates(t *testing.T) {
	r := newTestRegion(t)

	const goroutines = 64
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				r.RecordRequest(200, 1, 1)
			}
		}()
	}

	wg.Wait()

	require.EqualValues(t, goroutines*perGoroutine, r.Snapshot().TotalRequests)
}

func TestOutcomeFor(t *testing.T) {
	require.Equal(t, Outcome2xx, OutcomeFor(200))
	require.Equal(t, Outcome3xx, OutcomeFor(301))
	require.Equal(t, Outcome4xx, OutcomeFor(404))
	require.Equal(t, Outcome5xx, OutcomeFor(500))
}
