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
	"time"

	"github.com/nabbar/concurrent-httpd/internal/corelog"
)

// Monitor periodically logs a snapshot of the shared region and keeps
// the prometheus registry's gauge in sync, until stop is closed. Run
// it from the master only - one dashboard for the whole server, not
// one per worker.
func Monitor(region *Region, reg *Registry, interval time.Duration, log *corelog.Logger, stop <-chan struct{}) {
	if interval <= 0 {
		interval = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := region.Snapshot()

			if reg != nil {
				reg.SetActiveConnections(snap.ActiveConnections)
			}

			log.WithField("active_connections", snap.ActiveConnections).
				WithField("total_requests", snap.TotalRequests).
				WithField("bytes_transferred", snap.BytesTransferred).
				WithField("avg_response_time_ms", snap.AvgResponseTimeMs).
				WithField("status_200", snap.Status200).
				WithField("status_404", snap.Status404).
				WithField("status_500", snap.Status500).
				Info("server statistics")
		}
	}
}
