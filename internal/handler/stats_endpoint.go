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

package handler

import "encoding/json"

// statsPayload is the wire shape of the /stats endpoint: the shared
// region's Snapshot, renamed to the stable JSON field names callers
// depend on rather than the internal struct's Go field names.
type statsPayload struct {
	ActiveConnections int64   `json:"active_connections"`
	TotalRequests     int64   `json:"total_requests"`
	BytesTransferred  int64   `json:"bytes_transferred"`
	Status200         int64   `json:"status_200"`
	Status404         int64   `json:"status_404"`
	Status500         int64   `json:"status_500"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
}

// statsJSON renders the region's current snapshot as a compact JSON
// document for the /stats endpoint.
func (h *Handler) statsJSON() []byte {
	snap := h.stats.Snapshot()

	payload := statsPayload{
		ActiveConnections: snap.ActiveConnections,
		TotalRequests:     snap.TotalRequests,
		BytesTransferred:  snap.BytesTransferred,
		Status200:         snap.Status200,
		Status404:         snap.Status404,
		Status500:         snap.Status500,
		AvgResponseTimeMs: snap.AvgResponseTimeMs,
	}

	out, err := json.Marshal(payload)
	if err != nil {
		// Marshaling a flat struct of numbers cannot fail; fall back
		// to an empty object rather than propagate an impossible error.
		return []byte("{}")
	}
	return out
}
