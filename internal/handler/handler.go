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

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nabbar/concurrent-httpd/config"
	"github.com/nabbar/concurrent-httpd/internal/accesslog"
	"github.com/nabbar/concurrent-httpd/internal/cache"
	"github.com/nabbar/concurrent-httpd/internal/corelog"
	"github.com/nabbar/concurrent-httpd/internal/stats"
)

// readBufferSize is how much of a request this server ever reads in
// one shot. Requests with headers larger than this are rejected with
// 400 rather than accumulated across multiple reads: static GET/HEAD
// traffic never needs more.
const readBufferSize = 2048

// Handler runs the full per-connection request pipeline described by
// the 12-step sequence: read, parse, method gate, path safety, the
// /stats endpoint, virtual-host resolution, directory default, stat,
// range handling, cache-aware body sourcing, response writing, and
// accounting. One Handler is shared by every goroutine in a worker's
// thread pool; all of its fields are safe for concurrent use.
type Handler struct {
	cfg   config.ServerConfig
	cache *cache.Cache
	stats *stats.Region
	log   *accesslog.Sink
	cl    *corelog.Logger
}

// New builds a Handler bound to one worker's cache, shared statistics
// region, access log sink and diagnostic logger.
func New(cfg config.ServerConfig, c *cache.Cache, st *stats.Region, log *accesslog.Sink, cl *corelog.Logger) *Handler {
	return &Handler{cfg: cfg, cache: c, stats: st, log: log, cl: cl}
}

// Handle drives one accepted connection to completion: it serves
// requests in a loop until the client asks to close, a read times
// out, or a framing error makes the stream unrecoverable, then closes
// conn itself. Handle is what a pool.Handler function wraps.
func (h *Handler) Handle(conn net.Conn) {
	defer conn.Close()

	h.stats.ConnectionOpened()
	defer h.stats.ConnectionClosed()

	clientIP := remoteIP(conn)

	first := true
	for {
		timeout := h.cfg.KeepAliveTimeout
		if first {
			timeout = h.cfg.ReadTimeout
		}
		_ = conn.SetReadDeadline(time.Now().Add(timeout))

		buf := make([]byte, readBufferSize)
		n, err := conn.Read(buf)
		if n == 0 || err != nil {
			// A timeout waiting for the *first* request on this
			// connection gets a 408: the client opened a connection and
			// never sent anything usable. A timeout waiting for the
			// *next* request on an otherwise idle keep-alive connection
			// (scenario 6) is a clean close - the client simply chose
			// not to send another request, which is not an error.
			if first && isTimeout(err) {
				h.respondError(conn, clientIP, "-", "-", 408, false, time.Now())
			}
			return
		}
		first = false

		if !h.serveOne(conn, buf[:n], clientIP) {
			return
		}
	}
}

// isTimeout reports whether err is a net.Error signaling a read
// deadline expiry, as opposed to a client-initiated close (EOF) or
// some other connection error.
func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// serveOne runs the parse-through-respond pipeline for a single
// request already read into raw, and reports whether the connection
// should stay open for another request.
func (h *Handler) serveOne(conn net.Conn, raw []byte, clientIP string) bool {
	start := time.Now()

	req, ok := parseRequest(raw)
	if !ok {
		h.respondError(conn, clientIP, "-", "-", 400, false, start)
		return false
	}

	if req.method != "GET" && req.method != "HEAD" {
		h.respondError(conn, clientIP, req.method, req.path, 405, !req.wantsClose, start)
		return !req.wantsClose
	}

	if req.hasTraversal() {
		h.respondError(conn, clientIP, req.method, req.path, 403, !req.wantsClose, start)
		return !req.wantsClose
	}

	if req.path == "/stats" {
		body := h.statsJSON()
		h.respond(conn, req, clientIP, "application/json", body, !req.wantsClose, start)
		return !req.wantsClose
	}

	root, verr := h.virtualHostRoot(req.host)
	if verr != nil {
		h.respondError(conn, clientIP, req.method, req.path, 404, !req.wantsClose, start)
		return !req.wantsClose
	}

	fsPath := filepath.Join(root, filepath.FromSlash(req.normalizedPath()))

	info, serr := os.Stat(fsPath)
	if serr == nil && info.IsDir() {
		fsPath = filepath.Join(fsPath, "index.html")
		info, serr = os.Stat(fsPath)
	}
	if serr != nil || info.IsDir() {
		h.respondError(conn, clientIP, req.method, req.path, 404, !req.wantsClose, start)
		return !req.wantsClose
	}

	h.serveFile(conn, req, fsPath, info.Size(), clientIP, start)
	return !req.wantsClose
}

// virtualHostRoot resolves the Host header to document_root/<host>,
// falling back to document_root itself when the header is absent or
// no per-host directory exists - a single-site deployment never has
// to create a matching subdirectory.
func (h *Handler) virtualHostRoot(host string) (string, error) {
	if host == "" {
		return h.cfg.DocumentRoot, nil
	}

	candidate := filepath.Join(h.cfg.DocumentRoot, host)
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		return candidate, nil
	}

	return h.cfg.DocumentRoot, nil
}

// remoteIP extracts the dotted-quad/host part of a net.Conn's remote
// address, used only for the access log's client identity field.
func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if idx := strings.LastIndexByte(addr, ':'); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

// respondError writes a status-coded error response using the
// document root's custom error page (or the embedded fallback) and
// records the usual accounting.
func (h *Handler) respondError(conn net.Conn, clientIP, method, path string, status int, keepAlive bool, start time.Time) {
	root := h.cfg.DocumentRoot
	body := errorBody(root, status)

	meta := responseMeta{status: status, contentType: "text/html", keepAlive: keepAlive}
	_ = writeResponse(conn, meta, body)

	h.account(clientIP, method, path, status, int64(len(body)), start)
}

// respond writes a 200-class response whose body is already in memory
// (currently only the /stats JSON payload; file bodies go through
// serveFile instead so they can stream for large files).
func (h *Handler) respond(conn net.Conn, req request, clientIP, contentType string, body []byte, keepAlive bool, start time.Time) {
	meta := responseMeta{status: 200, contentType: contentType, keepAlive: keepAlive, headOnly: req.isHead()}
	_ = writeResponse(conn, meta, body)

	h.account(clientIP, req.method, req.path, 200, int64(len(body)), start)
}

// account folds one completed request into the shared stats region
// and the access log, in that order - matching the lock-ordering rule
// that the stats region and the log semaphore are never held at once.
func (h *Handler) account(clientIP, method, path string, status int, bytesSent int64, start time.Time) {
	elapsed := time.Since(start)

	h.stats.RecordRequest(status, bytesSent, elapsed.Milliseconds())
	h.log.Log(clientIP, method, path, status, bytesSent, time.Now())
}

// buildRangeHeader formats the Content-Range header value for a
// satisfiable byte range.
func buildRangeHeader(start, end, total int64) string {
	return fmt.Sprintf("Content-Range: bytes %d-%d/%d\r\n", start, end, total)
}
