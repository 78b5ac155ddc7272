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

// Package handler implements the per-connection request pipeline: raw
// buffer read, hand-rolled HTTP/1.1 request-line parsing, method and
// path-safety gates, the /stats endpoint, virtual-host resolution,
// range requests, cache-aware body sourcing, and response writing.
// This intentionally bypasses net/http.Server - the pipeline below is
// what net/http hides behind its own accept/parse loop, rebuilt by
// hand because the per-worker thread pool dequeues raw connections,
// not already-parsed requests.
package handler

import (
	"bytes"
	"strconv"
	"strings"
)

// request is the parsed shape of one HTTP/1.1 request line plus the
// two headers the pipeline honors.
type request struct {
	method  string
	path    string
	version string

	host         string
	hasRange     bool
	rangeStart   int64
	rangeEnd     int64 // -1 if the client did not specify an end
	wantsClose   bool
}

// parseRequest splits buf's first CRLF-delimited line into method,
// path and version, then scans the remaining headers for Host and
// Range. It returns ok=false for anything that isn't "METHOD PATH
// VERSION" on the first line, mirroring parse_http_request's sscanf
// of exactly three tokens.
func parseRequest(buf []byte) (req request, ok bool) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return request{}, false
	}

	fields := strings.Fields(string(buf[:idx]))
	if len(fields) != 3 {
		return request{}, false
	}

	req.method = fields[0]
	req.path = fields[1]
	req.version = fields[2]
	req.rangeEnd = -1

	rest := string(buf[idx+2:])
	if h := extractHeader(rest, "Host:"); h != "" {
		if c := strings.IndexByte(h, ':'); c >= 0 {
			h = h[:c]
		}
		req.host = h
	}

	if r := extractHeader(rest, "Range:"); r != "" {
		parseRangeHeader(r, &req)
	}

	if c := extractHeader(rest, "Connection:"); strings.EqualFold(c, "close") {
		req.wantsClose = true
	}

	return req, true
}

// extractHeader returns the trimmed value of the first header in raw
// whose name matches prefix (case-sensitive, matching the original
// server's plain strstr scan), or "" if absent.
func extractHeader(raw, prefix string) string {
	idx := strings.Index(raw, prefix)
	if idx < 0 {
		return ""
	}

	rest := raw[idx+len(prefix):]
	end := strings.IndexAny(rest, "\r\n")
	if end < 0 {
		end = len(rest)
	}

	return strings.TrimSpace(rest[:end])
}

// parseRangeHeader parses the single-range form "bytes=S-E" or
// "bytes=S-" into req.rangeStart/rangeEnd. Malformed values leave
// hasRange false, so the caller falls back to a normal 200 response.
func parseRangeHeader(value string, req *request) {
	const prefix = "bytes="
	if !strings.HasPrefix(value, prefix) {
		return
	}

	spec := value[len(prefix):]
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return
	}

	startStr, endStr := spec[:dash], spec[dash+1:]

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return
	}

	req.hasRange = true
	req.rangeStart = start
	req.rangeEnd = -1

	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err == nil && end >= start {
			req.rangeEnd = end
		}
	}
}

// isHead reports whether the request's method is HEAD.
func (r request) isHead() bool { return r.method == "HEAD" }

// normalizedPath returns "/index.html" for "/", matching the source's
// root-to-index rewrite.
func (r request) normalizedPath() string {
	if r.path == "/" {
		return "/index.html"
	}
	return r.path
}

// hasTraversal reports whether the raw request path contains a ".."
// segment - the sole path-safety gate the pipeline applies, checked
// before any filesystem path is ever built from it.
func (r request) hasTraversal() bool {
	return strings.Contains(r.path, "..")
}
