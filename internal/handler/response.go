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
	"bufio"
	"fmt"
	"io"
	"time"
)

// serverToken is sent as the Server header on every response.
const serverToken = "ConcurrentHTTP/1.0"

// responseMeta carries everything writeResponse needs beyond the
// status line and body bytes themselves.
type responseMeta struct {
	status      int
	contentType string
	extraHeader string // pre-formatted "Name: value\r\n" lines, or ""
	keepAlive   bool
	headOnly    bool
}

// writeResponse writes one complete HTTP/1.1 response: status line,
// Date, Server, Content-Type, Content-Length, Connection, any extra
// headers, a blank line, then body (skipped entirely for HEAD
// requests, per spec). Content-Length always equals len(body), so a
// client can never see a length that does not match what was sent.
func writeResponse(w io.Writer, meta responseMeta, body []byte) error {
	bw := bufio.NewWriter(w)

	conn := "close"
	if meta.keepAlive {
		conn = "keep-alive"
	}

	fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", meta.status, reasonPhrase(meta.status))
	fmt.Fprintf(bw, "Date: %s\r\n", time.Now().UTC().Format(http1123GMT))
	fmt.Fprintf(bw, "Server: %s\r\n", serverToken)
	fmt.Fprintf(bw, "Content-Type: %s\r\n", meta.contentType)
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	if meta.extraHeader != "" {
		bw.WriteString(meta.extraHeader)
	}
	fmt.Fprintf(bw, "Connection: %s\r\n", conn)
	bw.WriteString("\r\n")

	if !meta.headOnly && len(body) > 0 {
		bw.Write(body)
	}

	return bw.Flush()
}

// http1123GMT matches time.RFC1123 but forces the "GMT" zone name the
// way every conforming HTTP/1.1 Date header does, rather than relying
// on the system's local abbreviation for UTC.
const http1123GMT = "Mon, 02 Jan 2006 15:04:05 GMT"
