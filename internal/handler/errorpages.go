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
	"os"
	"path/filepath"
)

// statusText is the small subset of reason phrases this server ever
// emits - it never proxies an upstream's status line, so there is no
// need for the full IANA registry net/http carries.
var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	400: "Bad Request",
	403: "Forbidden",
	408: "Request Timeout",
	404: "Not Found",
	405: "Method Not Allowed",
	416: "Range Not Satisfiable",
	500: "Internal Server Error",
	503: "Service Unavailable",
}

// reasonPhrase returns the reason phrase for code, or "Error" for any
// status this server does not otherwise name.
func reasonPhrase(code int) string {
	if t, ok := statusText[code]; ok {
		return t
	}
	return "Error"
}

// fallbackErrorBody is used when <document_root>/errors/<code>.html is
// missing, so an error response is never empty-bodied for want of a
// custom page on disk.
func fallbackErrorBody(code int) []byte {
	return []byte(fmt.Sprintf(
		"<html><head><title>%d %s</title></head><body><h1>%d %s</h1></body></html>",
		code, reasonPhrase(code), code, reasonPhrase(code),
	))
}

// errorBody returns the bytes to send for an error response: the
// custom page at docRoot/errors/<code>.html if present, the embedded
// fallback otherwise.
func errorBody(docRoot string, code int) []byte {
	p := filepath.Join(docRoot, "errors", fmt.Sprintf("%d.html", code))
	data, err := os.ReadFile(p)
	if err != nil {
		return fallbackErrorBody(code)
	}
	return data
}
