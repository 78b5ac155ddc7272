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

package master

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorListenSocket = liberr.MinPkgMaster + 10 + iota
	ErrorListenBind
	ErrorListenListen
)

func init() {
	liberr.RegisterIdFctMessage(ErrorListenSocket, getListenMessage)
}

func getListenMessage(code liberr.CodeError) string {
	switch code {
	case ErrorListenSocket:
		return "could not create listening socket"
	case ErrorListenBind:
		return "could not bind listening socket"
	case ErrorListenListen:
		return "could not mark socket as listening"
	}
	return liberr.NullMessage
}

// listenBacklog is the pending-connection queue depth passed to
// listen(2), matching the original server's fixed backlog.
const listenBacklog = 128

// newListener builds the master's accept socket by hand instead of
// through net.Listen: net.Listen has no portable way to ask for a
// specific listen(2) backlog, and the original server's choice of 128
// is one of the few tunables this port keeps byte-for-byte. Binds to
// all interfaces (INADDR_ANY) with SO_REUSEADDR set, exactly as
// create_server_socket does.
func newListener(port int) (net.Listener, liberr.Error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, liberr.New(ErrorListenSocket, "socket(2) failed", err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, liberr.New(ErrorListenSocket, "setsockopt(SO_REUSEADDR) failed", err)
	}

	addr := unix.SockaddrInet4{Port: port}
	if err = unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, liberr.New(ErrorListenBind, "bind(2) failed", err)
	}

	if err = unix.Listen(fd, listenBacklog); err != nil {
		_ = unix.Close(fd)
		return nil, liberr.New(ErrorListenListen, "listen(2) failed", err)
	}

	f := os.NewFile(uintptr(fd), "concurrentd-listen")
	defer f.Close()

	ln, lerr := net.FileListener(f)
	if lerr != nil {
		return nil, liberr.New(ErrorListenListen, "net.FileListener failed", lerr)
	}

	return ln, nil
}
