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

// Package ipc carries accepted connections from the master process to
// a worker process by passing the underlying file descriptor over a
// UNIX domain socketpair, using SCM_RIGHTS ancillary data. This is
// the Go-side counterpart of the original server's send_fd/recv_fd
// pair: the master never hands a worker a serialized copy of the
// connection, it hands over the actual kernel file descriptor, so the
// worker's accept of the fd is indistinguishable from having accepted
// it itself.
package ipc

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorIPCSocketpair = liberr.MinPkgIPC + iota
	ErrorIPCSend
	ErrorIPCReceive
	ErrorIPCConvert
)

func init() {
	liberr.RegisterIdFctMessage(ErrorIPCSocketpair, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorIPCSocketpair:
		return "could not create IPC socketpair"
	case ErrorIPCSend:
		return "could not send file descriptor over IPC channel"
	case ErrorIPCReceive:
		return "could not receive file descriptor over IPC channel"
	case ErrorIPCConvert:
		return "could not convert received file descriptor to a connection"
	}
	return liberr.NullMessage
}

// dummyPayload is the one byte of regular data every SCM_RIGHTS
// message must carry alongside its ancillary data; recvmsg on an
// empty iovec is unreliable on some platforms, so every message
// carries this single byte as a marker instead of real payload.
var dummyPayload = []byte{0}

// Channel is one end of a socketpair used to pass connection file
// descriptors between a master and a single worker.
type Channel struct {
	conn *net.UnixConn
	file *os.File
}

// NewPair creates a connected socketpair and wraps both ends as
// Channels. The master keeps one end and passes the other to
// exec.Cmd.ExtraFiles when spawning the worker; the worker recovers
// its end from the inherited file descriptor via FromFile.
func NewPair() (master *Channel, workerEnd *os.File, err liberr.Error) {
	fds, e := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if e != nil {
		return nil, nil, liberr.New(ErrorIPCSocketpair, "socketpair(2) failed", e)
	}

	masterFile := os.NewFile(uintptr(fds[0]), "concurrentd-ipc-master")
	workerFile := os.NewFile(uintptr(fds[1]), "concurrentd-ipc-worker")

	fc, e := net.FileConn(masterFile)
	_ = masterFile.Close()
	if e != nil {
		_ = workerFile.Close()
		return nil, nil, liberr.New(ErrorIPCConvert, "could not wrap master end as net.Conn", e)
	}

	uc, ok := fc.(*net.UnixConn)
	if !ok {
		_ = fc.Close()
		_ = workerFile.Close()
		return nil, nil, liberr.New(ErrorIPCConvert, "master end is not a unix connection")
	}

	return &Channel{conn: uc}, workerFile, nil
}

// FromFile wraps an inherited socketpair-end file descriptor (index
// ipcFD in the worker's ExtraFiles) as a Channel, for use on the
// worker side after a self-exec spawn.
func FromFile(f *os.File) (*Channel, liberr.Error) {
	fc, err := net.FileConn(f)
	if err != nil {
		return nil, liberr.New(ErrorIPCConvert, "could not wrap inherited fd as net.Conn", err)
	}

	uc, ok := fc.(*net.UnixConn)
	if !ok {
		_ = fc.Close()
		return nil, liberr.New(ErrorIPCConvert, "inherited fd is not a unix connection")
	}

	return &Channel{conn: uc, file: f}, nil
}

// Send transfers conn's underlying file descriptor across the
// channel. conn is closed in the master's process either way: once
// sent, the worker owns the fd and the master must not keep serving
// it.
func (c *Channel) Send(conn net.Conn) liberr.Error {
	defer conn.Close()

	sc, ok := conn.(syscallConn)
	if !ok {
		return liberr.New(ErrorIPCSend, "connection does not expose a raw file descriptor")
	}

	f, err := sc.File()
	if err != nil {
		return liberr.New(ErrorIPCSend, "could not duplicate connection file descriptor", err)
	}
	defer f.Close()

	rights := unix.UnixRights(int(f.Fd()))
	_, _, err = c.conn.WriteMsgUnix(dummyPayload, rights, nil)
	if err != nil {
		return liberr.New(ErrorIPCSend, "sendmsg with SCM_RIGHTS failed", err)
	}

	return nil
}

// syscallConn is the subset of net.Conn implementations (TCPConn,
// UnixConn) that can hand back a dup'd *os.File.
type syscallConn interface {
	File() (*os.File, error)
}

// Receive blocks until the peer sends a file descriptor, then returns
// it wrapped as a net.Conn. It returns (nil, nil) on a clean peer
// close - the signal the worker's dispatch loop uses to know the
// master has shut the channel down.
func (c *Channel) Receive() (net.Conn, liberr.Error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, liberr.New(ErrorIPCReceive, "recvmsg failed", err)
	}
	if n == 0 && oobn == 0 {
		return nil, nil
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, liberr.New(ErrorIPCReceive, "could not parse control message", err)
	}
	if len(cmsgs) == 0 {
		return nil, liberr.New(ErrorIPCReceive, "no control message in received datagram")
	}

	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil || len(fds) == 0 {
		return nil, liberr.New(ErrorIPCReceive, "could not parse SCM_RIGHTS payload", err)
	}

	f := os.NewFile(uintptr(fds[0]), "concurrentd-accepted")
	defer f.Close()

	conn, err := net.FileConn(f)
	if err != nil {
		return nil, liberr.New(ErrorIPCConvert, "could not wrap received fd as net.Conn", err)
	}

	return conn, nil
}

// Close closes this end of the channel.
func (c *Channel) Close() error {
	return c.conn.Close()
}
