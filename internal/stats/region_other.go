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

//go:build !linux

package stats

import (
	"os"

	"golang.org/x/sys/unix"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

const (
	ErrorStatsCreate = liberr.MinPkgStats + iota
	ErrorStatsMap
)

func init() {
	liberr.RegisterIdFctMessage(ErrorStatsCreate, getMessage)
}

func getMessage(code liberr.CodeError) string {
	switch code {
	case ErrorStatsCreate:
		return "could not create shared statistics region"
	case ErrorStatsMap:
		return "could not map shared statistics region"
	}
	return liberr.NullMessage
}

// CreateRegionFile falls back to a temp-file-backed mapping on
// platforms without memfd_create. The file is unlinked immediately
// after creation: the fd stays valid and inherited across exec, but
// no path lingers on disk once every process holding the fd exits.
func CreateRegionFile() (*os.File, liberr.Error) {
	f, err := os.CreateTemp("", "concurrentd-stats-*")
	if err != nil {
		return nil, liberr.New(ErrorStatsCreate, "could not create backing temp file", err)
	}

	if err = f.Truncate(RegionSize); err != nil {
		_ = f.Close()
		return nil, liberr.New(ErrorStatsCreate, "ftruncate on shared region failed", err)
	}

	_ = os.Remove(f.Name())

	return f, nil
}

// MapRegion mmaps f MAP_SHARED and wraps the mapping in a Region.
func MapRegion(f *os.File) (*Region, liberr.Error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, RegionSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, liberr.New(ErrorStatsMap, "mmap on shared region failed", err)
	}

	return FromBytes(mem), nil
}
