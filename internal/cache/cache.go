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

// Package cache implements the per-worker in-memory file cache: a hash
// map keyed by absolute path plus a doubly linked list carrying
// least-recently-used order. A hit promotes the entry to the front of
// the list and returns an independent copy of its bytes; a miss never
// touches the list. Insertion evicts from the tail until the total
// cached size fits under the configured budget.
package cache

import (
	"sync"

	liberr "github.com/nabbar/concurrent-httpd/errors"
)

// MaxEntrySize is the per-file hard cap: a file whose size is not
// strictly smaller than this is never cached, regardless of the
// cache's remaining budget.
const MaxEntrySize = 1 * 1024 * 1024

const (
	ErrorCacheInvalidSize = liberr.MinPkgCache + iota
	ErrorCacheOversizedEntry
)

func init() {
	if liberr.ExistInMapMessage(ErrorCacheInvalidSize) {
		panic("duplicate error code registration for pkg cache")
	}
	liberr.RegisterIdFctMessage(ErrorCacheInvalidSize, getMessage)
}

func getMessage(code liberr.CodeError) (message string) {
	switch code {
	case ErrorCacheInvalidSize:
		return "cache size budget must be greater than zero"
	case ErrorCacheOversizedEntry:
		return "entry exceeds the per-file cache size cap"
	}
	return liberr.NullMessage
}

type node struct {
	key  string
	data []byte
	prev *node
	next *node
}

// Cache is a size-bounded, concurrency-safe LRU cache of whole file
// contents. One Cache is owned by a single worker process; it is never
// shared across processes (unlike the shared statistics region in
// package stats).
type Cache struct {
	mu capacity

	maxTotal int64
	curTotal int64

	byKey map[string]*node
	head  *node // most recently used
	tail  *node // least recently used
}

type capacity struct {
	sync.RWMutex
}

// New returns a Cache whose resident set never exceeds maxBytes. A
// maxBytes of zero disables caching: Get always misses and Put is a
// no-op, which lets callers wire a configured cache_size_mb of 0
// without a special case in the handler.
func New(maxBytes int64) (*Cache, liberr.Error) {
	if maxBytes < 0 {
		return nil, liberr.New(ErrorCacheInvalidSize, "cache max bytes must not be negative")
	}

	return &Cache{
		maxTotal: maxBytes,
		byKey:    make(map[string]*node),
	}, nil
}

// Get returns a copy of the cached bytes for key and promotes the
// entry to most-recently-used. The returned slice is owned by the
// caller; mutating it never corrupts the cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	if c == nil || c.maxTotal == 0 {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.byKey[key]
	if !ok {
		return nil, false
	}

	c.unlink(n)
	c.pushFront(n)

	out := make([]byte, len(n.data))
	copy(out, n.data)
	return out, true
}

// Put inserts or replaces the cached content for key. Files at or
// above MaxEntrySize are silently rejected: the spec treats oversized
// files as always-read-from-disk, never an error condition for the
// caller.
func (c *Cache) Put(key string, data []byte) {
	if c == nil || c.maxTotal == 0 {
		return
	}
	if int64(len(data)) >= MaxEntrySize {
		return
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.byKey[key]; ok {
		c.unlink(old)
		c.curTotal -= int64(len(old.data))
		delete(c.byKey, key)
	}

	n := &node{key: key, data: cp}
	c.byKey[key] = n
	c.pushFront(n)
	c.curTotal += int64(len(cp))

	for c.curTotal > c.maxTotal && c.tail != nil {
		victim := c.tail
		c.unlink(victim)
		delete(c.byKey, victim.key)
		c.curTotal -= int64(len(victim.data))
	}
}

// Invalidate drops key from the cache if present. Used when a
// handler discovers the file backing a cached path no longer exists.
func (c *Cache) Invalidate(key string) {
	if c == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.byKey[key]
	if !ok {
		return
	}
	c.unlink(n)
	delete(c.byKey, key)
	c.curTotal -= int64(len(n.data))
}

// Len returns the number of entries currently resident.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKey)
}

// Size returns the total number of bytes currently resident.
func (c *Cache) Size() int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.curTotal
}

// unlink and pushFront assume the caller already holds the write lock.

func (c *Cache) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if c.head == n {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if c.tail == n {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *Cache) pushFront(n *node) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}
