/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package mible

import (
	"sync"

	"github.com/lywsd/mithermo/mixact/mixutil"
)

// Number of read buffers that may be outstanding at once by default.
const DefaultPoolSize = 8

// A bounded set of read buffers.  Get fails once max buffers are
// outstanding; each buffer returns to the pool when released.
type BufPool struct {
	max         int
	outstanding int
	free        [][]byte
	mtx         sync.Mutex
}

func NewBufPool(max int) *BufPool {
	return &BufPool{
		max: max,
	}
}

var DefaultBufPool = NewBufPool(DefaultPoolSize)

// Copies the payload into a pooled buffer followed by a terminating zero.
// Returns nil if the pool is exhausted.
func (p *BufPool) Get(payload []byte) *ReadBuf {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.outstanding >= p.max {
		return nil
	}
	p.outstanding++

	var buf []byte
	if n := len(p.free); n > 0 {
		buf = p.free[n-1][:0]
		p.free = p.free[:n-1]
	}
	buf = append(buf, payload...)
	buf = append(buf, 0)

	return &ReadBuf{
		pool: p,
		buf:  buf,
	}
}

func (p *BufPool) put(buf []byte) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.outstanding--
	mixutil.Assert(p.outstanding >= 0)

	if len(p.free) < p.max {
		p.free = append(p.free, buf)
	}
}

// Number of buffers handed out and not yet released.
func (p *BufPool) Outstanding() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.outstanding
}

// The value of one characteristic read.  The buffer holds the payload plus a
// trailing zero so text values can be used as C-style strings by a display
// collaborator.
type ReadBuf struct {
	pool     *BufPool
	buf      []byte
	released bool
	mtx      sync.Mutex
}

// Payload length, without the trailing zero.
func (b *ReadBuf) Len() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.released {
		return 0
	}
	return len(b.buf) - 1
}

// The payload without the trailing zero.  Not valid after Release.
func (b *ReadBuf) Bytes() []byte {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.released {
		return nil
	}
	return b.buf[:len(b.buf)-1]
}

// The full buffer including the trailing zero.  Not valid after Release.
func (b *ReadBuf) Raw() []byte {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.released {
		return nil
	}
	return b.buf
}

func (b *ReadBuf) String() string {
	return string(b.Bytes())
}

// Returns the buffer to its pool.  Releasing twice is an error.
func (b *ReadBuf) Release() error {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.released {
		return mixutil.NewAlreadyError("read buffer released twice")
	}
	b.released = true

	buf := b.buf
	b.buf = nil
	b.pool.put(buf)

	return nil
}
