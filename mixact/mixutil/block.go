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

package mixutil

import (
	"sync"
	"time"
)

// A gate that holds waiters until it is released.  Once released it stays
// open, handing every waiter the release value, until Start closes it again.
// The zero value is open.
type Blocker struct {
	mtx  sync.Mutex
	gate chan struct{}
	val  interface{}
}

// Closes the gate.  No effect if it is already closed.
func (b *Blocker) Start() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.gate == nil {
		b.gate = make(chan struct{})
	}
}

func (b *Blocker) Started() bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.gate != nil
}

// Opens the gate and releases all current and future waiters with val.
func (b *Blocker) Unblock(val interface{}) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.gate == nil {
		return
	}

	b.val = val
	close(b.gate)
	b.gate = nil
}

func (b *Blocker) state() (<-chan struct{}, interface{}) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.gate, b.val
}

// Waits for the gate to open, the timeout to expire or stopChan to close.
func (b *Blocker) Wait(timeout time.Duration, stopChan <-chan struct{}) (
	interface{}, error) {

	gate, val := b.state()
	if gate == nil {
		return val, nil
	}

	timer := time.NewTimer(timeout)
	defer StopAndDrainTimer(timer)

	select {
	case <-gate:
		_, val = b.state()
		return val, nil

	case <-stopChan:
		return nil, NewConnClosedError(0, "aborted")

	case <-timer.C:
		return nil, FmtTimeoutError("wait", "timeout after %s",
			timeout.String())
	}
}
