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

// Tracks the listeners one owner (a connection or a scanner) has registered
// with the xport's dispatcher, so they can all be torn down together.  The
// receiver never delivers events itself; the dispatcher does.
type Receiver struct {
	id       uint32
	bx       *Xport
	logDepth int

	mtx   sync.Mutex
	owned map[*Listener]ListenerKey
}

func NewReceiver(id uint32, bx *Xport, logDepth int) *Receiver {
	return &Receiver{
		id:       id,
		bx:       bx,
		logDepth: logDepth + 3,
		owned:    map[*Listener]ListenerKey{},
	}
}

// Registers a listener for key.  Must be called before the request that
// produces the awaited event is sent.
func (r *Receiver) AddListener(name string, key ListenerKey) (
	*Listener, error) {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	bl, err := r.bx.Bd.AddListener(key)
	if err != nil {
		return nil, err
	}
	r.owned[bl] = key

	mixutil.LogAddListener(r.logDepth, key, r.id, name)
	return bl, nil
}

// Unregisters a listener.  Events for its key that arrive afterwards are
// dropped by the dispatcher.
func (r *Receiver) RemoveListener(name string, bl *Listener) *ListenerKey {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	key, ok := r.owned[bl]
	if !ok {
		return nil
	}
	delete(r.owned, bl)

	r.bx.Bd.RemoveListener(bl)

	mixutil.LogRemoveListener(r.logDepth, key, r.id, name)
	return &key
}

func (r *Receiver) RemoveAll(name string) {
	r.mtx.Lock()
	owned := r.owned
	r.owned = map[*Listener]ListenerKey{}
	r.mtx.Unlock()

	for bl, key := range owned {
		r.bx.Bd.RemoveListener(bl)
		mixutil.LogRemoveListener(r.logDepth, key, r.id, name)
	}
}

func (r *Receiver) NumListeners() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return len(r.owned)
}

// Reports an error to every listener without removing it; each owner sees
// the error on its next wait.
func (r *Receiver) ErrorAll(err error) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for bl := range r.owned {
		select {
		case bl.ErrChan <- err:
		default:
		}
	}
}
