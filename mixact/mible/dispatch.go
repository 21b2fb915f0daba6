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

	log "github.com/sirupsen/logrus"

	"github.com/lywsd/mithermo/mixact/host"
)

// Routes host events to the listener waiting for them.  Dispatch runs on the
// host's event context and never blocks.  An event with no listener is
// dropped.  A response to a request (seq-keyed) is never lost: it queues
// behind a full buffer.  Unsolicited events (tch-keyed) only matter while
// fresh, so a full buffer drops them.
type Dispatcher struct {
	lm      *ListenerMap
	dropped int
	mtx     sync.Mutex
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		lm: NewListenerMap(),
	}
}

func (d *Dispatcher) AddListener(key ListenerKey) (*Listener, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	bl := NewListener()
	if err := d.lm.AddListener(key, bl); err != nil {
		return nil, err
	}

	return bl, nil
}

func (d *Dispatcher) RemoveListener(bl *Listener) *ListenerKey {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	key := d.lm.RemoveListener(bl)
	if key != nil {
		bl.Close()
	}

	return key
}

func (d *Dispatcher) RemoveKey(key ListenerKey) *Listener {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	bl := d.lm.RemoveKey(key)
	if bl != nil {
		bl.Close()
	}

	return bl
}

func (d *Dispatcher) Dispatch(msg host.Msg) {
	b := msg.Base()

	d.mtx.Lock()
	defer d.mtx.Unlock()

	key, bl := d.lm.FindListener(b.Seq, b.Type, b.ConnHandle)
	if bl == nil {
		d.dropped++
		log.Debugf("No BLE listener for %s", b.Describe())
		return
	}

	if !bl.deliver(msg, key.Seq != host.BLE_SEQ_NONE) {
		d.dropped++
		log.Warnf("BLE listener full; dropping %s", b.Describe())
	}
}

// Fails every registered listener with the specified error and forgets them.
func (d *Dispatcher) ErrorAll(err error) {
	d.mtx.Lock()
	listeners := d.lm.ExtractAll()
	d.mtx.Unlock()

	for _, bl := range listeners {
		select {
		case bl.ErrChan <- err:
		default:
		}
		bl.Close()
	}
}

// Number of events that reached no listener or were refused by a full one.
func (d *Dispatcher) Dropped() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.dropped
}

func (d *Dispatcher) NumListeners() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()

	return d.lm.Len()
}
