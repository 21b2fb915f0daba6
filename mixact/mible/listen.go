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
	"fmt"
	"sync"
	"time"

	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

// Depth of a listener's message buffer.  A stream listener queues what does
// not fit; other listeners drop it.
const listenerDepth = 32

type ListenerKey struct {
	// seq-key only.
	Seq host.BleSeq

	// tch-key only (type-conn-handle).
	Type       host.MsgType
	ConnHandle int
}

// Listener that matches by sequence number.
func SeqKey(seq host.BleSeq) ListenerKey {
	return ListenerKey{
		Seq:        seq,
		Type:       -1,
		ConnHandle: -1,
	}
}

// Listener that matches by TCH (type and conn-handle).  A conn handle of -1
// matches every connection.
func TchKey(typ host.MsgType, connHandle int) ListenerKey {
	return ListenerKey{
		Seq:        host.BLE_SEQ_NONE,
		Type:       typ,
		ConnHandle: connHandle,
	}
}

func (k ListenerKey) String() string {
	if k.Seq != host.BLE_SEQ_NONE {
		return fmt.Sprintf("seq=%d", k.Seq)
	}
	return fmt.Sprintf("type=%s conn_handle=%d",
		host.MsgTypeToString(k.Type), k.ConnHandle)
}

// One pending request (or one stream of unsolicited events).  The dispatcher
// never blocks when writing to a listener.
type Listener struct {
	MsgChan chan host.Msg
	ErrChan chan error
	TmoChan chan time.Time

	mtx   sync.Mutex
	acked bool
	timer *time.Timer

	// Events that did not fit in MsgChan, oldest first.
	backlog   []host.Msg
	closeChan chan struct{}
}

func NewListener() *Listener {
	return &Listener{
		MsgChan:   make(chan host.Msg, listenerDepth),
		ErrChan:   make(chan error, 1),
		TmoChan:   make(chan time.Time, 1),
		closeChan: make(chan struct{}),
	}
}

// Hands an event to the listener without blocking.  With queue set, an event
// that does not fit is kept and delivered in order once the reader catches
// up.  Otherwise it is refused and false is returned.
func (bl *Listener) deliver(msg host.Msg, queue bool) bool {
	bl.mtx.Lock()
	defer bl.mtx.Unlock()

	if bl.acked {
		return false
	}

	if len(bl.backlog) == 0 {
		select {
		case bl.MsgChan <- msg:
			return true
		default:
		}
	}

	if !queue {
		return false
	}

	bl.backlog = append(bl.backlog, msg)
	if len(bl.backlog) == 1 {
		go bl.drain()
	}
	return true
}

func (bl *Listener) drain() {
	for {
		bl.mtx.Lock()
		msg := bl.backlog[0]
		bl.mtx.Unlock()

		select {
		case bl.MsgChan <- msg:
		case <-bl.closeChan:
			return
		}

		bl.mtx.Lock()
		bl.backlog[0] = nil
		bl.backlog = bl.backlog[1:]
		empty := len(bl.backlog) == 0
		bl.mtx.Unlock()

		if empty {
			return
		}
	}
}

// Number of events waiting behind a full MsgChan.
func (bl *Listener) Backlog() int {
	bl.mtx.Lock()
	defer bl.mtx.Unlock()

	return len(bl.backlog)
}

// Arms the listener's timer.  Calling this again restarts the timer, so a
// select loop should call it once, before the loop.
func (bl *Listener) AfterTimeout(tmo time.Duration) <-chan time.Time {
	bl.mtx.Lock()
	defer bl.mtx.Unlock()

	if bl.timer != nil {
		bl.timer.Stop()
	}

	fn := func() {
		bl.mtx.Lock()
		defer bl.mtx.Unlock()

		if !bl.acked {
			select {
			case bl.TmoChan <- time.Now():
			default:
			}
		}
	}
	bl.timer = time.AfterFunc(tmo, fn)
	return bl.TmoChan
}

// Blocks until a message, an error or the timeout.  ok is false on timeout.
func (bl *Listener) Await(tmo time.Duration) (host.Msg, bool, error) {
	tmoChan := bl.AfterTimeout(tmo)

	select {
	case err := <-bl.ErrChan:
		return nil, true, err
	case msg := <-bl.MsgChan:
		return msg, true, nil
	case <-tmoChan:
		return nil, false, nil
	}
}

// Stops the timer.  The channels are left open; the dispatcher has already
// forgotten this listener and events still buffered are garbage collected
// with it.
func (bl *Listener) Close() {
	bl.mtx.Lock()
	defer bl.mtx.Unlock()

	if bl.timer != nil {
		bl.timer.Stop()
	}
	if !bl.acked {
		bl.acked = true
		close(bl.closeChan)
	}
}

// Not thread safe.
type ListenerMap struct {
	k2l map[ListenerKey]*Listener
	l2k map[*Listener]ListenerKey
}

func NewListenerMap() *ListenerMap {
	return &ListenerMap{
		k2l: map[ListenerKey]*Listener{},
		l2k: map[*Listener]ListenerKey{},
	}
}

func (lm *ListenerMap) FindListener(seq host.BleSeq, typ host.MsgType,
	connHandle int) (ListenerKey, *Listener) {

	var key ListenerKey

	// First, find by sequence number.
	if seq != host.BLE_SEQ_NONE {
		key = SeqKey(seq)
		if listener := lm.k2l[key]; listener != nil {
			return key, listener
		}
	}

	// Otherwise, find by other fields.
	key = TchKey(typ, connHandle)
	if listener := lm.k2l[key]; listener != nil {
		return key, listener
	}
	key = TchKey(typ, -1)
	if listener := lm.k2l[key]; listener != nil {
		return key, listener
	}

	return key, nil
}

func (lm *ListenerMap) AddListener(key ListenerKey, listener *Listener) error {
	if _, ok := lm.k2l[key]; ok {
		return mixutil.NewAlreadyError(
			fmt.Sprintf("duplicate BLE listener: %s", key.String()))
	}

	if _, ok := lm.l2k[listener]; ok {
		return mixutil.NewAlreadyError(
			fmt.Sprintf("duplicate BLE listener: %s", key.String()))
	}

	lm.k2l[key] = listener
	lm.l2k[listener] = key

	return nil
}

func (lm *ListenerMap) deleteListener(key ListenerKey, listener *Listener) {
	mixutil.Assert(lm.k2l[key] == listener)
	mixutil.Assert(lm.l2k[listener] == key)
	delete(lm.k2l, key)
	delete(lm.l2k, listener)
}

func (lm *ListenerMap) RemoveListener(listener *Listener) *ListenerKey {
	key, ok := lm.l2k[listener]
	if !ok {
		return nil
	}

	lm.deleteListener(key, listener)
	return &key
}

func (lm *ListenerMap) RemoveKey(key ListenerKey) *Listener {
	listener := lm.k2l[key]
	if listener == nil {
		return nil
	}

	lm.deleteListener(key, listener)
	return listener
}

func (lm *ListenerMap) ExtractAll() []*Listener {
	listeners := make([]*Listener, 0, len(lm.l2k))

	for listener := range lm.l2k {
		listeners = append(listeners, listener)
	}

	lm.k2l = map[ListenerKey]*Listener{}
	lm.l2k = map[*Listener]ListenerKey{}

	return listeners
}

func (lm *ListenerMap) Len() int {
	return len(lm.k2l)
}
