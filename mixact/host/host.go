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

package host

import (
	"sync"
)

// Invoked by a host for every event it produces.  A host calls its handler
// from one serialized context; the handler must never block.
type EventHandler func(msg Msg)

// The boundary with a BLE host stack.
//
// Every request passed to Tx yields exactly one terminal event carrying the
// request's sequence number (streams of discovery results are terminated by
// an event with status ERR_CODE_EDONE).  Notifications and disconnects are
// unsolicited and carry BLE_SEQ_NONE.  A non-nil error from Tx means the stack
// rejected the request and no event will follow.
type Host interface {
	Start(handler EventHandler) error
	Stop() error
	Tx(req Msg) error
}

var nextSeq BleSeq
var seqMtx sync.Mutex

// Sequence numbers >= BLE_SEQ_EVT_MIN are reserved for unsolicited events.
func NextSeq() BleSeq {
	seqMtx.Lock()
	defer seqMtx.Unlock()

	seq := nextSeq
	nextSeq++
	if nextSeq >= BLE_SEQ_EVT_MIN {
		nextSeq = BLE_SEQ_MIN
	}

	return seq
}
