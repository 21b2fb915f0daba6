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
	"github.com/lywsd/mithermo/mixact/mixutil"
)

type State int

const (
	STATE_INIT State = iota
	STATE_SCAN
	STATE_CONNECT
	STATE_DISCOVER
	STATE_READ_MODEL
	STATE_READ_SERIAL
	STATE_READ_FW
	STATE_READ_HW
	STATE_READ_SW
	STATE_READ_BATTERY
	STATE_READ_EXTRAS
	STATE_SUBSCRIBE
	STATE_IDLE
	STATE_DONE
)

var StateStringMap = map[State]string{
	STATE_INIT:         "init",
	STATE_SCAN:         "scan",
	STATE_CONNECT:      "connect",
	STATE_DISCOVER:     "discover",
	STATE_READ_MODEL:   "read_model",
	STATE_READ_SERIAL:  "read_serial",
	STATE_READ_FW:      "read_fw",
	STATE_READ_HW:      "read_hw",
	STATE_READ_SW:      "read_sw",
	STATE_READ_BATTERY: "read_battery",
	STATE_READ_EXTRAS:  "read_extras",
	STATE_SUBSCRIBE:    "subscribe",
	STATE_IDLE:         "idle",
	STATE_DONE:         "done",
}

func (s State) String() string {
	str := StateStringMap[s]
	if str == "" {
		return "???"
	}
	return str
}

// The characteristic each read state fetches.
var readStateRoleMap = map[State]Role{
	STATE_READ_MODEL:   ROLE_MODEL,
	STATE_READ_SERIAL:  ROLE_SERIAL,
	STATE_READ_FW:      ROLE_FIRMWARE,
	STATE_READ_HW:      ROLE_HARDWARE,
	STATE_READ_SW:      ROLE_SOFTWARE,
	STATE_READ_BATTERY: ROLE_BATTERY,
}

func (s State) IsRead() bool {
	_, ok := readStateRoleMap[s]
	return ok || s == STATE_READ_EXTRAS
}

// Application-level notifications, delivered through SessionCfg.EventCb.
type AppEvent int

const (
	EVENT_INIT AppEvent = iota
	EVENT_SCAN
	EVENT_CONNECT
	EVENT_DISCONNECT
	EVENT_DATA
)

var AppEventStringMap = map[AppEvent]string{
	EVENT_INIT:       "init",
	EVENT_SCAN:       "scan",
	EVENT_CONNECT:    "connect",
	EVENT_DISCONNECT: "disconnect",
	EVENT_DATA:       "data",
}

func (e AppEvent) String() string {
	s := AppEventStringMap[e]
	if s == "" {
		return "???"
	}
	return s
}

type EventCb func(evt AppEvent, s *Session)
type StateCb func(from State, to State)

// What the session does after a failure in some state.
type failAction int

const (
	FAIL_RETRY failAction = iota
	FAIL_RESTART
)

// Maps a failure to the action the state machine takes.  Tries counts the
// attempts already made in the current state.
func failurePolicy(state State, err error, tries int, maxTries int) failAction {
	// Nothing can be retried over a dead link.
	if mixutil.IsConnClosed(err) {
		return FAIL_RESTART
	}

	switch {
	case state == STATE_SCAN || state == STATE_CONNECT:
		return FAIL_RESTART

	case state.IsRead() && mixutil.IsTimeout(err):
		return FAIL_RESTART

	case tries < maxTries:
		return FAIL_RETRY

	default:
		return FAIL_RESTART
	}
}
