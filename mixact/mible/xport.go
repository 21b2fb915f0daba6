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
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

type XportState uint32

const (
	XPORT_STATE_STOPPED XportState = iota
	XPORT_STATE_STARTING
	XPORT_STATE_STARTED
)

// Bridges a host stack to the orchestration code.  The xport owns the
// dispatcher; the host delivers every event to it.
type Xport struct {
	Bd    *Dispatcher
	host  host.Host
	state XportState

	readyTimeout time.Duration
}

func NewXport(h host.Host, readyTimeout time.Duration) *Xport {
	return &Xport{
		Bd:           NewDispatcher(),
		host:         h,
		readyTimeout: readyTimeout,
	}
}

func (bx *Xport) setStateFrom(from XportState, to XportState) bool {
	return atomic.CompareAndSwapUint32(
		(*uint32)(&bx.state), uint32(from), uint32(to))
}

func (bx *Xport) getState() XportState {
	u32 := atomic.LoadUint32((*uint32)(&bx.state))
	return XportState(u32)
}

// Starts the host and blocks until it reports ready.
func (bx *Xport) Start() error {
	if !bx.setStateFrom(XPORT_STATE_STOPPED, XPORT_STATE_STARTING) {
		return mixutil.NewXportError("BLE xport started twice")
	}

	key := TchKey(host.MSG_TYPE_READY_EVT, -1)
	bl, err := bx.Bd.AddListener(key)
	if err != nil {
		bx.state = XPORT_STATE_STOPPED
		return err
	}
	defer bx.Bd.RemoveKey(key)

	if err := bx.host.Start(bx.Bd.Dispatch); err != nil {
		bx.state = XPORT_STATE_STOPPED
		return mixutil.NewXportError("failed to start BLE host: " +
			err.Error())
	}

	msg, ok, err := bl.Await(bx.readyTimeout)
	if err == nil && !ok {
		err = mixutil.NewXportError(
			"timeout waiting for host <-> controller sync")
	}
	if err != nil {
		bx.host.Stop()
		bx.state = XPORT_STATE_STOPPED
		return err
	}

	log.Debugf("BLE host ready: %s", msg.Base().Describe())

	if !bx.setStateFrom(XPORT_STATE_STARTING, XPORT_STATE_STARTED) {
		return mixutil.NewXportError(
			"internal error; BLE transport in unexpected state")
	}

	return nil
}

func (bx *Xport) Stop() error {
	if !bx.setStateFrom(XPORT_STATE_STARTED, XPORT_STATE_STOPPED) {
		// Stop already in progress.
		return nil
	}

	bx.Bd.ErrorAll(mixutil.NewXportError("BLE xport stopped"))
	return bx.host.Stop()
}

func (bx *Xport) Tx(req host.Msg) error {
	if bx.getState() != XPORT_STATE_STARTED {
		return mixutil.NewXportError("attempt to transmit before BLE xport " +
			"fully started")
	}

	log.Debugf("Tx to BLE host: %s", req.Base().Describe())
	if err := bx.host.Tx(req); err != nil {
		if mixutil.IsXport(err) {
			return err
		}
		return mixutil.NewXportError(err.Error())
	}

	return nil
}
