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

	log "github.com/sirupsen/logrus"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
	"github.com/lywsd/mithermo/mixact/task"
)

type Notification struct {
	Chr        *Characteristic
	Data       []byte
	Indication bool
}

type NotifyListener struct {
	NotifyChan chan Notification
	ErrChan    chan error
}

func NewNotifyListener() *NotifyListener {
	return &NotifyListener{
		NotifyChan: make(chan Notification, 16),
		ErrChan:    make(chan error, 1),
	}
}

type ConnCfg struct {
	// ATT MTU requested right after the link comes up.
	PreferredMtu int

	// Upper bound on the close handshake and the wait for the resulting
	// disconnect.
	CloseTimeout time.Duration

	// Source of read buffers; nil means DefaultBufPool.
	Pool *BufPool
}

func NewConnCfg() ConnCfg {
	return ConnCfg{
		PreferredMtu: BLE_ATT_MTU_PREFERRED,
		CloseTimeout: 2 * time.Second,
	}
}

// Implements a low-level BLE connection.  Objects of this type must never be
// reused; after a disconnect, a new object should be created if you wish to
// reconnect to the peer.
//
// Starts Goroutines on:
// * Successful call to Connect().
//
// Stops Goroutines on:
// * Call to Close().
// * Unsolicited disconnect.
type Conn struct {
	bx         *Xport
	rxvr       *Receiver
	cfg        ConnCfg
	attMtu     int
	peer       BleDev
	connHandle int
	linkUp     bool
	profile    Profile
	notifyMap  map[int]*NotifyListener
	wg         sync.WaitGroup

	// Set once discovery succeeds; later discovery calls return it.
	table *HandleTable

	// Indicates a disconnect to the user of this type.
	disconnectChan chan error

	// Closes when the connection drops; used for Goroutine cleanup.
	dropChan chan struct{}

	// The queue of actions that run in the main loop.
	tq task.TaskQueue

	// Protects:
	// * connHandle
	// * linkUp
	// * notifyMap
	// * table
	mtx sync.Mutex
}

func NewConn(bx *Xport, cfg ConnCfg) *Conn {
	return &Conn{
		bx:             bx,
		rxvr:           NewReceiver(mixutil.GetNextId(), bx, 1),
		cfg:            cfg,
		connHandle:     host.BLE_CONN_HANDLE_NONE,
		attMtu:         BLE_ATT_MTU_DFLT,
		profile:        NewProfile(),
		notifyMap:      map[int]*NotifyListener{},
		disconnectChan: make(chan error, 1),
		dropChan:       make(chan struct{}),
	}
}

// Yields the cause when the connection goes down, then closes.
func (c *Conn) DisconnectChan() <-chan error {
	return c.disconnectChan
}

func (c *Conn) abortNotifyListeners(err error) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for _, nl := range c.notifyMap {
		nl.ErrChan <- err
		close(nl.NotifyChan)
		close(nl.ErrChan)
	}
	c.notifyMap = map[int]*NotifyListener{}
}

func (c *Conn) initTaskQueue() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.tq.Active() {
		return mixutil.NewAlreadyError("attempt to start BLE conn twice")
	}

	c.tq = task.NewTaskQueue("conn")
	if err := c.tq.Start(10); err != nil {
		mixutil.Assert(false)
		return err
	}

	return nil
}

func (c *Conn) runTask(fn func() error) error {
	err := c.tq.Run(fn)
	if err == task.InactiveError {
		return mixutil.NewConnClosedError(0,
			"attempt to use closed BLE connection")
	}
	return err
}

func (c *Conn) enqueueShutdown(cause error) chan error {
	return c.tq.Enqueue(func() error { return c.shutdown(cause) })
}

func (c *Conn) runShutdown(cause error) error {
	return <-c.enqueueShutdown(cause)
}

func (c *Conn) dropped() bool {
	select {
	case <-c.dropChan:
		return true
	default:
		return false
	}
}

func (c *Conn) shutdown(cause error) error {
	if err := c.tq.StopNoWait(cause); err != nil {
		// Connection already shut down.
		return err
	}

	if c.linkUp && !c.dropped() {
		if err := c.terminate(); err != nil {
			log.Debugf("failed to terminate BLE connection: %s",
				err.Error())
		}

		select {
		case <-c.dropChan:
		case <-time.After(c.cfg.CloseTimeout):
			log.Warnf("no disconnect event received after %s",
				c.cfg.CloseTimeout.String())
		}
	} else if !c.linkUp && c.connHandle != host.BLE_CONN_HANDLE_NONE {
		// Abandon a connect attempt the host may still complete.
		if err := c.terminate(); err != nil {
			log.Debugf("failed to cancel BLE connect: %s", err.Error())
		}
	}

	c.rxvr.ErrorAll(cause)
	c.rxvr.RemoveAll("shutdown")
	c.wg.Wait()

	c.mtx.Lock()
	c.connHandle = host.BLE_CONN_HANDLE_NONE
	c.linkUp = false
	c.mtx.Unlock()

	c.abortNotifyListeners(cause)

	c.disconnectChan <- cause
	close(c.disconnectChan)

	return nil
}

func (c *Conn) newDisconnectError(reason int) error {
	str := fmt.Sprintf("BLE peer disconnected; "+
		"reason=\"%s\" (%d) peer=%s",
		host.ErrCodeToString(reason), reason, c.peer.String())

	return mixutil.NewConnClosedError(reason, str)
}

// Listens for the disconnect in the background.
func (c *Conn) eventListen(bl *Listener) {
	// Terminates on:
	// * BLE listener error (also triggered by shutdown).
	// * Receive of disconnect event.
	//
	// On disconnect, this Goroutine aborts every pending request and shuts
	// the connection object down.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer close(c.dropChan)

		for {
			select {
			case <-bl.ErrChan:
				return

			case bm := <-bl.MsgChan:
				switch msg := bm.(type) {
				case *host.DisconnectEvt:
					err := c.newDisconnectError(msg.Reason)
					log.Debugf(err.Error())

					c.rxvr.ErrorAll(err)
					c.enqueueShutdown(err)
					return

				default:
				}
			}
		}
	}()
}

func (c *Conn) rxNotify(msg *host.NotifyRxEvt) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	chr := c.profile.FindChrByHandle(msg.AttrHandle)
	if chr == nil {
		chr = &Characteristic{ValHandle: msg.AttrHandle}
	}

	nl := c.notifyMap[msg.AttrHandle]
	if nl == nil {
		log.Debugf("unsolicited notification; attr_handle=%d",
			msg.AttrHandle)
		return
	}

	select {
	case nl.NotifyChan <- Notification{
		Chr:        chr,
		Data:       msg.Data,
		Indication: msg.Indication,
	}:
	default:
		// Only the latest reading matters.
		log.Warnf("notification listener full; dropping attr_handle=%d",
			msg.AttrHandle)
	}
}

// Listens for incoming notifications and indications.
func (c *Conn) notifyListen() error {
	key := TchKey(host.MSG_TYPE_NOTIFY_RX_EVT, c.connHandle)
	bl, err := c.rxvr.AddListener("notifications", key)
	if err != nil {
		return err
	}

	// Terminates on:
	// * BLE listener error (triggered by shutdown).
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.rxvr.RemoveListener("notifications", bl)

		for {
			select {
			case <-bl.ErrChan:
				return

			case bm := <-bl.MsgChan:
				switch msg := bm.(type) {
				case *host.NotifyRxEvt:
					c.rxNotify(msg)
				}
			}
		}
	}()

	return nil
}

func (c *Conn) IsConnected() bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.linkUp && c.connHandle != host.BLE_CONN_HANDLE_NONE
}

func (c *Conn) ConnHandle() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return c.connHandle
}

func (c *Conn) Peer() BleDev {
	return c.peer
}

func (c *Conn) AttMtu() int {
	return c.attMtu
}

func (c *Conn) Profile() *Profile {
	return &c.profile
}

// Opens the link and negotiates the ATT MTU.  The MTU exchange starts as soon
// as the link is up; its outcome does not affect the result.
func (c *Conn) Connect(peer BleDev, timeout time.Duration) error {
	if err := c.initTaskQueue(); err != nil {
		return err
	}

	c.peer = peer

	fn := func() error {
		r := host.NewOpenReq(peer, int(timeout/time.Millisecond))

		bl, err := c.rxvr.AddListener("connect", SeqKey(r.Seq))
		if err != nil {
			return err
		}
		defer c.rxvr.RemoveListener("connect", bl)

		return c.open(bl, r, timeout)
	}

	if err := c.runTask(fn); err != nil {
		c.runShutdown(err)
		return err
	}

	return nil
}

func (c *Conn) open(bl *Listener, r *host.OpenReq, tmo time.Duration) error {
	if err := c.bx.Tx(r); err != nil {
		return err
	}

	var mtuReq *host.ExchangeMtuReq
	var mtuBl *Listener
	defer func() {
		if mtuBl != nil {
			c.rxvr.RemoveListener("exchange-mtu", mtuBl)
		}
	}()

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return err

		case err := <-mtuErrChan(mtuBl):
			return err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.OpenEvt:
				if msg.Status != 0 {
					return StatusError(host.MSG_TYPE_OPEN_EVT, msg.Status)
				}

				if err := c.setConnHandle(msg.ConnHandle); err != nil {
					return err
				}

			case *host.ConnectEvt:
				if msg.Status != 0 {
					return StatusError(host.MSG_TYPE_CONNECT_EVT, msg.Status)
				}

				log.Debugf("BLE connection established; peer=%s "+
					"conn_handle=%d", c.peer.String(), msg.ConnHandle)
				c.mtx.Lock()
				c.linkUp = true
				c.mtx.Unlock()

				// Start the MTU exchange from this same wait.
				mtuReq = host.NewExchangeMtuReq(msg.ConnHandle,
					c.cfg.PreferredMtu)
				l, err := c.rxvr.AddListener("exchange-mtu",
					SeqKey(mtuReq.Seq))
				if err != nil {
					return err
				}
				mtuBl = l

				if err := c.bx.Tx(mtuReq); err != nil {
					// Not fatal; the link works at the default MTU.
					log.Debugf("failed to start MTU exchange: %s",
						err.Error())
					return nil
				}

			default:
			}

		case bm := <-mtuMsgChan(mtuBl):
			if msg, ok := bm.(*host.MtuEvt); ok {
				if msg.Status != 0 {
					err := StatusError(host.MSG_TYPE_MTU_EVT, msg.Status)
					log.Debugf("MTU exchange failed; using %d: %s",
						BLE_ATT_MTU_DFLT, err.Error())
				} else {
					log.Debugf("BLE ATT MTU updated; from=%d to=%d",
						c.attMtu, msg.Mtu)
					c.attMtu = msg.Mtu
				}
				return nil
			}

		case <-tmoChan:
			if mtuReq != nil {
				// The link is up; only the MTU response is missing.
				log.Debugf("no MTU response; using %d", c.attMtu)
				return nil
			}
			return tmoError(host.MSG_TYPE_OPEN, tmo)
		}
	}
}

// A nil listener blocks forever, which disables its select case.
func mtuMsgChan(bl *Listener) chan host.Msg {
	if bl == nil {
		return nil
	}
	return bl.MsgChan
}

func mtuErrChan(bl *Listener) chan error {
	if bl == nil {
		return nil
	}
	return bl.ErrChan
}

func (c *Conn) setConnHandle(connHandle int) error {
	c.mtx.Lock()
	c.connHandle = connHandle
	c.mtx.Unlock()

	key := TchKey(host.MSG_TYPE_DISCONNECT_EVT, connHandle)
	bl, err := c.rxvr.AddListener("disconnect", key)
	if err != nil {
		return err
	}
	c.eventListen(bl)

	return c.notifyListen()
}

func (c *Conn) terminate() error {
	r := host.NewCloseReq(c.connHandle)

	bl, err := c.rxvr.AddListener("close", SeqKey(r.Seq))
	if err != nil {
		return err
	}
	defer c.rxvr.RemoveListener("close", bl)

	return closeEvt(c.bx, bl, r, c.cfg.CloseTimeout)
}

// Tears the connection down and waits for the disconnect.  Closing an
// already closed connection is a no-op.
func (c *Conn) Close() error {
	if !c.tq.Active() {
		return nil
	}

	err := c.runShutdown(mixutil.NewConnClosedError(
		host.HciErr(host.ERR_CODE_HCI_CONN_TERM_LOCAL), "closed"))
	if err == task.InactiveError || mixutil.IsConnClosed(err) {
		// Already shut down by a disconnect.
		return nil
	}

	return err
}
