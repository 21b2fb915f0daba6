// +build !windows

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

// Package bll is a host backend built on the host machine's native BLE
// support (HCI sockets on Linux, CoreBluetooth on macOS).
package bll

import (
	"runtime"
	"sync"
	"time"

	"github.com/JuulLabs-OSS/ble"
	"github.com/JuulLabs-OSS/ble/examples/lib/dev"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/context"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
	"github.com/lywsd/mithermo/mixact/task"
)

type HostCfg struct {
	CtlrName string

	// HCI device index (Linux only).
	DeviceId int

	// Use short connection intervals (Linux only).
	FastConnParams bool
}

func NewHostCfg() HostCfg {
	return HostCfg{
		CtlrName: "default",
	}
}

type bllConn struct {
	handle  int
	cln     ble.Client
	closing bool
	cancel  context.CancelFunc

	svcs  map[int]*ble.Service
	chrs  map[int]*ble.Characteristic
	dscs  map[int]*ble.Descriptor
	chrsL []*ble.Characteristic
}

func newBllConn(handle int) *bllConn {
	return &bllConn{
		handle: handle,
		svcs:   map[int]*ble.Service{},
		chrs:   map[int]*ble.Characteristic{},
		dscs:   map[int]*ble.Descriptor{},
	}
}

// Finds the characteristic whose descriptors start at the specified handle.
func (c *bllConn) chrForDscs(start int) *ble.Characteristic {
	for _, chr := range c.chrsL {
		if int(chr.ValueHandle)+1 == start {
			return chr
		}
	}
	return nil
}

type Host struct {
	cfg HostCfg

	mtx        sync.Mutex
	tq         task.TaskQueue
	handler    host.EventHandler
	started    bool
	scanSeq    host.BleSeq
	scanCancel context.CancelFunc
	cancelSeq  host.BleSeq
	nextHandle int
	conns      map[int]*bllConn
	wg         sync.WaitGroup
}

func NewHost(cfg HostCfg) *Host {
	return &Host{
		cfg:        cfg,
		tq:         task.NewTaskQueue("bll"),
		nextHandle: 1,
		conns:      map[int]*bllConn{},
		cancelSeq:  host.BLE_SEQ_NONE,
	}
}

func (h *Host) Start(handler host.EventHandler) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.started {
		return mixutil.NewAlreadyError("bll host started twice")
	}

	d, err := dev.NewDevice(h.cfg.CtlrName, ble.OptDeviceID(h.cfg.DeviceId))
	if err != nil {
		return mixutil.FmtXportError("failed to open BLE controller: %s",
			err.Error())
	}
	ble.SetDefaultDevice(d)

	if h.cfg.FastConnParams {
		if err := setConnParams(d, BLE_ADDR_TYPE_PUBLIC); err != nil {
			log.Warnf("%s", err.Error())
		}
	}

	if err := h.tq.Start(64); err != nil {
		return err
	}

	h.handler = handler
	h.started = true

	h.post(host.NewReadyEvt())
	return nil
}

func (h *Host) Stop() error {
	h.mtx.Lock()
	if !h.started {
		h.mtx.Unlock()
		return mixutil.NewAlreadyError("bll host not started")
	}
	h.started = false

	if h.scanCancel != nil {
		h.scanCancel()
	}
	var clns []ble.Client
	for _, c := range h.conns {
		c.closing = true
		if c.cancel != nil {
			c.cancel()
		}
		if c.cln != nil {
			clns = append(clns, c.cln)
		}
	}
	h.mtx.Unlock()

	for _, cln := range clns {
		if err := cln.CancelConnection(); err != nil {
			log.Debugf("error terminating BLE connection: %s", err.Error())
		}
	}

	h.wg.Wait()

	if err := ble.Stop(); err != nil {
		log.Debugf("error stopping BLE device: %s", err.Error())
	}

	return h.tq.Stop(mixutil.NewXportError("bll host stopped"))
}

func (h *Host) post(msg host.Msg) {
	if err := h.tq.Post(func() { h.handler(msg) }); err != nil {
		log.Debugf("bll: dropping %s: %s", msg.Base().Describe(),
			err.Error())
	}
}

// Runs a blocking library call off the caller's goroutine.
func (h *Host) goDo(fn func()) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		fn()
	}()
}

func (h *Host) conn(handle int) (*bllConn, error) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	c := h.conns[handle]
	if c == nil || c.cln == nil {
		return nil, mixutil.FmtXportError(
			"bll: unknown conn %d (enotconn)", handle)
	}
	return c, nil
}

func (h *Host) Tx(req host.Msg) error {
	h.mtx.Lock()
	started := h.started
	h.mtx.Unlock()

	if !started {
		return mixutil.NewXportError("bll host not started")
	}

	switch r := req.(type) {
	case *host.ScanReq:
		return h.scan(r)
	case *host.ScanCancelReq:
		return h.cancelScan(r)
	case *host.OpenReq:
		return h.open(r)
	case *host.CloseReq:
		return h.close(r)
	}

	c, err := h.conn(req.Base().ConnHandle)
	if err != nil {
		return err
	}

	switch r := req.(type) {
	case *host.ExchangeMtuReq:
		h.goDo(func() { h.exchangeMtu(c, r) })
	case *host.DiscAllSvcsReq:
		h.goDo(func() { h.discAllSvcs(c, r) })
	case *host.DiscAllChrsReq:
		h.goDo(func() { h.discAllChrs(c, r) })
	case *host.DiscAllDscsReq:
		h.goDo(func() { h.discAllDscs(c, r) })
	case *host.ReadReq:
		h.goDo(func() { h.read(c, r) })
	case *host.WriteDscReq:
		h.goDo(func() { h.writeDsc(c, r) })
	case *host.RegNotifyReq:
		h.goDo(func() { h.regNotify(c, r) })
	default:
		return mixutil.FmtXportError("bll: unsupported request: %T", req)
	}

	return nil
}

func (h *Host) scan(r *host.ScanReq) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.scanCancel != nil {
		return mixutil.NewXportError("bll: scan already in progress " +
			"(ealready)")
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if r.DurationMs > 0 {
		ctx, cancel = context.WithTimeout(context.Background(),
			time.Duration(r.DurationMs)*time.Millisecond)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	h.scanSeq = r.Seq
	h.scanCancel = cancel

	onAdv := func(a ble.Advertisement) {
		evt, err := advToScanEvt(r.Seq, a)
		if err != nil {
			log.Debugf("bll: ignoring advertisement: %s", err.Error())
			return
		}
		h.post(evt)
	}

	h.goDo(func() {
		err := ble.Scan(ctx, !r.FilterDuplicates, onAdv, nil)
		cancel()

		reason := 0
		if err != nil && !mixutil.ErrorCausedBy(err, context.DeadlineExceeded) &&
			!mixutil.ErrorCausedBy(err, context.Canceled) {

			log.Debugf("bll: scan failed: %s", err.Error())
			reason = errStatus(err)
		}

		h.mtx.Lock()
		h.scanCancel = nil
		cancelSeq := h.cancelSeq
		h.cancelSeq = host.BLE_SEQ_NONE
		h.mtx.Unlock()

		h.post(&host.ScanCompleteEvt{
			MsgBase: host.NewMsgBase(host.MSG_TYPE_SCAN_COMPLETE_EVT, r.Seq,
				host.BLE_CONN_HANDLE_NONE),
			Reason: reason,
		})
		if cancelSeq != host.BLE_SEQ_NONE {
			h.post(&host.ScanCancelEvt{
				MsgBase: host.NewMsgBase(host.MSG_TYPE_SCAN_CANCEL_EVT,
					cancelSeq, host.BLE_CONN_HANDLE_NONE),
			})
		}
	})

	return nil
}

func (h *Host) cancelScan(r *host.ScanCancelReq) error {
	h.mtx.Lock()
	cancel := h.scanCancel
	if cancel != nil {
		h.cancelSeq = r.Seq
	}
	h.mtx.Unlock()

	if cancel == nil {
		h.post(&host.ScanCancelEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_SCAN_CANCEL_EVT),
			Status:  host.ERR_CODE_EALREADY,
		})
		return nil
	}

	// The scan goroutine reports completion and acknowledges the cancel.
	cancel()
	return nil
}

func (h *Host) open(r *host.OpenReq) error {
	h.mtx.Lock()
	handle := h.nextHandle
	h.nextHandle++

	c := newBllConn(handle)
	ctx, cancel := context.WithTimeout(context.Background(),
		time.Duration(r.DurationMs)*time.Millisecond)
	c.cancel = cancel
	h.conns[handle] = c
	h.mtx.Unlock()

	h.post(&host.OpenEvt{
		MsgBase: host.NewMsgBase(host.MSG_TYPE_OPEN_EVT, r.Seq, handle),
	})

	h.goDo(func() {
		defer cancel()

		cln, err := ble.Dial(ctx, ble.NewAddr(r.PeerAddr.String()))
		if err != nil {
			h.mtx.Lock()
			delete(h.conns, handle)
			h.mtx.Unlock()

			log.Debugf("bll: failed to connect to %s: %s",
				r.PeerAddr.String(), err.Error())
			status := host.HciErr(host.ERR_CODE_HCI_CONN_FAIL_ESTAB)
			if mixutil.ErrorCausedBy(err, context.DeadlineExceeded) {
				status = host.ERR_CODE_ETIMEOUT
			}
			h.post(&host.ConnectEvt{
				MsgBase: host.NewMsgBase(host.MSG_TYPE_CONNECT_EVT, r.Seq,
					handle),
				Status: status,
			})
			return
		}

		h.mtx.Lock()
		c.cln = cln
		c.cancel = nil
		abandoned := c.closing
		h.mtx.Unlock()

		if abandoned {
			log.Debugf("bll: dropping late connection to %s",
				r.PeerAddr.String())
			if err := cln.CancelConnection(); err != nil {
				log.Debugf("bll: cancel connection: %s", err.Error())
			}
			h.listenDisconnect(c)
			return
		}

		h.post(&host.ConnectEvt{
			MsgBase: host.NewMsgBase(host.MSG_TYPE_CONNECT_EVT, r.Seq, handle),
		})
		h.listenDisconnect(c)
	})

	return nil
}

func (h *Host) listenDisconnect(c *bllConn) {
	h.goDo(func() {
		<-c.cln.Disconnected()

		h.mtx.Lock()
		reason := host.HciErr(host.ERR_CODE_HCI_REM_USER_CONN_TERM)
		if c.closing {
			reason = host.HciErr(host.ERR_CODE_HCI_CONN_TERM_LOCAL)
		}
		delete(h.conns, c.handle)
		h.mtx.Unlock()

		h.post(host.NewDisconnectEvt(c.handle, reason))
	})
}

func (h *Host) close(r *host.CloseReq) error {
	h.mtx.Lock()
	c := h.conns[r.ConnHandle]
	var cln ble.Client
	var cancel context.CancelFunc
	if c != nil {
		c.closing = true
		cln = c.cln
		cancel = c.cancel
	}
	h.mtx.Unlock()

	if c == nil {
		h.post(&host.CloseEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_CLOSE_EVT),
			Status:  host.ERR_CODE_ENOTCONN,
		})
		return nil
	}

	if cln == nil {
		// Still dialing.
		if cancel != nil {
			cancel()
		}
		h.post(&host.CloseEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_CLOSE_EVT),
		})
		return nil
	}

	h.goDo(func() {
		err := cln.CancelConnection()
		h.post(&host.CloseEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_CLOSE_EVT),
			Status:  errStatus(err),
		})
	})

	return nil
}

func (h *Host) exchangeMtu(c *bllConn, r *host.ExchangeMtuReq) {
	evt := &host.MtuEvt{
		MsgBase: host.RspBase(r, host.MSG_TYPE_MTU_EVT),
		Mtu:     BLE_ATT_MTU_DFLT,
	}

	// macOS performs the exchange on its own and only reports the result
	// once it has completed; until then the library returns the default.
	for i := 0; i < 3; i++ {
		mtu, err := c.cln.ExchangeMTU(r.Mtu)
		if err != nil {
			evt.Status = errStatus(err)
			break
		}
		evt.Mtu = mtu

		if runtime.GOOS != "darwin" || mtu != BLE_ATT_MTU_DFLT {
			break
		}

		log.Debugf("macOS reports an MTU of 23; wait and requery")
		time.Sleep(time.Second)
	}

	h.post(evt)
}

func (h *Host) discAllSvcs(c *bllConn, r *host.DiscAllSvcsReq) {
	svcs, err := c.cln.DiscoverServices(nil)
	if err != nil {
		h.post(&host.DiscSvcEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_SVC_EVT),
			Status:  errStatus(err),
		})
		return
	}

	h.mtx.Lock()
	for _, s := range svcs {
		c.svcs[int(s.Handle)] = s
	}
	h.mtx.Unlock()

	for _, s := range svcs {
		h.post(&host.DiscSvcEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_SVC_EVT),
			Svc: host.DiscSvc{
				StartHandle: int(s.Handle),
				EndHandle:   int(s.EndHandle),
				Uuid:        mustUuid(s.UUID),
			},
		})
	}
	h.post(&host.DiscSvcEvt{
		MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_SVC_EVT),
		Status:  host.ERR_CODE_EDONE,
	})
}

func (h *Host) discAllChrs(c *bllConn, r *host.DiscAllChrsReq) {
	h.mtx.Lock()
	svc := c.svcs[r.StartHandle]
	h.mtx.Unlock()

	if svc == nil {
		h.post(&host.DiscChrEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_CHR_EVT),
			Status:  host.AttErr(host.ERR_CODE_ATT_ATTR_NOT_FOUND),
		})
		return
	}

	chrs, err := c.cln.DiscoverCharacteristics(nil, svc)
	if err != nil {
		h.post(&host.DiscChrEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_CHR_EVT),
			Status:  errStatus(err),
		})
		return
	}

	h.mtx.Lock()
	for _, chr := range chrs {
		c.chrs[int(chr.ValueHandle)] = chr
		c.chrsL = append(c.chrsL, chr)
	}
	h.mtx.Unlock()

	for _, chr := range chrs {
		h.post(&host.DiscChrEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_CHR_EVT),
			Chr: host.DiscChr{
				DefHandle:  int(chr.Handle),
				ValHandle:  int(chr.ValueHandle),
				Uuid:       mustUuid(chr.UUID),
				Properties: chrFlagsFromProperty(chr.Property),
			},
		})
	}
	h.post(&host.DiscChrEvt{
		MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_CHR_EVT),
		Status:  host.ERR_CODE_EDONE,
	})
}

func (h *Host) discAllDscs(c *bllConn, r *host.DiscAllDscsReq) {
	h.mtx.Lock()
	chr := c.chrForDscs(r.StartHandle)
	h.mtx.Unlock()

	var dscs []*ble.Descriptor
	if chr != nil {
		var err error
		dscs, err = c.cln.DiscoverDescriptors(nil, chr)
		if err != nil {
			h.post(&host.DiscDscEvt{
				MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_DSC_EVT),
				Status:  errStatus(err),
			})
			return
		}
	}

	h.mtx.Lock()
	for _, d := range dscs {
		c.dscs[int(d.Handle)] = d
	}
	h.mtx.Unlock()

	for _, d := range dscs {
		h.post(&host.DiscDscEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_DSC_EVT),
			Dsc: host.DiscDsc{
				Handle: int(d.Handle),
				Uuid:   mustUuid(d.UUID),
			},
		})
	}
	h.post(&host.DiscDscEvt{
		MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_DSC_EVT),
		Status:  host.ERR_CODE_EDONE,
	})
}

func (h *Host) read(c *bllConn, r *host.ReadReq) {
	evt := &host.ReadEvt{
		MsgBase:    host.RspBase(r, host.MSG_TYPE_READ_EVT),
		AttrHandle: r.AttrHandle,
	}

	h.mtx.Lock()
	chr := c.chrs[r.AttrHandle]
	dsc := c.dscs[r.AttrHandle]
	h.mtx.Unlock()

	var data []byte
	var err error
	switch {
	case chr != nil:
		data, err = c.cln.ReadCharacteristic(chr)
	case dsc != nil:
		data, err = c.cln.ReadDescriptor(dsc)
	default:
		evt.Status = host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE)
	}

	if err != nil {
		evt.Status = errStatus(err)
	} else if evt.Status == 0 {
		evt.Data = append([]byte(nil), data...)
	}

	h.post(evt)
}

func (h *Host) writeDsc(c *bllConn, r *host.WriteDscReq) {
	evt := &host.WriteEvt{
		MsgBase:    host.RspBase(r, host.MSG_TYPE_WRITE_EVT),
		AttrHandle: r.AttrHandle,
	}

	h.mtx.Lock()
	dsc := c.dscs[r.AttrHandle]
	h.mtx.Unlock()

	if dsc == nil {
		evt.Status = host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE)
	} else {
		evt.Status = errStatus(c.cln.WriteDescriptor(dsc, r.Data))
	}

	h.post(evt)
}

func (h *Host) regNotify(c *bllConn, r *host.RegNotifyReq) {
	evt := &host.RegNotifyEvt{
		MsgBase:    host.RspBase(r, host.MSG_TYPE_REG_NOTIFY_EVT),
		AttrHandle: r.AttrHandle,
	}

	h.mtx.Lock()
	chr := c.chrs[r.AttrHandle]
	h.mtx.Unlock()

	switch {
	case chr == nil:
		evt.Status = host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE)

	case chr.Property&(ble.CharNotify|ble.CharIndicate) == 0:
		evt.Status = host.AttErr(host.ERR_CODE_ATT_REQ_NOT_SUPPORTED)

	default:
		ind := chr.Property&ble.CharNotify == 0
		handle := c.handle
		valHandle := r.AttrHandle

		onNotify := func(data []byte) {
			n := host.NewNotifyRxEvt(handle, valHandle,
				append([]byte(nil), data...))
			n.Indication = ind
			h.post(n)
		}
		evt.Status = errStatus(c.cln.Subscribe(chr, ind, onNotify))
	}

	h.post(evt)
}

func (h *Host) String() string {
	return "native BLE host (" + h.cfg.CtlrName + ")"
}
