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

// Package sim is an in-process BLE host that serves one or more simulated
// peripherals.  It honours the host.Host contract and can inject the failure
// modes a real stack exhibits: rejected requests, lost or late completions,
// failure statuses and spontaneous disconnects.
package sim

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

type Faults struct {
	// Per request type: number of upcoming Tx calls that are rejected.
	RejectTx map[host.MsgType]int

	// Per request type: number of upcoming requests whose events are lost.
	DropRsp map[host.MsgType]int

	// Per request type: number of upcoming requests whose events arrive
	// LateDelay after the request.
	LateRsp   map[host.MsgType]int
	LateDelay time.Duration

	OpenStatus      int
	ConnectStatus   int
	MtuStatus       int
	RegNotifyStatus int
	WriteStatus     int

	// Per attribute handle: statuses returned by successive reads.  Once
	// exhausted, reads succeed.
	ReadStatuses map[int][]int

	// Terminate service enumeration with SvcDiscCmplEvt instead of EDONE.
	AltSvcCmpl bool
}

type conn struct {
	handle  int
	peer    *Peripheral
	mtu     int
	notify  map[int]bool
	pumpSeq int
}

type Host struct {
	peers []*Peripheral

	// Interval between repeated advertisements while scanning; zero means
	// each peripheral advertises once per scan.
	AdvItvl time.Duration

	mtx        sync.Mutex
	tq         task.TaskQueue
	handler    host.EventHandler
	faults     Faults
	started    bool
	scanSeq    host.BleSeq
	scanning   bool
	scanStop   chan struct{}
	nextHandle int
	conns      map[int]*conn
	counts     map[host.MsgType]int
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewHost(peers ...Peripheral) *Host {
	h := &Host{
		tq:         task.NewTaskQueue("sim"),
		nextHandle: 1,
		conns:      map[int]*conn{},
		counts:     map[host.MsgType]int{},
	}
	for i := range peers {
		p := peers[i]
		h.peers = append(h.peers, &p)
	}

	return h
}

// Modifies a peripheral in place, as if its firmware had changed.  Live
// connections see the new layout.  Returns false if no peripheral has the
// address.
func (h *Host) UpdatePeer(addr BleAddr, fn func(p *Peripheral)) bool {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	p := h.findPeer(addr)
	if p == nil {
		return false
	}

	fn(p)
	return true
}

func (h *Host) SetFaults(f Faults) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	h.faults = f
}

func (h *Host) UpdateFaults(fn func(f *Faults)) {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	fn(&h.faults)
}

// Number of requests of the given type accepted so far.
func (h *Host) Count(typ host.MsgType) int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return h.counts[typ]
}

func (h *Host) NumConns() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	return len(h.conns)
}

func (h *Host) Start(handler host.EventHandler) error {
	h.mtx.Lock()
	defer h.mtx.Unlock()

	if h.started {
		return mixutil.NewAlreadyError("sim host started twice")
	}

	if err := h.tq.Start(64); err != nil {
		return err
	}

	h.handler = handler
	h.started = true
	h.stopCh = make(chan struct{})

	for _, p := range h.peers {
		if p.Pump != nil {
			h.startPump(p)
		}
	}

	h.post(host.NewReadyEvt())
	return nil
}

func (h *Host) Stop() error {
	h.mtx.Lock()
	if !h.started {
		h.mtx.Unlock()
		return mixutil.NewAlreadyError("sim host not started")
	}
	h.started = false
	close(h.stopCh)
	if h.scanStop != nil {
		close(h.scanStop)
		h.scanStop = nil
	}
	h.scanning = false
	h.conns = map[int]*conn{}
	h.mtx.Unlock()

	h.wg.Wait()
	return h.tq.Stop(mixutil.NewXportError("sim host stopped"))
}

// Delivers a message on the serialized event context.  Caller must not be
// running inside a queue job.
func (h *Host) post(msg host.Msg) {
	if err := h.tq.Post(func() { h.handler(msg) }); err != nil {
		log.Debugf("sim: dropping %s: %s", msg.Base().Describe(), err.Error())
	}
}

func (h *Host) Tx(req host.Msg) error {
	b := req.Base()

	h.mtx.Lock()
	if !h.started {
		h.mtx.Unlock()
		return mixutil.NewXportError("sim host not started")
	}

	if h.faults.RejectTx[b.Type] > 0 {
		h.faults.RejectTx[b.Type]--
		h.mtx.Unlock()
		return mixutil.FmtXportError("sim: %s rejected (ebusy)",
			host.MsgTypeToString(b.Type))
	}

	lost := false
	if h.faults.DropRsp[b.Type] > 0 {
		h.faults.DropRsp[b.Type]--
		lost = true
	}

	var delay time.Duration
	if h.faults.LateRsp[b.Type] > 0 {
		h.faults.LateRsp[b.Type]--
		delay = h.faults.LateDelay
	}

	h.counts[b.Type]++

	evts, err := h.processNoLock(req)
	h.mtx.Unlock()

	if err != nil {
		return err
	}

	if lost {
		log.Debugf("sim: losing %d event(s) for %s", len(evts), b.Describe())
		return nil
	}

	deliver := func() {
		for _, e := range evts {
			h.post(e)
		}
	}

	if delay > 0 {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			select {
			case <-time.After(delay):
				deliver()
			case <-h.stopCh:
			}
		}()
	} else {
		deliver()
	}

	return nil
}

func (h *Host) findPeer(addr BleAddr) *Peripheral {
	for _, p := range h.peers {
		if p.Addr == addr {
			return p
		}
	}
	return nil
}

func popStatus(m map[int][]int, handle int) int {
	q := m[handle]
	if len(q) == 0 {
		return 0
	}
	m[handle] = q[1:]
	return q[0]
}

// Computes the events a request produces.  Called with the mutex held.
func (h *Host) processNoLock(req host.Msg) ([]host.Msg, error) {
	switch r := req.(type) {
	case *host.ScanReq:
		return h.scanNoLock(r)

	case *host.ScanCancelReq:
		status := 0
		var evts []host.Msg
		if !h.scanning {
			status = host.ERR_CODE_EALREADY
		} else {
			evts = append(evts, h.stopScanNoLock(0))
		}
		evts = append(evts, &host.ScanCancelEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_SCAN_CANCEL_EVT),
			Status:  status,
		})
		return evts, nil

	case *host.OpenReq:
		return h.openNoLock(r), nil

	case *host.CloseReq:
		c := h.conns[r.ConnHandle]
		if c == nil {
			return []host.Msg{&host.CloseEvt{
				MsgBase: host.RspBase(r, host.MSG_TYPE_CLOSE_EVT),
				Status:  host.ERR_CODE_ENOTCONN,
			}}, nil
		}
		delete(h.conns, c.handle)
		return []host.Msg{
			&host.CloseEvt{
				MsgBase: host.RspBase(r, host.MSG_TYPE_CLOSE_EVT),
			},
			host.NewDisconnectEvt(c.handle,
				host.HciErr(host.ERR_CODE_HCI_CONN_TERM_LOCAL)),
		}, nil
	}

	// Everything below requires a live connection.
	b := req.Base()
	c := h.conns[b.ConnHandle]
	if c == nil {
		return nil, mixutil.FmtXportError("sim: %s on unknown conn %d (enotconn)",
			host.MsgTypeToString(b.Type), b.ConnHandle)
	}

	switch r := req.(type) {
	case *host.ExchangeMtuReq:
		evt := &host.MtuEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_MTU_EVT),
			Status:  h.faults.MtuStatus,
			Mtu:     BLE_ATT_MTU_DFLT,
		}
		if evt.Status == 0 {
			evt.Mtu = r.Mtu
			if c.peer.Mtu > 0 && c.peer.Mtu < evt.Mtu {
				evt.Mtu = c.peer.Mtu
			}
		}
		c.mtu = evt.Mtu
		return []host.Msg{evt}, nil

	case *host.DiscAllSvcsReq:
		var evts []host.Msg
		for _, s := range c.peer.Svcs {
			evts = append(evts, &host.DiscSvcEvt{
				MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_SVC_EVT),
				Svc: host.DiscSvc{
					StartHandle: s.StartHandle,
					EndHandle:   s.EndHandle,
					Uuid:        s.Uuid,
				},
			})
		}
		if h.faults.AltSvcCmpl {
			evts = append(evts, &host.SvcDiscCmplEvt{
				MsgBase: host.RspBase(r, host.MSG_TYPE_SVC_DISC_CMPL_EVT),
			})
		} else {
			evts = append(evts, &host.DiscSvcEvt{
				MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_SVC_EVT),
				Status:  host.ERR_CODE_EDONE,
			})
		}
		return evts, nil

	case *host.DiscAllChrsReq:
		var evts []host.Msg
		for _, s := range c.peer.Svcs {
			for _, ch := range s.Chrs {
				if ch.DefHandle < r.StartHandle || ch.DefHandle > r.EndHandle {
					continue
				}
				evts = append(evts, &host.DiscChrEvt{
					MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_CHR_EVT),
					Chr: host.DiscChr{
						DefHandle:  ch.DefHandle,
						ValHandle:  ch.ValHandle,
						Uuid:       ch.Uuid,
						Properties: ch.Props,
					},
				})
			}
		}
		evts = append(evts, &host.DiscChrEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_CHR_EVT),
			Status:  host.ERR_CODE_EDONE,
		})
		return evts, nil

	case *host.DiscAllDscsReq:
		var evts []host.Msg
		for _, s := range c.peer.Svcs {
			for _, ch := range s.Chrs {
				for _, d := range ch.Dscs {
					if d.Handle < r.StartHandle || d.Handle > r.EndHandle {
						continue
					}
					evts = append(evts, &host.DiscDscEvt{
						MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_DSC_EVT),
						Dsc: host.DiscDsc{
							Handle: d.Handle,
							Uuid:   d.Uuid,
						},
					})
				}
			}
		}
		evts = append(evts, &host.DiscDscEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_DISC_DSC_EVT),
			Status:  host.ERR_CODE_EDONE,
		})
		return evts, nil

	case *host.ReadReq:
		evt := &host.ReadEvt{
			MsgBase:    host.RspBase(r, host.MSG_TYPE_READ_EVT),
			AttrHandle: r.AttrHandle,
		}

		var val []byte
		if ch := c.peer.findChrByValHandle(r.AttrHandle); ch != nil {
			if ch.Props&BLE_GATT_F_READ == 0 {
				evt.Status = host.AttErr(host.ERR_CODE_ATT_READ_NOT_PERMITTED)
			}
			val = ch.Value
		} else if d := c.peer.findDsc(r.AttrHandle); d != nil {
			val = d.Value
		} else {
			evt.Status = host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE)
		}

		if evt.Status == 0 {
			evt.Status = popStatus(h.faults.ReadStatuses, r.AttrHandle)
		}
		if evt.Status == 0 {
			max := c.mtu - 1
			if max <= 0 {
				max = BLE_ATT_MTU_DFLT - 1
			}
			if len(val) > max {
				val = val[:max]
			}
			evt.Data = append([]byte(nil), val...)
		}
		return []host.Msg{evt}, nil

	case *host.WriteDscReq:
		evt := &host.WriteEvt{
			MsgBase:    host.RspBase(r, host.MSG_TYPE_WRITE_EVT),
			AttrHandle: r.AttrHandle,
			Status:     h.faults.WriteStatus,
		}
		d := c.peer.findDsc(r.AttrHandle)
		if d == nil {
			evt.Status = host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE)
		}
		if evt.Status == 0 {
			d.Value = append([]byte(nil), r.Data...)
		}
		return []host.Msg{evt}, nil

	case *host.RegNotifyReq:
		evt := &host.RegNotifyEvt{
			MsgBase:    host.RspBase(r, host.MSG_TYPE_REG_NOTIFY_EVT),
			AttrHandle: r.AttrHandle,
			Status:     h.faults.RegNotifyStatus,
		}
		ch := c.peer.findChrByValHandle(r.AttrHandle)
		if ch == nil {
			evt.Status = host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE)
		} else if ch.Props&(BLE_GATT_F_NOTIFY|BLE_GATT_F_INDICATE) == 0 {
			evt.Status = host.AttErr(host.ERR_CODE_ATT_REQ_NOT_SUPPORTED)
		}
		if evt.Status == 0 {
			c.notify[r.AttrHandle] = true
		}
		return []host.Msg{evt}, nil

	default:
		return nil, mixutil.FmtXportError("sim: unsupported request: %T", req)
	}
}

func (h *Host) scanNoLock(r *host.ScanReq) ([]host.Msg, error) {
	if h.scanning {
		return nil, mixutil.FmtXportError("sim: scan already in progress " +
			"(ealready)")
	}

	h.scanning = true
	h.scanSeq = r.Seq
	stop := make(chan struct{})
	h.scanStop = stop

	var evts []host.Msg
	for _, p := range h.peers {
		evts = append(evts, h.advEvt(r.Seq, p))
	}

	// Repeated advertisements and the scan duration run off the mutex.
	h.wg.Add(1)
	go h.scanLoop(r.Seq, time.Duration(r.DurationMs)*time.Millisecond, stop)

	return evts, nil
}

func (h *Host) advEvt(seq host.BleSeq, p *Peripheral) *host.ScanEvt {
	return &host.ScanEvt{
		MsgBase:   host.NewMsgBase(host.MSG_TYPE_SCAN_EVT, seq, host.BLE_CONN_HANDLE_NONE),
		EventType: BLE_ADV_EVENT_IND,
		AddrType:  p.AddrType,
		Addr:      p.Addr,
		Rssi:      p.Rssi,
		Data:      append([]byte(nil), p.advData()...),
	}
}

func (h *Host) scanLoop(seq host.BleSeq, dur time.Duration,
	stop chan struct{}) {

	defer h.wg.Done()

	var durCh <-chan time.Time
	if dur > 0 {
		timer := time.NewTimer(dur)
		defer timer.Stop()
		durCh = timer.C
	}

	var advCh <-chan time.Time
	if h.AdvItvl > 0 {
		ticker := time.NewTicker(h.AdvItvl)
		defer ticker.Stop()
		advCh = ticker.C
	}

	for {
		select {
		case <-stop:
			return

		case <-h.stopCh:
			return

		case <-advCh:
			h.mtx.Lock()
			var evts []host.Msg
			if h.scanning && h.scanSeq == seq {
				for _, p := range h.peers {
					evts = append(evts, h.advEvt(seq, p))
				}
			}
			h.mtx.Unlock()
			for _, e := range evts {
				h.post(e)
			}

		case <-durCh:
			h.mtx.Lock()
			var evt host.Msg
			if h.scanning && h.scanSeq == seq {
				evt = h.stopScanNoLock(0)
			}
			h.mtx.Unlock()
			if evt != nil {
				h.post(evt)
			}
			return
		}
	}
}

func (h *Host) stopScanNoLock(reason int) host.Msg {
	h.scanning = false
	if h.scanStop != nil {
		close(h.scanStop)
		h.scanStop = nil
	}

	return &host.ScanCompleteEvt{
		MsgBase: host.NewMsgBase(host.MSG_TYPE_SCAN_COMPLETE_EVT, h.scanSeq,
			host.BLE_CONN_HANDLE_NONE),
		Reason: reason,
	}
}

func (h *Host) openNoLock(r *host.OpenReq) []host.Msg {
	if h.faults.OpenStatus != 0 {
		return []host.Msg{&host.OpenEvt{
			MsgBase: host.RspBase(r, host.MSG_TYPE_OPEN_EVT),
			Status:  h.faults.OpenStatus,
		}}
	}

	handle := h.nextHandle
	h.nextHandle++

	evts := []host.Msg{&host.OpenEvt{
		MsgBase: host.NewMsgBase(host.MSG_TYPE_OPEN_EVT, r.Seq, handle),
	}}

	p := h.findPeer(r.PeerAddr)
	if p == nil {
		// Nobody answers; the central's connect attempt simply times out.
		log.Debugf("sim: no peripheral at %s", r.PeerAddr.String())
		return evts
	}

	connect := &host.ConnectEvt{
		MsgBase: host.NewMsgBase(host.MSG_TYPE_CONNECT_EVT, r.Seq, handle),
		Status:  h.faults.ConnectStatus,
	}
	if connect.Status == 0 {
		h.conns[handle] = &conn{
			handle: handle,
			peer:   p,
			mtu:    BLE_ATT_MTU_DFLT,
			notify: map[int]bool{},
		}
	}

	return append(evts, connect)
}

// Pushes a notification to every connection that registered for the handle.
// Returns the number of connections notified.
func (h *Host) Notify(attrHandle int, data []byte) int {
	h.mtx.Lock()
	var evts []host.Msg
	for _, c := range h.conns {
		if c.notify[attrHandle] {
			evts = append(evts, host.NewNotifyRxEvt(c.handle, attrHandle,
				append([]byte(nil), data...)))
		}
	}
	h.mtx.Unlock()

	for _, e := range evts {
		h.post(e)
	}

	return len(evts)
}

// Drops every open connection as if the peripheral went out of range.
func (h *Host) Disconnect(reason int) int {
	h.mtx.Lock()
	var evts []host.Msg
	for handle := range h.conns {
		evts = append(evts, host.NewDisconnectEvt(handle, reason))
	}
	h.conns = map[int]*conn{}
	h.mtx.Unlock()

	for _, e := range evts {
		h.post(e)
	}

	return len(evts)
}

func (h *Host) startPump(p *Peripheral) {
	pump := p.Pump
	period := time.Duration(pump.Period) * time.Millisecond
	if period <= 0 {
		period = time.Second
	}

	stopCh := h.stopCh
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		n := 0
		for {
			select {
			case <-stopCh:
				return

			case <-ticker.C:
				h.mtx.Lock()
				var evts []host.Msg
				for _, c := range h.conns {
					if c.peer == p && c.notify[pump.ValHandle] {
						evts = append(evts, host.NewNotifyRxEvt(c.handle,
							pump.ValHandle, pump.Gen(n)))
					}
				}
				h.mtx.Unlock()

				n++
				for _, e := range evts {
					h.post(e)
				}
			}
		}
	}()
}

func (h *Host) String() string {
	return fmt.Sprintf("sim host (%d peripheral(s))", len(h.peers))
}
