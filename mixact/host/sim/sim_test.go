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

package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

var testAddr = BleAddr{Bytes: [6]byte{0xa4, 0xc1, 0x38, 0x01, 0x02, 0x03}}

type recorder struct {
	mtx  sync.Mutex
	msgs []host.Msg
	ch   chan host.Msg
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan host.Msg, 256)}
}

func (r *recorder) handle(msg host.Msg) {
	r.mtx.Lock()
	r.msgs = append(r.msgs, msg)
	r.mtx.Unlock()

	r.ch <- msg
}

// Waits for the next event of the given type, skipping others.
func (r *recorder) next(t *testing.T, typ host.MsgType) host.Msg {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	for {
		select {
		case msg := <-r.ch:
			if msg.Base().Type == typ {
				return msg
			}
		case <-timer.C:
			require.FailNow(t, "no event", "type=%s", typ)
			return nil
		}
	}
}

func startHost(t *testing.T, peers ...Peripheral) (*Host, *recorder) {
	h := NewHost(peers...)
	r := newRecorder()
	require.NoError(t, h.Start(r.handle))
	t.Cleanup(func() { h.Stop() })

	r.next(t, host.MSG_TYPE_READY_EVT)
	return h, r
}

func openConn(t *testing.T, h *Host, r *recorder) int {
	dev := BleDev{AddrType: BLE_ADDR_TYPE_PUBLIC, Addr: testAddr}
	require.NoError(t, h.Tx(host.NewOpenReq(dev, 1000)))

	evt := r.next(t, host.MSG_TYPE_CONNECT_EVT).(*host.ConnectEvt)
	require.Equal(t, 0, evt.Status)
	return evt.ConnHandle
}

func TestScanReportsPeripheral(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))

	req := host.NewScanReq(50)
	require.NoError(t, h.Tx(req))

	evt := r.next(t, host.MSG_TYPE_SCAN_EVT).(*host.ScanEvt)
	assert.Equal(t, req.Seq, evt.Seq)
	assert.Equal(t, testAddr, evt.Addr)

	f, err := ParseAdvFields(evt.Data)
	require.NoError(t, err)
	name, ok := f.CompleteName()
	assert.True(t, ok)
	assert.Equal(t, FixtureDeviceName, name)

	cmpl := r.next(t, host.MSG_TYPE_SCAN_COMPLETE_EVT)
	assert.Equal(t, req.Seq, cmpl.Base().Seq)
}

func TestScanCancel(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))

	require.NoError(t, h.Tx(host.NewScanReq(10000)))
	r.next(t, host.MSG_TYPE_SCAN_EVT)

	// Only one scan at a time.
	assert.True(t, mixutil.IsXport(h.Tx(host.NewScanReq(10000))))

	require.NoError(t, h.Tx(host.NewScanCancelReq()))
	r.next(t, host.MSG_TYPE_SCAN_COMPLETE_EVT)
	evt := r.next(t, host.MSG_TYPE_SCAN_CANCEL_EVT).(*host.ScanCancelEvt)
	assert.Equal(t, 0, evt.Status)
}

func TestOpenUnknownPeerNeverConnects(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))

	dev := BleDev{Addr: BleAddr{Bytes: [6]byte{1, 2, 3, 4, 5, 6}}}
	require.NoError(t, h.Tx(host.NewOpenReq(dev, 1000)))
	r.next(t, host.MSG_TYPE_OPEN_EVT)

	select {
	case msg := <-r.ch:
		assert.Failf(t, "unexpected event", "%s", msg.Base().Describe())
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, h.NumConns())
}

func TestMtuNegotiation(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	ch := openConn(t, h, r)

	require.NoError(t, h.Tx(host.NewExchangeMtuReq(ch, 512)))
	evt := r.next(t, host.MSG_TYPE_MTU_EVT).(*host.MtuEvt)
	assert.Equal(t, 247, evt.Mtu)

	h.UpdateFaults(func(f *Faults) { f.MtuStatus = host.ERR_CODE_ETIMEOUT })
	require.NoError(t, h.Tx(host.NewExchangeMtuReq(ch, 200)))
	evt = r.next(t, host.MSG_TYPE_MTU_EVT).(*host.MtuEvt)
	assert.Equal(t, host.ERR_CODE_ETIMEOUT, evt.Status)
	assert.Equal(t, BLE_ATT_MTU_DFLT, evt.Mtu)
}

func TestDiscoveryStreams(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	ch := openConn(t, h, r)

	require.NoError(t, h.Tx(host.NewDiscAllSvcsReq(ch)))
	var svcs []host.DiscSvc
	for {
		evt := r.next(t, host.MSG_TYPE_DISC_SVC_EVT).(*host.DiscSvcEvt)
		if evt.Status == host.ERR_CODE_EDONE {
			break
		}
		svcs = append(svcs, evt.Svc)
	}
	require.Len(t, svcs, 4)

	require.NoError(t, h.Tx(host.NewDiscAllChrsReq(ch,
		svcs[1].StartHandle, svcs[1].EndHandle)))
	n := 0
	for {
		evt := r.next(t, host.MSG_TYPE_DISC_CHR_EVT).(*host.DiscChrEvt)
		if evt.Status == host.ERR_CODE_EDONE {
			break
		}
		n++
	}
	assert.Equal(t, 6, n)

	require.NoError(t, h.Tx(host.NewDiscAllDscsReq(ch, HandleSensor+1, 0x40)))
	evt := r.next(t, host.MSG_TYPE_DISC_DSC_EVT).(*host.DiscDscEvt)
	assert.Equal(t, HandleSensorCcc, evt.Dsc.Handle)
	assert.Equal(t, NewBleUuid16(ClientChrCfgUuid), evt.Dsc.Uuid)
}

func TestAltSvcCompletion(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	h.SetFaults(Faults{AltSvcCmpl: true})
	ch := openConn(t, h, r)

	req := host.NewDiscAllSvcsReq(ch)
	require.NoError(t, h.Tx(req))
	evt := r.next(t, host.MSG_TYPE_SVC_DISC_CMPL_EVT)
	assert.Equal(t, req.Seq, evt.Base().Seq)
}

func TestReadFaults(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	h.SetFaults(Faults{
		ReadStatuses: map[int][]int{
			HandleModel: {host.AttErr(host.ERR_CODE_ATT_UNLIKELY)},
		},
	})
	ch := openConn(t, h, r)

	require.NoError(t, h.Tx(host.NewReadReq(ch, HandleModel)))
	evt := r.next(t, host.MSG_TYPE_READ_EVT).(*host.ReadEvt)
	assert.Equal(t, host.AttErr(host.ERR_CODE_ATT_UNLIKELY), evt.Status)

	require.NoError(t, h.Tx(host.NewReadReq(ch, HandleModel)))
	evt = r.next(t, host.MSG_TYPE_READ_EVT).(*host.ReadEvt)
	assert.Equal(t, 0, evt.Status)
	assert.Equal(t, []byte(FixtureModel), evt.Data)

	require.NoError(t, h.Tx(host.NewReadReq(ch, 0x7f)))
	evt = r.next(t, host.MSG_TYPE_READ_EVT).(*host.ReadEvt)
	assert.Equal(t, host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE), evt.Status)
}

func TestRejectAndLateResponse(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	ch := openConn(t, h, r)

	h.SetFaults(Faults{
		RejectTx:  map[host.MsgType]int{host.MSG_TYPE_READ: 1},
		LateRsp:   map[host.MsgType]int{host.MSG_TYPE_READ: 1},
		LateDelay: 30 * time.Millisecond,
	})

	assert.True(t, mixutil.IsXport(h.Tx(host.NewReadReq(ch, HandleModel))))

	start := time.Now()
	require.NoError(t, h.Tx(host.NewReadReq(ch, HandleModel)))
	r.next(t, host.MSG_TYPE_READ_EVT)
	assert.True(t, time.Since(start) >= 30*time.Millisecond)
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_READ))
}

func TestNotifyRequiresRegistration(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	ch := openConn(t, h, r)

	assert.Equal(t, 0, h.Notify(HandleSensor, FixtureReading))

	require.NoError(t, h.Tx(host.NewRegNotifyReq(ch, HandleSensor)))
	reg := r.next(t, host.MSG_TYPE_REG_NOTIFY_EVT).(*host.RegNotifyEvt)
	require.Equal(t, 0, reg.Status)

	assert.Equal(t, 1, h.Notify(HandleSensor, FixtureReading))
	evt := r.next(t, host.MSG_TYPE_NOTIFY_RX_EVT).(*host.NotifyRxEvt)
	assert.Equal(t, ch, evt.ConnHandle)
	assert.Equal(t, FixtureReading, evt.Data)
}

func TestCloseAndDisconnect(t *testing.T) {
	h, r := startHost(t, Lywsd03mmc(testAddr))
	ch := openConn(t, h, r)

	require.NoError(t, h.Tx(host.NewCloseReq(ch)))
	r.next(t, host.MSG_TYPE_CLOSE_EVT)
	evt := r.next(t, host.MSG_TYPE_DISCONNECT_EVT).(*host.DisconnectEvt)
	assert.Equal(t, host.HciErr(host.ERR_CODE_HCI_CONN_TERM_LOCAL), evt.Reason)
	assert.Equal(t, 0, h.NumConns())

	ch = openConn(t, h, r)
	assert.Equal(t, 1, h.Disconnect(host.HciErr(host.ERR_CODE_HCI_CONN_SPVN_TMO)))
	evt = r.next(t, host.MSG_TYPE_DISCONNECT_EVT).(*host.DisconnectEvt)
	assert.Equal(t, ch, evt.ConnHandle)

	assert.True(t, mixutil.IsXport(h.Tx(host.NewReadReq(ch, HandleModel))))
}
