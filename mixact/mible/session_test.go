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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/host/sim"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

type recorder struct {
	mtx     sync.Mutex
	reports []Reading
	events  []AppEvent
	states  []State
}

func (r *recorder) Report(info DeviceInfo, rd Reading) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.reports = append(r.reports, rd)
	return nil
}

func (r *recorder) numReports() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return len(r.reports)
}

func (r *recorder) sawEvent(evt AppEvent) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	for _, e := range r.events {
		if e == evt {
			return true
		}
	}
	return false
}

func (r *recorder) stateTrace() []State {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	return append([]State(nil), r.states...)
}

type sessionFixture struct {
	h   *sim.Host
	bx  *Xport
	s   *Session
	rec *recorder

	cancel  context.CancelFunc
	errChan chan error
}

func (f *sessionFixture) stop(t *testing.T) error {
	f.cancel()

	select {
	case err := <-f.errChan:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("session did not stop")
		return nil
	}
}

func startSession(t *testing.T, h *sim.Host, bx *Xport,
	tweak func(cfg *SessionCfg)) *sessionFixture {

	f := &sessionFixture{
		h:       h,
		bx:      bx,
		rec:     &recorder{},
		errChan: make(chan error, 1),
	}

	cfg := testSessionCfg()
	cfg.Reporters = []Reporter{f.rec}
	cfg.EventCb = func(evt AppEvent, s *Session) {
		f.rec.mtx.Lock()
		defer f.rec.mtx.Unlock()
		f.rec.events = append(f.rec.events, evt)
	}
	cfg.StateCb = func(from State, to State) {
		f.rec.mtx.Lock()
		defer f.rec.mtx.Unlock()
		f.rec.states = append(f.rec.states, to)
	}
	if tweak != nil {
		tweak(&cfg)
	}

	f.s = NewSession(bx, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go func() {
		f.errChan <- f.s.Run(ctx)
	}()

	return f
}

func notifyAndWait(t *testing.T, f *sessionFixture, data []byte) Reading {
	ch := f.s.ListenReading()
	require.Equal(t, 1, f.h.Notify(sim.HandleSensor, data))

	select {
	case v := <-ch:
		return v.(Reading)
	case <-time.After(time.Second):
		t.Fatal("no reading")
		return Reading{}
	}
}

func assertFixtureInfo(t *testing.T, info DeviceInfo) {
	assert.Equal(t, testDev(), info.Peer)
	assert.Equal(t, sim.FixtureModel, info.Model)
	assert.Equal(t, sim.FixtureSerial, info.Serial)
	assert.Equal(t, sim.FixtureFirmware, info.Firmware)
	assert.Equal(t, sim.FixtureHardware, info.Hardware)
	assert.Equal(t, sim.FixtureSoftware, info.Software)
	assert.True(t, info.BatteryKnown)
	assert.Equal(t, sim.FixtureBattery, info.Battery)
}

func TestSessionEndToEnd(t *testing.T) {
	h, bx := startXport(t)
	f := startSession(t, h, bx, nil)

	require.NoError(t, f.s.WaitReady(3*time.Second))
	waitState(t, f.s, STATE_IDLE)

	assert.True(t, f.s.Target().Found)
	assert.Equal(t, testDev(), f.s.Target().Dev)

	info := f.s.DeviceInfo()
	assertFixtureInfo(t, info)
	assert.Equal(t, BLE_ATT_MTU_PREFERRED, info.Mtu)

	// Nothing is reported before the first notification.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, f.rec.numReports())
	assert.False(t, f.s.Reading().Received)

	r := notifyAndWait(t, f, []byte{0x10, 0x0b, 0x3c})
	assert.InDelta(t, 28.32, r.Temperature(), 0.0001)
	assert.Equal(t, uint8(60), r.Humidity)

	assert.Equal(t, r.TempCenti, f.s.Reading().TempCenti)
	require.Eventually(t, func() bool { return f.rec.numReports() > 0 },
		time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, h.Count(host.MSG_TYPE_SCAN))
	assert.Equal(t, 6, h.Count(host.MSG_TYPE_READ))
	assert.Equal(t, 0, f.s.Restarts())

	assert.True(t, f.rec.sawEvent(EVENT_INIT))
	assert.True(t, f.rec.sawEvent(EVENT_SCAN))
	assert.True(t, f.rec.sawEvent(EVENT_CONNECT))
	assert.True(t, f.rec.sawEvent(EVENT_DATA))

	assert.Equal(t, []State{
		STATE_SCAN,
		STATE_CONNECT,
		STATE_DISCOVER,
		STATE_READ_MODEL,
		STATE_READ_SERIAL,
		STATE_READ_FW,
		STATE_READ_HW,
		STATE_READ_SW,
		STATE_READ_BATTERY,
		STATE_SUBSCRIBE,
		STATE_IDLE,
	}, f.rec.stateTrace())

	require.NoError(t, f.stop(t))
	assert.Equal(t, STATE_DONE, f.s.State())
	assert.Equal(t, 0, h.NumConns())
}

func TestSessionMalformedNotification(t *testing.T) {
	h, bx := startXport(t)
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	require.Equal(t, 1, h.Notify(sim.HandleSensor, []byte{0x10, 0x0b}))
	time.Sleep(50 * time.Millisecond)
	assert.False(t, f.s.Reading().Received)

	r := notifyAndWait(t, f, sim.FixtureReading)
	assert.True(t, r.HasVoltage)
	assert.Equal(t, STATE_IDLE, f.s.State())
}

func TestSessionMtuFailure(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		MtuStatus: host.AttErr(host.ERR_CODE_ATT_REQ_NOT_SUPPORTED),
	})
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	info := f.s.DeviceInfo()
	assert.Equal(t, BLE_ATT_MTU_DFLT, info.Mtu)
	assertFixtureInfo(t, info)
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_SCAN))
}

func TestSessionReadTimeoutRestarts(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		LateRsp:   map[host.MsgType]int{host.MSG_TYPE_READ: 1},
		LateDelay: 200 * time.Millisecond,
	})
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	// The first model read timed out and the workflow started over.
	assert.Equal(t, 2, h.Count(host.MSG_TYPE_SCAN))
	assertFixtureInfo(t, f.s.DeviceInfo())

	// The straggling response reached no one.
	require.Eventually(t, func() bool { return bx.Bd.Dropped() > 0 },
		time.Second, 5*time.Millisecond)
	assertFixtureInfo(t, f.s.DeviceInfo())

	// Steady state resets the restart budget.
	assert.Equal(t, 0, f.s.Restarts())
}

func TestSessionReadStatusRetries(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		ReadStatuses: map[int][]int{
			sim.HandleSerial: {host.AttErr(host.ERR_CODE_ATT_UNLIKELY)},
		},
	})
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	assert.Equal(t, 1, h.Count(host.MSG_TYPE_SCAN))
	assert.Equal(t, 7, h.Count(host.MSG_TYPE_READ))
	assertFixtureInfo(t, f.s.DeviceInfo())
}

func TestSessionReadStatusExhaustsTries(t *testing.T) {
	h, bx := startXport(t)
	status := host.AttErr(host.ERR_CODE_ATT_UNLIKELY)
	h.SetFaults(sim.Faults{
		ReadStatuses: map[int][]int{
			sim.HandleSerial: {status, status, status},
		},
	})
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	assert.Equal(t, 2, h.Count(host.MSG_TYPE_SCAN))
	assertFixtureInfo(t, f.s.DeviceInfo())
}

func TestSessionMissingField(t *testing.T) {
	p := sim.Lywsd03mmc(testAddr)
	dis := &p.Svcs[1]
	dis.Chrs = append(dis.Chrs[:1:1], dis.Chrs[2:]...)

	h, bx := startXport(t, p)
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	info := f.s.DeviceInfo()
	assert.Equal(t, "", info.Serial)
	assert.Equal(t, sim.FixtureModel, info.Model)
	assert.Equal(t, sim.FixtureSoftware, info.Software)
	assert.Equal(t, 5, h.Count(host.MSG_TYPE_READ))
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_SCAN))
}

func TestSessionExtras(t *testing.T) {
	h, bx := startXport(t)
	f := startSession(t, h, bx, func(cfg *SessionCfg) {
		cfg.Fields = DefaultFieldProfile().WithExtras()
	})
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	info := f.s.DeviceInfo()
	assertFixtureInfo(t, info)
	assert.Equal(t, sim.FixtureDeviceName, info.Extra["device_name"])
	assert.Equal(t, sim.FixtureVendor, info.Extra["manufacturer"])
	assert.Equal(t, "1800280000009001", info.Extra["conn_params"])
	assert.Contains(t, f.rec.stateTrace(), STATE_READ_EXTRAS)
}

func TestSessionRestartExhausted(t *testing.T) {
	h, bx := startXport(t, decoy(1, "LYWSD03", true))
	f := startSession(t, h, bx, func(cfg *SessionCfg) {
		cfg.ScanTimeout = 30 * time.Millisecond
		cfg.MaxRestarts = 2
	})

	var err error
	select {
	case err = <-f.errChan:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not give up")
	}
	f.cancel()

	assert.True(t, mixutil.IsRetryExhausted(err), "err=%v", err)
	assert.Equal(t, 3, h.Count(host.MSG_TYPE_SCAN))
	assert.Equal(t, STATE_DONE, f.s.State())
	assert.False(t, f.s.Target().Found)
}

func TestSessionDisconnectRestarts(t *testing.T) {
	h, bx := startXport(t)
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)
	notifyAndWait(t, f, sim.FixtureReading)

	require.Equal(t, 1, h.Disconnect(host.HciErr(host.ERR_CODE_HCI_CONN_SPVN_TMO)))

	require.Eventually(t, func() bool { return h.Count(host.MSG_TYPE_SCAN) == 2 },
		time.Second, 5*time.Millisecond)
	waitState(t, f.s, STATE_IDLE)

	assert.True(t, f.rec.sawEvent(EVENT_DISCONNECT))
	assert.Equal(t, 1, h.NumConns())
	assertFixtureInfo(t, f.s.DeviceInfo())
}

func TestSessionDisconnectKeepsReading(t *testing.T) {
	h, bx := startXport(t)
	f := startSession(t, h, bx, func(cfg *SessionCfg) {
		cfg.ResetOnDisconnect = false
	})
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)
	notifyAndWait(t, f, sim.FixtureReading)

	require.Equal(t, 1, h.Disconnect(host.HciErr(host.ERR_CODE_HCI_CONN_SPVN_TMO)))
	require.Eventually(t, func() bool { return f.rec.sawEvent(EVENT_DISCONNECT) },
		time.Second, 5*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, STATE_IDLE, f.s.State())
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_SCAN))

	r := f.s.Reading()
	assert.True(t, r.Received)
	assert.Equal(t, int16(2832), r.TempCenti)

	// Stale data keeps being reported.
	n := f.rec.numReports()
	require.Eventually(t, func() bool { return f.rec.numReports() > n },
		time.Second, 5*time.Millisecond)
}

func TestSessionPumpedNotifications(t *testing.T) {
	p := sim.Lywsd03mmc(testAddr)
	p.Pump = &sim.Pump{
		ValHandle: sim.HandleSensor,
		Period:    10,
		Gen:       sim.DriftingReading,
	}

	h, bx := startXport(t, p)
	f := startSession(t, h, bx, nil)
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)

	require.Eventually(t, func() bool { return f.s.Reading().TempCenti > 2832 },
		2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.rec.numReports() > 0 },
		time.Second, 5*time.Millisecond)
}

func TestSessionCancelDuringScan(t *testing.T) {
	h, bx := startXport(t, decoy(1, "other", true))
	f := startSession(t, h, bx, func(cfg *SessionCfg) {
		cfg.ScanTimeout = 5 * time.Second
	})

	waitState(t, f.s, STATE_SCAN)
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, f.stop(t))
	assert.True(t, time.Since(start) < time.Second)
	assert.Equal(t, STATE_DONE, f.s.State())

	err := f.s.WaitReady(10 * time.Millisecond)
	assert.True(t, mixutil.IsTimeout(err))
}

func TestFailurePolicy(t *testing.T) {
	closed := mixutil.NewConnClosedError(0, "gone")
	tmo := mixutil.NewTimeoutError("read", "tmo")
	status := mixutil.NewBleHostError(1, "bad")

	tests := []struct {
		state State
		err   error
		tries int
		act   failAction
	}{
		{STATE_SCAN, mixutil.NewScanTmoError("x"), 1, FAIL_RESTART},
		{STATE_CONNECT, status, 1, FAIL_RESTART},
		{STATE_DISCOVER, status, 1, FAIL_RETRY},
		{STATE_DISCOVER, status, 3, FAIL_RESTART},
		{STATE_DISCOVER, closed, 1, FAIL_RESTART},
		{STATE_READ_MODEL, tmo, 1, FAIL_RESTART},
		{STATE_READ_EXTRAS, tmo, 1, FAIL_RESTART},
		{STATE_READ_SERIAL, status, 2, FAIL_RETRY},
		{STATE_READ_SERIAL, status, 3, FAIL_RESTART},
		{STATE_SUBSCRIBE, tmo, 1, FAIL_RETRY},
	}

	for _, tst := range tests {
		assert.Equal(t, tst.act, failurePolicy(tst.state, tst.err, tst.tries, 3),
			"state=%s err=%s tries=%d", tst.state, tst.err, tst.tries)
	}
}

func TestRestarterBudget(t *testing.T) {
	r := newRestarter(time.Millisecond, 4*time.Millisecond, 2)

	_, err := r.next(nil)
	require.NoError(t, err)
	d, err := r.next(nil)
	require.NoError(t, err)
	assert.True(t, d <= 4*time.Millisecond+2*time.Millisecond)

	_, err = r.next(mixutil.NewScanTmoError("x"))
	assert.True(t, mixutil.IsRetryExhausted(err))
	assert.Equal(t, 2, r.restarts())

	r.reset()
	assert.Equal(t, 0, r.restarts())
	_, err = r.next(nil)
	assert.NoError(t, err)

	forever := newRestarter(time.Millisecond, time.Millisecond, -1)
	for i := 0; i < 50; i++ {
		_, err := forever.next(nil)
		require.NoError(t, err)
	}
}

func TestSessionRestartsReadConcurrently(t *testing.T) {
	h, bx := startXport(t, decoy(1, "LYWSD03", true))
	f := startSession(t, h, bx, func(cfg *SessionCfg) {
		cfg.ScanTimeout = 20 * time.Millisecond
		cfg.MaxRestarts = 3
	})

	stop := make(chan struct{})
	seen := make(chan []int, 1)
	go func() {
		var counts []int
		for {
			select {
			case <-stop:
				seen <- counts
				return
			default:
				counts = append(counts, f.s.Restarts())
			}
		}
	}()

	var err error
	select {
	case err = <-f.errChan:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not give up")
	}
	close(stop)
	f.cancel()

	assert.True(t, mixutil.IsRetryExhausted(err), "err=%v", err)
	assert.Equal(t, 3, f.s.Restarts())

	counts := <-seen
	for i := 1; i < len(counts); i++ {
		assert.True(t, counts[i] >= counts[i-1], "restart count went back")
	}
}

func TestSessionReconnectForgetsOldFields(t *testing.T) {
	h, bx := startXport(t)
	f := startSession(t, h, bx, func(cfg *SessionCfg) {
		cfg.Fields = DefaultFieldProfile().WithExtras()
	})
	defer f.stop(t)

	waitState(t, f.s, STATE_IDLE)
	assertFixtureInfo(t, f.s.DeviceInfo())
	require.Equal(t, sim.FixtureVendor, f.s.DeviceInfo().Extra["manufacturer"])

	// The peer comes back without the software revision, the manufacturer
	// name and the battery service.
	require.True(t, h.UpdatePeer(testAddr, func(p *sim.Peripheral) {
		dis := &p.Svcs[1]
		dis.Chrs = dis.Chrs[:4]
		p.Svcs = append(p.Svcs[:2], p.Svcs[3:]...)
	}))
	require.Equal(t, 1, h.Disconnect(host.HciErr(host.ERR_CODE_HCI_CONN_SPVN_TMO)))

	require.Eventually(t, func() bool { return h.Count(host.MSG_TYPE_SCAN) == 2 },
		time.Second, 5*time.Millisecond)
	waitState(t, f.s, STATE_IDLE)

	info := f.s.DeviceInfo()
	assert.Equal(t, testDev(), info.Peer)
	assert.Equal(t, sim.FixtureModel, info.Model)
	assert.Equal(t, sim.FixtureHardware, info.Hardware)
	assert.Empty(t, info.Software)
	assert.False(t, info.BatteryKnown)
	assert.Equal(t, -1, info.Battery)

	assert.Equal(t, sim.FixtureDeviceName, info.Extra["device_name"])
	_, ok := info.Extra["manufacturer"]
	assert.False(t, ok)
}
