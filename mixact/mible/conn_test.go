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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/host/sim"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

func TestConnectNegotiatesMtu(t *testing.T) {
	h, bx := startXport(t)
	c := connectSim(t, bx)

	assert.True(t, c.IsConnected())
	assert.Equal(t, BLE_ATT_MTU_PREFERRED, c.AttMtu())
	assert.Equal(t, testDev(), c.Peer())
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_EXCHANGE_MTU))
	assert.Equal(t, 1, h.NumConns())
}

func TestConnectMtuFailure(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		MtuStatus: host.AttErr(host.ERR_CODE_ATT_REQ_NOT_SUPPORTED),
	})

	c := connectSim(t, bx)
	assert.True(t, c.IsConnected())
	assert.Equal(t, BLE_ATT_MTU_DFLT, c.AttMtu())
}

func TestConnectMtuNoResponse(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		DropRsp: map[host.MsgType]int{host.MSG_TYPE_EXCHANGE_MTU: 1},
	})

	c := NewConn(bx, testConnCfg())
	require.NoError(t, c.Connect(testDev(), 100*time.Millisecond))
	defer c.Close()

	assert.True(t, c.IsConnected())
	assert.Equal(t, BLE_ATT_MTU_DFLT, c.AttMtu())
}

func TestConnectUnknownPeer(t *testing.T) {
	h, bx := startXport(t)

	other := BleDev{
		AddrType: BLE_ADDR_TYPE_PUBLIC,
		Addr:     BleAddr{Bytes: [6]byte{1, 2, 3, 4, 5, 6}},
	}

	c := NewConn(bx, testConnCfg())
	start := time.Now()
	err := c.Connect(other, 50*time.Millisecond)
	assert.True(t, mixutil.IsTimeout(err), "err=%v", err)
	assert.False(t, c.IsConnected())

	// No link came up, so teardown does not wait for a disconnect.  The
	// pending attempt is still cancelled.
	assert.True(t, time.Since(start) < 200*time.Millisecond)
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_CLOSE))
	assert.NoError(t, c.Close())
}

func TestConnectRefused(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		ConnectStatus: host.HciErr(host.ERR_CODE_HCI_CONN_FAIL_ESTAB),
	})

	c := NewConn(bx, testConnCfg())
	err := c.Connect(testDev(), 200*time.Millisecond)
	require.Error(t, err)

	bhe := mixutil.ToBleHost(err)
	require.NotNil(t, bhe)
	assert.Equal(t, host.HciErr(host.ERR_CODE_HCI_CONN_FAIL_ESTAB), bhe.Status)
}

func TestConnNotReusable(t *testing.T) {
	_, bx := startXport(t)
	c := connectSim(t, bx)

	err := c.Connect(testDev(), 200*time.Millisecond)
	assert.True(t, mixutil.IsAlready(err), "err=%v", err)

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
	assert.NoError(t, c.Close())

	_, err = c.ReadChr(sim.HandleModel, 100*time.Millisecond)
	assert.True(t, mixutil.IsConnClosed(err), "err=%v", err)
}

func TestCloseTerminatesLink(t *testing.T) {
	h, bx := startXport(t)
	c := connectSim(t, bx)

	require.NoError(t, c.Close())
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_CLOSE))
	assert.Equal(t, 0, h.NumConns())

	select {
	case err := <-c.DisconnectChan():
		assert.True(t, mixutil.IsConnClosed(err))
	case <-time.After(time.Second):
		t.Fatal("no disconnect reported")
	}
}

func TestPeerDisconnect(t *testing.T) {
	h, bx := startXport(t)
	c := connectSim(t, bx)

	reason := host.HciErr(host.ERR_CODE_HCI_CONN_SPVN_TMO)
	require.Equal(t, 1, h.Disconnect(reason))

	select {
	case err := <-c.DisconnectChan():
		cce, ok := mixutil.Cause(err).(*mixutil.ConnClosedError)
		require.True(t, ok, "err=%v", err)
		assert.Equal(t, reason, cce.Reason)
	case <-time.After(time.Second):
		t.Fatal("no disconnect reported")
	}

	assert.False(t, c.IsConnected())

	// The peer is already gone; nothing to terminate.
	require.NoError(t, c.Close())
	assert.Equal(t, 0, h.Count(host.MSG_TYPE_CLOSE))
}

func TestReadChr(t *testing.T) {
	_, bx := startXport(t)
	c := connectSim(t, bx)

	rb, err := c.ReadChr(sim.HandleModel, time.Second)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, sim.FixtureModel, rb.String())
	assert.Equal(t, len(sim.FixtureModel), rb.Len())
	assert.NoError(t, rb.Release())

	_, err = c.ReadChr(0x99, time.Second)
	bhe := mixutil.ToBleHost(err)
	require.NotNil(t, bhe, "err=%v", err)
	assert.Equal(t, host.AttErr(host.ERR_CODE_ATT_INVALID_HANDLE), bhe.Status)
}

func TestReadChrEmptyValue(t *testing.T) {
	p := sim.Lywsd03mmc(testAddr)
	p.Svcs[1].Chrs[0].Value = nil

	_, bx := startXport(t, p)
	c := connectSim(t, bx)

	rb, err := c.ReadChr(sim.HandleModel, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, rb)
}

func TestReadChrPoolExhausted(t *testing.T) {
	_, bx := startXport(t)

	cfg := testConnCfg()
	cfg.Pool = NewBufPool(1)
	c := NewConn(bx, cfg)
	require.NoError(t, c.Connect(testDev(), time.Second))
	defer c.Close()

	held, err := c.ReadChr(sim.HandleModel, time.Second)
	require.NoError(t, err)
	require.NotNil(t, held)

	rb, err := c.ReadChr(sim.HandleSerial, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, rb)

	require.NoError(t, held.Release())
	rb, err = c.ReadChr(sim.HandleSerial, time.Second)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, sim.FixtureSerial, rb.String())
	rb.Release()
}

func TestReadTimeoutDropsLateResponse(t *testing.T) {
	h, bx := startXport(t)
	c := connectSim(t, bx)

	h.SetFaults(sim.Faults{
		LateRsp:   map[host.MsgType]int{host.MSG_TYPE_READ: 1},
		LateDelay: 100 * time.Millisecond,
	})
	before := bx.Bd.Dropped()

	_, err := c.ReadChr(sim.HandleModel, 30*time.Millisecond)
	assert.True(t, mixutil.IsTimeout(err), "err=%v", err)

	// The next request is not confused by the straggler.
	rb, err := c.ReadChr(sim.HandleSerial, time.Second)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, sim.FixtureSerial, rb.String())
	rb.Release()

	require.Eventually(t, func() bool { return bx.Bd.Dropped() > before },
		time.Second, 5*time.Millisecond)

	rb, err = c.ReadChr(sim.HandleFirmware, time.Second)
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, sim.FixtureFirmware, rb.String())
	rb.Release()
}
