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

	"github.com/stretchr/testify/require"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host/sim"
)

var testAddr = BleAddr{Bytes: [6]byte{0xa4, 0xc1, 0x38, 0x5a, 0x1b, 0x2c}}

func testDev() BleDev {
	return BleDev{AddrType: BLE_ADDR_TYPE_PUBLIC, Addr: testAddr}
}

// Starts a simulated host serving the specified peripherals (a stock
// thermometer if none are given) and an xport bound to it.
func startXport(t *testing.T, peers ...sim.Peripheral) (*sim.Host, *Xport) {
	if len(peers) == 0 {
		peers = []sim.Peripheral{sim.Lywsd03mmc(testAddr)}
	}

	h := sim.NewHost(peers...)
	bx := NewXport(h, time.Second)
	require.NoError(t, bx.Start())
	t.Cleanup(func() { bx.Stop() })

	return h, bx
}

func testConnCfg() ConnCfg {
	cfg := NewConnCfg()
	cfg.CloseTimeout = 200 * time.Millisecond
	cfg.Pool = NewBufPool(DefaultPoolSize)
	return cfg
}

func connectSim(t *testing.T, bx *Xport) *Conn {
	c := NewConn(bx, testConnCfg())
	require.NoError(t, c.Connect(testDev(), 500*time.Millisecond))
	t.Cleanup(func() { c.Close() })

	return c
}

func testSessionCfg() SessionCfg {
	cfg := NewSessionCfg()
	cfg.ScanTimeout = 300 * time.Millisecond
	cfg.ConnectTimeout = 300 * time.Millisecond
	cfg.DiscoverTimeout = 300 * time.Millisecond
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.SubscribeTimeout = 100 * time.Millisecond
	cfg.CloseTimeout = 200 * time.Millisecond
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond
	cfg.IdlePeriod = 20 * time.Millisecond
	cfg.Pool = NewBufPool(DefaultPoolSize)
	return cfg
}

func waitState(t *testing.T, s *Session, want State) {
	require.Eventually(t, func() bool { return s.State() == want },
		3*time.Second, 5*time.Millisecond, "state never reached %s", want)
}
