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
)

func testExploreCfg() ExploreCfg {
	cfg := NewExploreCfg()
	cfg.ScanTimeout = 300 * time.Millisecond
	cfg.ConnectTimeout = 300 * time.Millisecond
	cfg.DiscoverTimeout = 300 * time.Millisecond
	cfg.ReadTimeout = 100 * time.Millisecond
	cfg.Conn = testConnCfg()
	return cfg
}

func findChrDump(x *Exploration, uuid BleUuid) *ChrDump {
	for i := range x.Svcs {
		for j := range x.Svcs[i].Chrs {
			if CompareUuids(x.Svcs[i].Chrs[j].Uuid, uuid) == 0 {
				return &x.Svcs[i].Chrs[j]
			}
		}
	}
	return nil
}

func TestExplore(t *testing.T) {
	h, bx := startXport(t)

	var progress [][2]int
	cfg := testExploreCfg()
	cfg.ProgressCb = func(done int, total int) {
		progress = append(progress, [2]int{done, total})
	}

	x, err := Explore(bx, cfg)
	require.NoError(t, err)

	assert.Equal(t, testDev(), x.Peer)
	assert.Equal(t, BLE_ATT_MTU_PREFERRED, x.Mtu)
	require.Len(t, x.Svcs, 4)

	model := findChrDump(x, NewBleUuid16(DisModelNumberUuid))
	require.NotNil(t, model)
	assert.Equal(t, []byte(sim.FixtureModel), model.Value)
	assert.Empty(t, model.Err)

	sensor := findChrDump(x, MustParseUuid(MiThermoDataChrUuid))
	require.NotNil(t, sensor)
	assert.Equal(t, sim.FixtureReading, sensor.Value)
	assert.Len(t, sensor.Dscs, 2)

	// GAP 2, DIS 6, BAS 1, vendor 2.
	require.Len(t, progress, 11)
	assert.Equal(t, [2]int{11, 11}, progress[10])
	assert.Equal(t, 11, h.Count(host.MSG_TYPE_READ))

	// The link is torn down afterwards.
	assert.Equal(t, 0, h.NumConns())
}

func TestExploreLenientReads(t *testing.T) {
	h, bx := startXport(t)
	h.SetFaults(sim.Faults{
		ReadStatuses: map[int][]int{
			sim.HandleSerial: {host.AttErr(host.ERR_CODE_ATT_INSUFFICIENT_AUTHEN)},
		},
	})

	dev := testDev()
	cfg := testExploreCfg()
	cfg.Peer = &dev

	x, err := Explore(bx, cfg)
	require.NoError(t, err)
	assert.Equal(t, 0, h.Count(host.MSG_TYPE_SCAN))

	serial := findChrDump(x, NewBleUuid16(DisSerialNumberUuid))
	require.NotNil(t, serial)
	assert.Nil(t, serial.Value)
	assert.NotEmpty(t, serial.Err)

	fw := findChrDump(x, NewBleUuid16(DisFwRevisionUuid))
	require.NotNil(t, fw)
	assert.Equal(t, []byte(sim.FixtureFirmware), fw.Value)
}

func TestExploreNotFound(t *testing.T) {
	_, bx := startXport(t, decoy(1, "other", true))

	cfg := testExploreCfg()
	cfg.ScanTimeout = 30 * time.Millisecond

	_, err := Explore(bx, cfg)
	assert.Error(t, err)
}
