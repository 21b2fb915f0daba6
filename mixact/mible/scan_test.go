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

func nameReport(t *testing.T, name string, complete bool) BleAdvReport {
	b, err := BuildAdvData(BleAdvFields{
		Name:           &name,
		NameIsComplete: complete,
	})
	require.NoError(t, err)

	f, err := ParseAdvFields(b)
	require.NoError(t, err)

	return BleAdvReport{Fields: f}
}

func TestCompleteNamePred(t *testing.T) {
	pred := CompleteNamePred("LYWSD03MMC")

	assert.True(t, pred(nameReport(t, "LYWSD03MMC", true)))

	assert.False(t, pred(nameReport(t, "LYWSD03", true)), "prefix")
	assert.False(t, pred(nameReport(t, "LYWSD03MMC2", true)), "longer")
	assert.False(t, pred(nameReport(t, "lywsd03mmc", true)), "case")
	assert.False(t, pred(nameReport(t, "LYWSD03MMC", false)), "shortened")
	assert.False(t, pred(BleAdvReport{}), "no name")
}

func decoy(addr byte, name string, complete bool) sim.Peripheral {
	p := sim.Peripheral{
		Addr:     BleAddr{Bytes: [6]byte{addr, 0, 0, 0, 0, 0x11}},
		AddrType: BLE_ADDR_TYPE_RANDOM,
		Rssi:     -40,
	}

	flags := uint8(0x06)
	p.AdvData, _ = BuildAdvData(BleAdvFields{
		Flags:          &flags,
		Name:           &name,
		NameIsComplete: complete,
	})
	return p
}

func TestFindTargetSkipsDecoys(t *testing.T) {
	_, bx := startXport(t,
		decoy(1, "LYWSD03", true),
		decoy(2, "LYWSD03MMC", false),
		decoy(3, "lywsd03mmc", true),
		sim.Lywsd03mmc(testAddr))

	s := NewScanner(bx)
	dev, err := s.FindTarget("LYWSD03MMC", 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, testDev(), dev)
}

func TestFindTargetTimeout(t *testing.T) {
	h, bx := startXport(t, decoy(1, "LYWSD03", true))

	s := NewScanner(bx)
	_, err := s.FindTarget("LYWSD03MMC", 50*time.Millisecond)
	assert.True(t, mixutil.IsScanTmo(err), "err=%v", err)
	assert.Equal(t, 1, h.Count(host.MSG_TYPE_SCAN))
}

func TestScannerStop(t *testing.T) {
	_, bx := startXport(t, decoy(1, "other", true))

	s := NewScanner(bx)
	errChan := make(chan error, 1)
	go func() {
		_, err := s.FindTarget("LYWSD03MMC", 5*time.Second)
		errChan <- err
	}()

	// Wait for the scan to be in progress.
	require.Eventually(t, func() bool {
		s.mtx.Lock()
		defer s.mtx.Unlock()
		return s.abortChan != nil
	}, time.Second, time.Millisecond)

	s.Stop()

	select {
	case err := <-errChan:
		assert.True(t, mixutil.IsConnClosed(err), "err=%v", err)
	case <-time.After(time.Second):
		t.Fatal("scan did not abort")
	}
}
