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

package bll

import (
	"encoding/binary"
	"fmt"

	"github.com/JuulLabs-OSS/ble"
	"golang.org/x/net/context"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

func UuidFromBllUuid(bllUuid ble.UUID) (BleUuid, error) {
	uuid := BleUuid{}

	switch len(bllUuid) {
	case 2:
		uuid.U16 = BleUuid16(binary.LittleEndian.Uint16(bllUuid))
		return uuid, nil

	case 16:
		for i, b := range bllUuid {
			uuid.U128[15-i] = b
		}
		return uuid, nil

	default:
		return uuid, fmt.Errorf("Invalid UUID: %#v", bllUuid)
	}
}

func mustUuid(bllUuid ble.UUID) BleUuid {
	uuid, err := UuidFromBllUuid(bllUuid)
	if err != nil {
		return BleUuid{}
	}
	return uuid
}

// The library's property bits share the on-air encoding.
func chrFlagsFromProperty(p ble.Property) BleChrFlags {
	return BleChrFlags(p)
}

// Maps a library error onto a host status code.
func errStatus(err error) int {
	if err == nil {
		return 0
	}

	if ae, ok := mixutil.Cause(err).(ble.ATTError); ok {
		return host.AttErr(int(ae))
	}

	if mixutil.ErrorCausedBy(err, context.DeadlineExceeded) ||
		mixutil.ErrorCausedBy(err, context.Canceled) {

		return host.ERR_CODE_ETIMEOUT
	}

	return host.ERR_CODE_EUNKNOWN
}

// The library only surfaces decoded advertisement fields; the raw payload is
// rebuilt from the ones the workflow uses.  The reported name is treated as a
// complete local name.
func advData(a ble.Advertisement) []byte {
	f := BleAdvFields{}

	if name := a.LocalName(); name != "" {
		f.Name = &name
		f.NameIsComplete = true
	}
	if mfg := a.ManufacturerData(); len(mfg) > 0 {
		f.MfgData = mfg
	}

	b, err := BuildAdvData(f)
	if err != nil {
		if f.Name != nil {
			return NameAdvData(*f.Name)
		}
		return nil
	}

	return b
}

func advToScanEvt(seq host.BleSeq, a ble.Advertisement) (*host.ScanEvt, error) {
	addr, err := ParseBleAddr(a.Addr().String())
	if err != nil {
		return nil, err
	}

	evtType := BLE_ADV_EVENT_NONCONN_IND
	if a.Connectable() {
		evtType = BLE_ADV_EVENT_IND
	}

	return &host.ScanEvt{
		MsgBase: host.NewMsgBase(host.MSG_TYPE_SCAN_EVT, seq,
			host.BLE_CONN_HANDLE_NONE),
		EventType: evtType,
		AddrType:  BLE_ADDR_TYPE_PUBLIC,
		Addr:      addr,
		Rssi:      int8(a.RSSI()),
		Data:      advData(a),
	}, nil
}
