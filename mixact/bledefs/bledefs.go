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

package bledefs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const BLE_ATT_MTU_DFLT = 23

// Local MTU requested by the central after a link comes up.
const BLE_ATT_MTU_PREFERRED = 200

// Well-known 16-bit UUIDs used by the thermometer workflow.
const (
	GapSvcUuid          BleUuid16 = 0x1800
	DisSvcUuid          BleUuid16 = 0x180a
	BasSvcUuid          BleUuid16 = 0x180f
	GapDeviceNameUuid   BleUuid16 = 0x2a00
	GapConnParamUuid    BleUuid16 = 0x2a04
	BasBatteryLevelUuid BleUuid16 = 0x2a19
	DisModelNumberUuid  BleUuid16 = 0x2a24
	DisSerialNumberUuid BleUuid16 = 0x2a25
	DisFwRevisionUuid   BleUuid16 = 0x2a26
	DisHwRevisionUuid   BleUuid16 = 0x2a27
	DisSwRevisionUuid   BleUuid16 = 0x2a28
	DisManufacturerUuid BleUuid16 = 0x2a29
	ClientChrCfgUuid    BleUuid16 = 0x2902
)

const MiThermoDefaultName = "LYWSD03MMC"
const MiThermoSvcUuid = "EBE0CCB0-7A0A-4B0C-8A1A-6FF2997DA3A6"
const MiThermoDataChrUuid = "EBE0CCC1-7A0A-4B0C-8A1A-6FF2997DA3A6"

// Value written to the client characteristic configuration descriptor to
// enable notifications.
const CccNotifyEnable = 0x0001

// Sensor payload lengths: temperature + humidity, optionally followed by the
// battery voltage in millivolts.
const MiThermoReadingMinLen = 3
const MiThermoReadingVoltLen = 5

type BleAddrType int

const (
	BLE_ADDR_TYPE_PUBLIC  BleAddrType = 0
	BLE_ADDR_TYPE_RANDOM  BleAddrType = 1
	BLE_ADDR_TYPE_RPA_PUB BleAddrType = 2
	BLE_ADDR_TYPE_RPA_RND BleAddrType = 3
)

var BleAddrTypeStringMap = map[BleAddrType]string{
	BLE_ADDR_TYPE_PUBLIC:  "public",
	BLE_ADDR_TYPE_RANDOM:  "random",
	BLE_ADDR_TYPE_RPA_PUB: "rpa_pub",
	BLE_ADDR_TYPE_RPA_RND: "rpa_rnd",
}

func BleAddrTypeToString(addrType BleAddrType) string {
	s := BleAddrTypeStringMap[addrType]
	if s == "" {
		return "???"
	}

	return s
}

func BleAddrTypeFromString(s string) (BleAddrType, error) {
	for addrType, name := range BleAddrTypeStringMap {
		if s == name {
			return addrType, nil
		}
	}

	return BleAddrType(0), fmt.Errorf("Invalid BleAddrType string: %s", s)
}

func (a BleAddrType) MarshalJSON() ([]byte, error) {
	return json.Marshal(BleAddrTypeToString(a))
}

func (a *BleAddrType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	var err error
	*a, err = BleAddrTypeFromString(s)
	return err
}

type BleAddr struct {
	Bytes [6]byte
}

func ParseBleAddr(s string) (BleAddr, error) {
	ba := BleAddr{}

	toks := strings.Split(strings.ToLower(s), ":")
	if len(toks) != 6 {
		return ba, fmt.Errorf("invalid BLE addr string: %s", s)
	}

	for i, t := range toks {
		u64, err := strconv.ParseUint(t, 16, 8)
		if err != nil {
			return ba, fmt.Errorf("invalid BLE addr string: %s", s)
		}
		ba.Bytes[i] = byte(u64)
	}

	return ba, nil
}

func (ba BleAddr) String() string {
	var buf bytes.Buffer
	buf.Grow(len(ba.Bytes) * 3)

	for i, b := range ba.Bytes {
		if i != 0 {
			buf.WriteString(":")
		}
		fmt.Fprintf(&buf, "%02x", b)
	}

	return buf.String()
}

func (ba BleAddr) IsZero() bool {
	return ba == BleAddr{}
}

func (ba BleAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal(ba.String())
}

func (ba *BleAddr) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	var err error
	*ba, err = ParseBleAddr(s)
	return err
}

type BleDev struct {
	AddrType BleAddrType
	Addr     BleAddr
}

func (bd BleDev) String() string {
	return fmt.Sprintf("%s,%s",
		BleAddrTypeToString(bd.AddrType),
		bd.Addr.String())
}

type BleUuid16 uint16

func (bu16 BleUuid16) String() string {
	return fmt.Sprintf("0x%04x", uint16(bu16))
}

func ParseUuid16(s string) (BleUuid16, error) {
	val, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return BleUuid16(0), fmt.Errorf("Invalid UUID: %s", s)
	}

	return BleUuid16(val), nil
}

// Stored in string order (most significant byte first).
type BleUuid128 [16]byte

func (bu128 BleUuid128) String() string {
	var buf bytes.Buffer
	buf.Grow(len(bu128)*2 + 4)

	for i, b := range bu128 {
		switch i {
		case 4, 6, 8, 10:
			buf.WriteString("-")
		}

		fmt.Fprintf(&buf, "%02x", b)
	}

	return buf.String()
}

func ParseUuid128(s string) (BleUuid128, error) {
	var bu128 BleUuid128

	if len(s) != 36 {
		return bu128, fmt.Errorf("Invalid UUID: %s", s)
	}

	boff := 0
	for i := 0; i < 36; {
		switch i {
		case 8, 13, 18, 23:
			if s[i] != '-' {
				return bu128, fmt.Errorf("Invalid UUID: %s", s)
			}
			i++

		default:
			u64, err := strconv.ParseUint(s[i:i+2], 16, 8)
			if err != nil {
				return bu128, fmt.Errorf("Invalid UUID: %s", s)
			}
			bu128[boff] = byte(u64)
			i += 2
			boff++
		}
	}

	return bu128, nil
}

// Converts a little-endian (over-the-air) 128-bit UUID into string order.
func Uuid128FromLE(b []byte) (BleUuid128, error) {
	var bu128 BleUuid128

	if len(b) != len(bu128) {
		return bu128, fmt.Errorf("Invalid 128-bit UUID length: %d", len(b))
	}
	for i := range bu128 {
		bu128[i] = b[len(b)-1-i]
	}

	return bu128, nil
}

type BleUuid struct {
	// Set to 0 if the 128-bit UUID should be used.
	U16 BleUuid16

	// Zero if the 16-bit UUID should be used.
	U128 BleUuid128
}

func NewBleUuid16(u16 BleUuid16) BleUuid {
	return BleUuid{U16: u16}
}

func NewBleUuid128(u128 BleUuid128) BleUuid {
	return BleUuid{U128: u128}
}

func MustParseUuid(s string) BleUuid {
	bu, err := ParseUuid(s)
	if err != nil {
		panic(err.Error())
	}
	return bu
}

func (bu BleUuid) Is16() bool {
	return bu.U16 != 0
}

func (bu BleUuid) String() string {
	if bu.U16 != 0 {
		return bu.U16.String()
	} else {
		return bu.U128.String()
	}
}

func ParseUuid(uuidStr string) (BleUuid, error) {
	bu := BleUuid{}
	var err error

	// First, try to parse as a 16-bit UUID.
	bu.U16, err = ParseUuid16(uuidStr)
	if err == nil {
		return bu, nil
	}

	// Try to parse as a 128-bit UUID.
	bu.U128, err = ParseUuid128(uuidStr)
	if err == nil {
		return bu, nil
	}

	return bu, err
}

func (bu BleUuid) MarshalJSON() ([]byte, error) {
	if bu.U16 != 0 {
		return json.Marshal(bu.U16)
	} else {
		return json.Marshal(bu.U128.String())
	}
}

func (bu *BleUuid) UnmarshalJSON(data []byte) error {
	var err error

	// If the value is a string, try to parse a UUID from it.
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*bu, err = ParseUuid(s)
		return err
	}

	// Not a string; maybe it's a raw 16-bit number.
	if err = json.Unmarshal(data, &bu.U16); err != nil {
		return err
	}

	return nil
}

// 16-bit UUIDs compare numerically; 128-bit UUIDs compare byte for byte.
func CompareUuids(a BleUuid, b BleUuid) int {
	if a.U16 != 0 || b.U16 != 0 {
		return int(a.U16) - int(b.U16)
	} else {
		return bytes.Compare(a.U128[:], b.U128[:])
	}
}

type BleAdvEventType int

const (
	BLE_ADV_EVENT_IND           BleAdvEventType = 0
	BLE_ADV_EVENT_DIRECT_IND_HD BleAdvEventType = 1
	BLE_ADV_EVENT_SCAN_IND      BleAdvEventType = 2
	BLE_ADV_EVENT_NONCONN_IND   BleAdvEventType = 3
	BLE_ADV_EVENT_SCAN_RSP      BleAdvEventType = 4
)

var BleAdvEventTypeStringMap = map[BleAdvEventType]string{
	BLE_ADV_EVENT_IND:           "ind",
	BLE_ADV_EVENT_DIRECT_IND_HD: "direct_ind_hd",
	BLE_ADV_EVENT_SCAN_IND:      "scan_ind",
	BLE_ADV_EVENT_NONCONN_IND:   "nonconn_ind",
	BLE_ADV_EVENT_SCAN_RSP:      "scan_rsp",
}

func (t BleAdvEventType) String() string {
	s := BleAdvEventTypeStringMap[t]
	if s == "" {
		return "???"
	}

	return s
}

type BleAdvFields struct {
	Data []byte

	// Each field is only present if the sender included it in its
	// advertisement.
	Flags          *uint8
	Uuids16        []BleUuid16
	Uuids128       []BleUuid128
	Name           *string
	NameIsComplete bool
	TxPwrLvl       *int8
	SvcDataUuid16  []byte
	MfgData        []byte
}

type BleAdvReport struct {
	// These fields are always present.
	EventType BleAdvEventType
	Sender    BleDev
	Rssi      int8

	Fields BleAdvFields
}

type BleAdvPredicate func(adv BleAdvReport) bool

type BleChrFlags int

const (
	BLE_GATT_F_BROADCAST       BleChrFlags = 0x01
	BLE_GATT_F_READ            BleChrFlags = 0x02
	BLE_GATT_F_WRITE_NO_RSP    BleChrFlags = 0x04
	BLE_GATT_F_WRITE           BleChrFlags = 0x08
	BLE_GATT_F_NOTIFY          BleChrFlags = 0x10
	BLE_GATT_F_INDICATE        BleChrFlags = 0x20
	BLE_GATT_F_AUTH_SIGN_WRITE BleChrFlags = 0x40
	BLE_GATT_F_EXTENDED        BleChrFlags = 0x80
)

var bleChrFlagNames = []struct {
	flag BleChrFlags
	name string
}{
	{BLE_GATT_F_BROADCAST, "broadcast"},
	{BLE_GATT_F_READ, "read"},
	{BLE_GATT_F_WRITE_NO_RSP, "write_no_rsp"},
	{BLE_GATT_F_WRITE, "write"},
	{BLE_GATT_F_NOTIFY, "notify"},
	{BLE_GATT_F_INDICATE, "indicate"},
	{BLE_GATT_F_AUTH_SIGN_WRITE, "auth_sign_write"},
	{BLE_GATT_F_EXTENDED, "extended"},
}

func (f BleChrFlags) String() string {
	var names []string
	for _, fn := range bleChrFlagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}

	return strings.Join(names, "|")
}

// Authentication requirement attached to GATT reads and writes.
type BleGattAuth int

const (
	BLE_GATT_AUTH_NONE BleGattAuth = iota
	BLE_GATT_AUTH_NO_MITM
	BLE_GATT_AUTH_MITM
)
