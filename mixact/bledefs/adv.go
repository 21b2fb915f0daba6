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
	"encoding/binary"
	"fmt"
)

// Advertising data (AD) structure types.
const (
	BLE_HS_ADV_TYPE_FLAGS           = 0x01
	BLE_HS_ADV_TYPE_INCOMP_UUIDS16  = 0x02
	BLE_HS_ADV_TYPE_COMP_UUIDS16    = 0x03
	BLE_HS_ADV_TYPE_INCOMP_UUIDS128 = 0x06
	BLE_HS_ADV_TYPE_COMP_UUIDS128   = 0x07
	BLE_HS_ADV_TYPE_INCOMP_NAME     = 0x08
	BLE_HS_ADV_TYPE_COMP_NAME       = 0x09
	BLE_HS_ADV_TYPE_TX_PWR_LVL      = 0x0a
	BLE_HS_ADV_TYPE_SVC_DATA_UUID16 = 0x16
	BLE_HS_ADV_TYPE_MFG_DATA        = 0xff
)

// Longest legacy advertisement payload.
const BLE_HS_ADV_MAX_SZ = 31

// Parses a raw advertisement payload into its fields.  A truncated trailing
// structure is an error; fields decoded before it are still returned.
func ParseAdvFields(data []byte) (BleAdvFields, error) {
	f := BleAdvFields{
		Data: data,
	}

	off := 0
	for off < len(data) {
		elen := int(data[off])
		if elen == 0 {
			// Zero-length structures pad the remainder.
			break
		}
		if off+1+elen > len(data) {
			return f, fmt.Errorf(
				"truncated advertisement field at offset %d: len=%d avail=%d",
				off, elen, len(data)-off-1)
		}

		typ := data[off+1]
		val := data[off+2 : off+1+elen]

		switch typ {
		case BLE_HS_ADV_TYPE_FLAGS:
			if len(val) >= 1 {
				flags := val[0]
				f.Flags = &flags
			}

		case BLE_HS_ADV_TYPE_INCOMP_UUIDS16, BLE_HS_ADV_TYPE_COMP_UUIDS16:
			for i := 0; i+2 <= len(val); i += 2 {
				f.Uuids16 = append(f.Uuids16,
					BleUuid16(binary.LittleEndian.Uint16(val[i:])))
			}

		case BLE_HS_ADV_TYPE_INCOMP_UUIDS128, BLE_HS_ADV_TYPE_COMP_UUIDS128:
			for i := 0; i+16 <= len(val); i += 16 {
				u128, _ := Uuid128FromLE(val[i : i+16])
				f.Uuids128 = append(f.Uuids128, u128)
			}

		case BLE_HS_ADV_TYPE_INCOMP_NAME, BLE_HS_ADV_TYPE_COMP_NAME:
			// A complete name always wins over a shortened one.
			if f.Name == nil || !f.NameIsComplete {
				name := string(val)
				f.Name = &name
				f.NameIsComplete = typ == BLE_HS_ADV_TYPE_COMP_NAME
			}

		case BLE_HS_ADV_TYPE_TX_PWR_LVL:
			if len(val) >= 1 {
				lvl := int8(val[0])
				f.TxPwrLvl = &lvl
			}

		case BLE_HS_ADV_TYPE_SVC_DATA_UUID16:
			f.SvcDataUuid16 = append([]byte(nil), val...)

		case BLE_HS_ADV_TYPE_MFG_DATA:
			f.MfgData = append([]byte(nil), val...)
		}

		off += 1 + elen
	}

	return f, nil
}

// Returns the complete local name, or false if the advertisement carries no
// complete name.
func (f *BleAdvFields) CompleteName() (string, bool) {
	if f.Name == nil || !f.NameIsComplete {
		return "", false
	}
	return *f.Name, true
}

func appendAdvField(b []byte, typ byte, val []byte) []byte {
	b = append(b, byte(len(val)+1), typ)
	return append(b, val...)
}

// Builds a raw advertisement payload from the populated fields.
func BuildAdvData(f BleAdvFields) ([]byte, error) {
	var b []byte

	if f.Flags != nil {
		b = appendAdvField(b, BLE_HS_ADV_TYPE_FLAGS, []byte{*f.Flags})
	}

	if len(f.Uuids16) > 0 {
		val := make([]byte, 0, 2*len(f.Uuids16))
		for _, u := range f.Uuids16 {
			val = append(val, byte(u), byte(u>>8))
		}
		b = appendAdvField(b, BLE_HS_ADV_TYPE_COMP_UUIDS16, val)
	}

	if len(f.Uuids128) > 0 {
		val := make([]byte, 0, 16*len(f.Uuids128))
		for _, u := range f.Uuids128 {
			for i := len(u) - 1; i >= 0; i-- {
				val = append(val, u[i])
			}
		}
		b = appendAdvField(b, BLE_HS_ADV_TYPE_COMP_UUIDS128, val)
	}

	if f.Name != nil {
		typ := byte(BLE_HS_ADV_TYPE_INCOMP_NAME)
		if f.NameIsComplete {
			typ = BLE_HS_ADV_TYPE_COMP_NAME
		}
		b = appendAdvField(b, typ, []byte(*f.Name))
	}

	if f.TxPwrLvl != nil {
		b = appendAdvField(b, BLE_HS_ADV_TYPE_TX_PWR_LVL,
			[]byte{byte(*f.TxPwrLvl)})
	}

	if len(f.SvcDataUuid16) > 0 {
		b = appendAdvField(b, BLE_HS_ADV_TYPE_SVC_DATA_UUID16, f.SvcDataUuid16)
	}

	if len(f.MfgData) > 0 {
		b = appendAdvField(b, BLE_HS_ADV_TYPE_MFG_DATA, f.MfgData)
	}

	if len(b) > BLE_HS_ADV_MAX_SZ {
		return nil, fmt.Errorf("advertisement too long: %d > %d",
			len(b), BLE_HS_ADV_MAX_SZ)
	}

	return b, nil
}

// Convenience helper: flags + complete local name.
func NameAdvData(name string) []byte {
	flags := uint8(0x06)
	b, err := BuildAdvData(BleAdvFields{
		Flags:          &flags,
		Name:           &name,
		NameIsComplete: true,
	})
	if err != nil {
		// Overlong names are truncated to a shortened-name field.
		short := name
		if len(short) > BLE_HS_ADV_MAX_SZ-5 {
			short = short[:BLE_HS_ADV_MAX_SZ-5]
		}
		b, _ = BuildAdvData(BleAdvFields{
			Flags: &flags,
			Name:  &short,
		})
	}
	return b
}
