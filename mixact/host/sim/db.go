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
	. "github.com/lywsd/mithermo/mixact/bledefs"
)

type Dsc struct {
	Handle int
	Uuid   BleUuid
	Value  []byte
}

type Chr struct {
	DefHandle int
	ValHandle int
	Uuid      BleUuid
	Props     BleChrFlags
	Value     []byte
	Dscs      []Dsc
}

type Svc struct {
	StartHandle int
	EndHandle   int
	Uuid        BleUuid
	Chrs        []Chr
}

// Periodically pushes notifications for one characteristic while a central
// has registered for them.
type Pump struct {
	ValHandle int
	Period    int // milliseconds
	Gen       func(n int) []byte
}

type Peripheral struct {
	// Advertised complete local name.  Ignored if AdvData is set.
	Name     string
	AdvData  []byte
	Addr     BleAddr
	AddrType BleAddrType
	Rssi     int8

	// Largest ATT MTU the peripheral accepts.
	Mtu int

	Svcs []Svc
	Pump *Pump
}

func (p *Peripheral) advData() []byte {
	if p.AdvData != nil {
		return p.AdvData
	}
	return NameAdvData(p.Name)
}

func (p *Peripheral) findChrByValHandle(handle int) *Chr {
	for i := range p.Svcs {
		for j := range p.Svcs[i].Chrs {
			c := &p.Svcs[i].Chrs[j]
			if c.ValHandle == handle {
				return c
			}
		}
	}
	return nil
}

func (p *Peripheral) findDsc(handle int) *Dsc {
	for i := range p.Svcs {
		for j := range p.Svcs[i].Chrs {
			c := &p.Svcs[i].Chrs[j]
			for k := range c.Dscs {
				if c.Dscs[k].Handle == handle {
					return &c.Dscs[k]
				}
			}
		}
	}
	return nil
}

// Fixture values served by the default thermometer layout.
const (
	FixtureDeviceName = MiThermoDefaultName
	FixtureModel      = "LYWSD03MMC"
	FixtureSerial     = "F1.0-CFMK-LB-ZCXTJ--"
	FixtureFirmware   = "2.1.1_0159"
	FixtureHardware   = "B1.4"
	FixtureSoftware   = "0159"
	FixtureVendor     = "miaomiaoce.com"
	FixtureBattery    = 99
)

// Attribute handles of the default thermometer layout.
const (
	HandleModel     = 0x12
	HandleSerial    = 0x14
	HandleFirmware  = 0x16
	HandleHardware  = 0x18
	HandleSoftware  = 0x1a
	HandleVendor    = 0x1c
	HandleBattery   = 0x22
	HandleBattCcc   = 0x23
	HandleSensor    = 0x36
	HandleSensorCcc = 0x37
)

// 28.32 degrees, 60 %, 2956 mV.
var FixtureReading = []byte{0x10, 0x0b, 0x3c, 0x8c, 0x0b}

func strChr(def int, uuid BleUuid16, val string) Chr {
	return Chr{
		DefHandle: def,
		ValHandle: def + 1,
		Uuid:      NewBleUuid16(uuid),
		Props:     BLE_GATT_F_READ,
		Value:     []byte(val),
	}
}

func ccc(handle int) Dsc {
	return Dsc{
		Handle: handle,
		Uuid:   NewBleUuid16(ClientChrCfgUuid),
		Value:  []byte{0x00, 0x00},
	}
}

// Builds a peripheral with the GATT layout of a stock LYWSD03MMC.
func Lywsd03mmc(addr BleAddr) Peripheral {
	return Peripheral{
		Name:     FixtureDeviceName,
		Addr:     addr,
		AddrType: BLE_ADDR_TYPE_PUBLIC,
		Rssi:     -60,
		Mtu:      247,
		Svcs: []Svc{
			{
				StartHandle: 0x01,
				EndHandle:   0x07,
				Uuid:        NewBleUuid16(GapSvcUuid),
				Chrs: []Chr{
					strChr(0x02, GapDeviceNameUuid, FixtureDeviceName),
					{
						DefHandle: 0x04,
						ValHandle: 0x05,
						Uuid:      NewBleUuid16(GapConnParamUuid),
						Props:     BLE_GATT_F_READ,
						Value:     []byte{0x18, 0x00, 0x28, 0x00, 0x00, 0x00, 0x90, 0x01},
					},
				},
			},
			{
				StartHandle: 0x10,
				EndHandle:   0x1e,
				Uuid:        NewBleUuid16(DisSvcUuid),
				Chrs: []Chr{
					strChr(0x11, DisModelNumberUuid, FixtureModel),
					strChr(0x13, DisSerialNumberUuid, FixtureSerial),
					strChr(0x15, DisFwRevisionUuid, FixtureFirmware),
					strChr(0x17, DisHwRevisionUuid, FixtureHardware),
					strChr(0x19, DisSwRevisionUuid, FixtureSoftware),
					strChr(0x1b, DisManufacturerUuid, FixtureVendor),
				},
			},
			{
				StartHandle: 0x20,
				EndHandle:   0x24,
				Uuid:        NewBleUuid16(BasSvcUuid),
				Chrs: []Chr{
					{
						DefHandle: 0x21,
						ValHandle: HandleBattery,
						Uuid:      NewBleUuid16(BasBatteryLevelUuid),
						Props:     BLE_GATT_F_READ | BLE_GATT_F_NOTIFY,
						Value:     []byte{FixtureBattery},
						Dscs:      []Dsc{ccc(HandleBattCcc)},
					},
				},
			},
			{
				StartHandle: 0x30,
				EndHandle:   0x40,
				Uuid:        MustParseUuid(MiThermoSvcUuid),
				Chrs: []Chr{
					{
						DefHandle: 0x31,
						ValHandle: 0x32,
						Uuid:      MustParseUuid("EBE0CCB7-7A0A-4B0C-8A1A-6FF2997DA3A6"),
						Props:     BLE_GATT_F_READ | BLE_GATT_F_WRITE,
						Value:     []byte{0x00, 0x00, 0x00, 0x00, 0x00},
					},
					{
						DefHandle: 0x35,
						ValHandle: HandleSensor,
						Uuid:      MustParseUuid(MiThermoDataChrUuid),
						Props:     BLE_GATT_F_READ | BLE_GATT_F_NOTIFY,
						Value:     append([]byte(nil), FixtureReading...),
						Dscs: []Dsc{
							ccc(HandleSensorCcc),
							{
								Handle: 0x38,
								Uuid:   NewBleUuid16(0x2901),
								Value:  []byte("Temperature and Humidity"),
							},
						},
					},
				},
			},
		},
	}
}

// Notification generator that walks the temperature up by 0.01 degree per
// push, starting from the fixture reading.
func DriftingReading(n int) []byte {
	b := append([]byte(nil), FixtureReading...)
	t := int(int16(uint16(b[0])|uint16(b[1])<<8)) + n
	b[0] = byte(t)
	b[1] = byte(t >> 8)
	return b
}
