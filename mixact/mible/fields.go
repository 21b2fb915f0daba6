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
	. "github.com/lywsd/mithermo/mixact/bledefs"
)

// The purpose a characteristic serves in the workflow.
type Role int

const (
	ROLE_MODEL Role = iota
	ROLE_SERIAL
	ROLE_FIRMWARE
	ROLE_HARDWARE
	ROLE_SOFTWARE
	ROLE_BATTERY
	ROLE_SENSOR
	ROLE_DEVICE_NAME
	ROLE_MANUFACTURER
	ROLE_CONN_PARAMS
)

var RoleStringMap = map[Role]string{
	ROLE_MODEL:        "model",
	ROLE_SERIAL:       "serial",
	ROLE_FIRMWARE:     "firmware",
	ROLE_HARDWARE:     "hardware",
	ROLE_SOFTWARE:     "software",
	ROLE_BATTERY:      "battery",
	ROLE_SENSOR:       "sensor",
	ROLE_DEVICE_NAME:  "device_name",
	ROLE_MANUFACTURER: "manufacturer",
	ROLE_CONN_PARAMS:  "conn_params",
}

func (r Role) String() string {
	s := RoleStringMap[r]
	if s == "" {
		return "???"
	}
	return s
}

// How a characteristic's value is rendered into DeviceInfo.
type Format int

const (
	FORMAT_TEXT Format = iota
	FORMAT_PERCENT
	FORMAT_HEX
)

type CharSpec struct {
	Role   Role
	Uuid   BleUuid
	Format Format

	// Read during the sequential read phase.  The sensor characteristic is
	// subscribed to rather than read.
	Read bool
}

// The characteristic table that parameterizes the workflow.  Reads happen
// in table order.
type FieldProfile struct {
	Chrs []CharSpec
}

func DefaultFieldProfile() FieldProfile {
	return FieldProfile{
		Chrs: []CharSpec{
			{ROLE_MODEL, NewBleUuid16(DisModelNumberUuid), FORMAT_TEXT, true},
			{ROLE_SERIAL, NewBleUuid16(DisSerialNumberUuid), FORMAT_TEXT, true},
			{ROLE_FIRMWARE, NewBleUuid16(DisFwRevisionUuid), FORMAT_TEXT, true},
			{ROLE_HARDWARE, NewBleUuid16(DisHwRevisionUuid), FORMAT_TEXT, true},
			{ROLE_SOFTWARE, NewBleUuid16(DisSwRevisionUuid), FORMAT_TEXT, true},
			{ROLE_BATTERY, NewBleUuid16(BasBatteryLevelUuid), FORMAT_PERCENT, true},
			{ROLE_SENSOR, MustParseUuid(MiThermoDataChrUuid), FORMAT_HEX, false},
		},
	}
}

// Adds the optional GAP and DIS fields.  They are read after the default
// ones.
func (fp FieldProfile) WithExtras() FieldProfile {
	extras := []CharSpec{
		{ROLE_DEVICE_NAME, NewBleUuid16(GapDeviceNameUuid), FORMAT_TEXT, true},
		{ROLE_MANUFACTURER, NewBleUuid16(DisManufacturerUuid), FORMAT_TEXT, true},
		{ROLE_CONN_PARAMS, NewBleUuid16(GapConnParamUuid), FORMAT_HEX, true},
	}

	chrs := make([]CharSpec, 0, len(fp.Chrs)+len(extras))
	chrs = append(chrs, fp.Chrs...)
	chrs = append(chrs, extras...)

	return FieldProfile{Chrs: chrs}
}

func (fp FieldProfile) Find(role Role) *CharSpec {
	for i := range fp.Chrs {
		if fp.Chrs[i].Role == role {
			return &fp.Chrs[i]
		}
	}
	return nil
}

// The characteristics read during the read phase, in order.
func (fp FieldProfile) Reads() []CharSpec {
	var specs []CharSpec
	for _, c := range fp.Chrs {
		if c.Read {
			specs = append(specs, c)
		}
	}
	return specs
}
