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

type Descriptor struct {
	Uuid   BleUuid
	Handle int
}

type Characteristic struct {
	Uuid       BleUuid
	DefHandle  int
	ValHandle  int
	Properties BleChrFlags
	Dscs       []*Descriptor
}

type Service struct {
	Uuid        BleUuid
	StartHandle int
	EndHandle   int
	Chrs        []*Characteristic
}

// The GATT layout of a peer as discovered over one connection.
type Profile struct {
	svcs  []Service
	attrs map[int]*Characteristic
}

func (c *Characteristic) String() string {
	return c.Uuid.String()
}

func (c *Characteristic) SubscribeType() BleChrFlags {
	if c.Properties&BLE_GATT_F_NOTIFY != 0 {
		return BLE_GATT_F_NOTIFY
	} else {
		return c.Properties & BLE_GATT_F_INDICATE
	}
}

func NewProfile() Profile {
	return Profile{
		attrs: map[int]*Characteristic{},
	}
}

func (p *Profile) Services() []Service {
	return p.svcs
}

func (p *Profile) SetServices(svcs []Service) {
	p.svcs = svcs
	p.attrs = map[int]*Characteristic{}

	for _, s := range svcs {
		for _, c := range s.Chrs {
			p.attrs[c.ValHandle] = c
		}
	}
}

// Returns the first characteristic with the specified UUID, in any service.
func (p *Profile) FindChrByUuid(uuid BleUuid) *Characteristic {
	for _, s := range p.svcs {
		for _, c := range s.Chrs {
			if CompareUuids(uuid, c.Uuid) == 0 {
				return c
			}
		}
	}

	return nil
}

func (p *Profile) FindChrByHandle(handle int) *Characteristic {
	return p.attrs[handle]
}

func FindDscByUuid(chr *Characteristic, uuid BleUuid) *Descriptor {
	for _, d := range chr.Dscs {
		if CompareUuids(uuid, d.Uuid) == 0 {
			return d
		}
	}

	return nil
}
