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

package config

import (
	"time"

	"github.com/spf13/cast"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/host/sim"
)

var defaultSimAddr = BleAddr{
	Bytes: [6]byte{0xa4, 0xc1, 0x38, 0x5a, 0x1b, 0x2c},
}

// Settings for the simulated peripheral.
type SimConfig struct {
	Addr BleAddr

	// Notification period; zero disables the pump.
	PumpPeriod time.Duration

	// Status injected into every MTU exchange.
	MtuStatus int

	// Number of initial reads whose responses arrive too late.
	LateReads int

	Sesn *SesnConfig
}

func ParseSimConnString(cs string) (*SimConfig, error) {
	m, err := parseKvs(cs)
	if err != nil {
		return nil, err
	}

	sc := &SimConfig{
		Addr:       defaultSimAddr,
		PumpPeriod: time.Second,
	}

	if v, ok := takeKv(m, "addr"); ok {
		sc.Addr, err = ParseBleAddr(v)
		if err != nil {
			return nil, einvalConnString("Invalid addr: %s", v)
		}
	}

	if v, ok := takeKv(m, "pump"); ok {
		sc.PumpPeriod, err = cast.ToDurationE(v)
		if err != nil {
			return nil, einvalConnString("Invalid pump: %s", v)
		}
	}

	if err := takeInt(m, "mtu_status", &sc.MtuStatus); err != nil {
		return nil, err
	}
	if err := takeInt(m, "late_reads", &sc.LateReads); err != nil {
		return nil, err
	}

	sc.Sesn, err = parseSesnKvs(m)
	if err != nil {
		return nil, err
	}

	if err := checkLeftovers(m); err != nil {
		return nil, err
	}

	return sc, nil
}

func BuildSimHost(sc *SimConfig) *sim.Host {
	p := sim.Lywsd03mmc(sc.Addr)
	if sc.PumpPeriod > 0 {
		p.Pump = &sim.Pump{
			ValHandle: sim.HandleSensor,
			Period:    int(sc.PumpPeriod / time.Millisecond),
			Gen:       sim.DriftingReading,
		}
	}

	h := sim.NewHost(p)

	f := sim.Faults{
		MtuStatus: sc.MtuStatus,
	}
	if sc.LateReads > 0 {
		f.LateRsp = map[host.MsgType]int{
			host.MSG_TYPE_READ: sc.LateReads,
		}
		f.LateDelay = 2 * time.Second
	}
	h.SetFaults(f)

	return h
}
