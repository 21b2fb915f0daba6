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
	"time"

	log "github.com/sirupsen/logrus"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

type ExploreCfg struct {
	// Scanned for if Peer is unset.
	Name string
	Peer *BleDev

	ScanTimeout     time.Duration
	ConnectTimeout  time.Duration
	DiscoverTimeout time.Duration
	ReadTimeout     time.Duration

	Conn ConnCfg

	// Called after each characteristic read attempt.
	ProgressCb func(done int, total int)
}

func NewExploreCfg() ExploreCfg {
	return ExploreCfg{
		Name:            MiThermoDefaultName,
		ScanTimeout:     10 * time.Second,
		ConnectTimeout:  5 * time.Second,
		DiscoverTimeout: time.Second,
		ReadTimeout:     time.Second,
		Conn:            NewConnCfg(),
	}
}

type DscDump struct {
	Uuid   BleUuid
	Handle int
}

type ChrDump struct {
	Uuid       BleUuid
	DefHandle  int
	ValHandle  int
	Properties BleChrFlags
	Value      []byte
	Dscs       []DscDump

	// Empty if the value was read, or was not readable.
	Err string
}

type SvcDump struct {
	Uuid        BleUuid
	StartHandle int
	EndHandle   int
	Chrs        []ChrDump
}

type Exploration struct {
	Peer BleDev
	Mtu  int
	Svcs []SvcDump
}

func countReadable(p *Profile) int {
	n := 0
	for _, s := range p.Services() {
		for _, c := range s.Chrs {
			if c.Properties&BLE_GATT_F_READ != 0 {
				n++
			}
		}
	}
	return n
}

// Connects to a peer, enumerates its whole GATT database and reads every
// readable characteristic.  A failed read only affects its own
// characteristic; losing the link aborts the exploration.
func Explore(bx *Xport, cfg ExploreCfg) (*Exploration, error) {
	var dev BleDev
	if cfg.Peer != nil {
		dev = *cfg.Peer
	} else {
		s := NewScanner(bx)
		d, err := s.FindTarget(cfg.Name, cfg.ScanTimeout)
		if err != nil {
			return nil, err
		}
		dev = d
	}

	conn := NewConn(bx, cfg.Conn)
	if err := conn.Connect(dev, cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	defer conn.Close()

	p, err := conn.DiscoverAll(cfg.DiscoverTimeout)
	if err != nil {
		return nil, err
	}

	x := &Exploration{
		Peer: dev,
		Mtu:  conn.AttMtu(),
	}

	total := countReadable(p)
	done := 0

	for _, s := range p.Services() {
		sd := SvcDump{
			Uuid:        s.Uuid,
			StartHandle: s.StartHandle,
			EndHandle:   s.EndHandle,
		}

		for _, c := range s.Chrs {
			cd := ChrDump{
				Uuid:       c.Uuid,
				DefHandle:  c.DefHandle,
				ValHandle:  c.ValHandle,
				Properties: c.Properties,
			}
			for _, d := range c.Dscs {
				cd.Dscs = append(cd.Dscs, DscDump{
					Uuid:   d.Uuid,
					Handle: d.Handle,
				})
			}

			if c.Properties&BLE_GATT_F_READ != 0 {
				rb, err := conn.ReadChr(c.ValHandle, cfg.ReadTimeout)
				switch {
				case err == nil && rb != nil:
					cd.Value = append([]byte(nil), rb.Bytes()...)
					rb.Release()

				case err != nil && mixutil.IsConnClosed(err):
					return nil, err

				case err != nil:
					log.Debugf("read of %s failed: %s", c.String(),
						err.Error())
					cd.Err = err.Error()
				}

				done++
				if cfg.ProgressCb != nil {
					cfg.ProgressCb(done, total)
				}
			}

			sd.Chrs = append(sd.Chrs, cd)
		}

		x.Svcs = append(x.Svcs, sd)
	}

	return x, nil
}
