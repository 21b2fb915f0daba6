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
	"encoding/binary"
	"fmt"
	"time"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
)

type Reading struct {
	// Hundredths of a degree Celsius.
	TempCenti int16
	Humidity  uint8

	// Only valid if HasVoltage is set.
	VoltageMv  uint16
	HasVoltage bool

	// False until the first notification has been decoded.
	Received bool
	At       time.Time
}

func (r Reading) Temperature() float64 {
	return float64(r.TempCenti) / 100
}

func (r Reading) Voltage() float64 {
	return float64(r.VoltageMv) / 1000
}

func (r Reading) String() string {
	if !r.Received {
		return "no reading"
	}

	s := fmt.Sprintf("%.2f C, %d %%", r.Temperature(), r.Humidity)
	if r.HasVoltage {
		s += fmt.Sprintf(", %.3f V", r.Voltage())
	}
	return s
}

// Decodes a sensor notification: little-endian signed centidegrees, then
// humidity, then an optional little-endian supply voltage in millivolts.
func DecodeReading(payload []byte) (Reading, error) {
	if len(payload) < MiThermoReadingMinLen {
		return Reading{}, fmt.Errorf(
			"sensor payload too short: have=%d want>=%d",
			len(payload), MiThermoReadingMinLen)
	}

	r := Reading{
		TempCenti: int16(binary.LittleEndian.Uint16(payload[0:2])),
		Humidity:  payload[2],
		Received:  true,
	}

	if len(payload) >= MiThermoReadingVoltLen {
		r.VoltageMv = binary.LittleEndian.Uint16(payload[3:5])
		r.HasVoltage = true
	}

	return r, nil
}

// Enables notifications for a characteristic: registers with the host, then
// writes the client configuration descriptor.  Notifications arriving after
// the call are delivered on the returned listener until the connection goes
// down.
func (c *Conn) Subscribe(chrHandle int, cccHandle int,
	timeout time.Duration) (*NotifyListener, error) {

	var nl *NotifyListener

	fn := func() error {
		c.mtx.Lock()
		if c.notifyMap[chrHandle] == nil {
			c.notifyMap[chrHandle] = NewNotifyListener()
		}
		nl = c.notifyMap[chrHandle]
		c.mtx.Unlock()

		r := host.NewRegNotifyReq(c.connHandle, chrHandle)
		bl, err := c.rxvr.AddListener("reg-notify", SeqKey(r.Seq))
		if err != nil {
			return err
		}
		defer c.rxvr.RemoveListener("reg-notify", bl)

		if err := regNotify(c.bx, bl, r, timeout); err != nil {
			return err
		}

		w := host.NewWriteDscReq(c.connHandle, cccHandle,
			[]byte{CccNotifyEnable, 0x00})
		wbl, err := c.rxvr.AddListener("write-ccc", SeqKey(w.Seq))
		if err != nil {
			return err
		}
		defer c.rxvr.RemoveListener("write-ccc", wbl)

		return writeDsc(c.bx, wbl, w, timeout)
	}

	if err := c.runTask(fn); err != nil {
		return nil, err
	}

	return nl, nil
}
