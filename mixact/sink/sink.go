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

package sink

import (
	"time"

	"github.com/lywsd/mithermo/mixact/mible"
)

type Sink interface {
	mible.Reporter
	Close() error
}

// Flattened form of a report; shared by every sink.
type Record struct {
	Peer      string  `codec:"peer" structs:"peer"`
	Model     string  `codec:"model,omitempty" structs:"model,omitempty"`
	Serial    string  `codec:"serial,omitempty" structs:"serial,omitempty"`
	Firmware  string  `codec:"firmware,omitempty" structs:"firmware,omitempty"`
	Temp      float64 `codec:"temp" structs:"temp"`
	Humidity  int     `codec:"humidity" structs:"humidity"`
	VoltageMv int     `codec:"voltage_mv,omitempty" structs:"voltage_mv,omitempty"`
	Battery   int     `codec:"battery,omitempty" structs:"battery,omitempty"`
	At        string  `codec:"at" structs:"at"`
}

func NewRecord(info mible.DeviceInfo, r mible.Reading) Record {
	rec := Record{
		Peer:     info.Peer.String(),
		Model:    info.Model,
		Serial:   info.Serial,
		Firmware: info.Firmware,
		Temp:     r.Temperature(),
		Humidity: int(r.Humidity),
		At:       r.At.UTC().Format(time.RFC3339Nano),
	}

	if r.HasVoltage {
		rec.VoltageMv = int(r.VoltageMv)
	}
	if info.BatteryKnown {
		rec.Battery = info.Battery
	}

	return rec
}

// Fans a report out to several sinks.  Every sink sees every report; the
// first error is returned.
type Multi []Sink

func (m Multi) Report(info mible.DeviceInfo, r mible.Reading) error {
	var first error
	for _, s := range m {
		if err := s.Report(info, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Converts a sink list into the form a session config accepts.
func Reporters(sinks ...Sink) []mible.Reporter {
	reps := make([]mible.Reporter, len(sinks))
	for i, s := range sinks {
		reps[i] = s
	}
	return reps
}
