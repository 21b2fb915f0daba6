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
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"

	"github.com/lywsd/mithermo/mixact/mible"
)

type SerialCfg struct {
	DevPath     string
	Baud        int
	ReadTimeout time.Duration
	SegDelay    time.Duration
}

func NewSerialCfg() SerialCfg {
	return SerialCfg{
		Baud:        115200,
		ReadTimeout: 10 * time.Second,
		SegDelay:    20 * time.Millisecond,
	}
}

// Sends each report as a framed CBOR record to a display controller on a
// serial line.
type SerialSink struct {
	port io.WriteCloser
	fw   *FrameWriter
	mtx  sync.Mutex
}

func OpenSerialSink(cfg SerialCfg) (*SerialSink, error) {
	c := &serial.Config{
		Name:        cfg.DevPath,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}

	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", cfg.DevPath)
	}

	if err := port.Flush(); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "failed to flush %s", cfg.DevPath)
	}

	ss := NewSerialSink(port)
	ss.fw.SegDelay = cfg.SegDelay
	return ss, nil
}

// Frames records onto an already open line.
func NewSerialSink(port io.WriteCloser) *SerialSink {
	return &SerialSink{
		port: port,
		fw:   NewFrameWriter(port),
	}
}

func (ss *SerialSink) Report(info mible.DeviceInfo, r mible.Reading) error {
	b, err := EncodeRecord(FORMAT_CBOR, NewRecord(info, r))
	if err != nil {
		return err
	}

	ss.mtx.Lock()
	defer ss.mtx.Unlock()

	if err := ss.fw.WriteFrame(b); err != nil {
		return errors.Wrap(err, "serial write failed")
	}
	return nil
}

func (ss *SerialSink) Close() error {
	return ss.port.Close()
}
