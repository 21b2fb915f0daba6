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
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/mible"
)

func testInfo() mible.DeviceInfo {
	addr, _ := ParseBleAddr("a4:c1:38:5a:1b:2c")
	return mible.DeviceInfo{
		Peer:         BleDev{AddrType: BLE_ADDR_TYPE_PUBLIC, Addr: addr},
		Model:        "LYWSD03MMC",
		Serial:       "F1.0-CFMK-LB-ZCXTJ--",
		Firmware:     "1.0.0_0130",
		Battery:      99,
		BatteryKnown: true,
	}
}

func testReading() mible.Reading {
	return mible.Reading{
		TempCenti:  2832,
		Humidity:   60,
		VoltageMv:  2956,
		HasVoltage: true,
		Received:   true,
		At:         time.Date(2020, 5, 17, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewRecord(t *testing.T) {
	rec := NewRecord(testInfo(), testReading())

	assert.Equal(t, testInfo().Peer.String(), rec.Peer)
	assert.Equal(t, 28.32, rec.Temp)
	assert.Equal(t, 60, rec.Humidity)
	assert.Equal(t, 2956, rec.VoltageMv)
	assert.Equal(t, 99, rec.Battery)
	assert.Equal(t, "2020-05-17T12:00:00Z", rec.At)

	r := testReading()
	r.HasVoltage = false
	info := testInfo()
	info.BatteryKnown = false

	rec = NewRecord(info, r)
	assert.Zero(t, rec.VoltageMv)
	assert.Zero(t, rec.Battery)
}

func TestLogSink(t *testing.T) {
	logger, hook := test.NewNullLogger()

	ls := NewLogSink(logger)
	require.NoError(t, ls.Report(testInfo(), testReading()))
	require.NoError(t, ls.Close())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "reading", entry.Message)
	assert.Equal(t, 28.32, entry.Data["temp"])
	assert.Equal(t, 60, entry.Data["humidity"])
	assert.Equal(t, "LYWSD03MMC", entry.Data["model"])
}

func TestCodecSinkJson(t *testing.T) {
	buf := &bytes.Buffer{}
	cs := NewCodecSink(buf, FORMAT_JSON)

	require.NoError(t, cs.Report(testInfo(), testReading()))
	require.NoError(t, cs.Report(testInfo(), testReading()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"humidity":60`)

	rec, err := DecodeRecord(FORMAT_JSON, []byte(lines[1]))
	require.NoError(t, err)
	assert.Equal(t, NewRecord(testInfo(), testReading()), rec)
}

func TestCodecSinkCbor(t *testing.T) {
	buf := &bytes.Buffer{}
	cs := NewCodecSink(buf, FORMAT_CBOR)

	require.NoError(t, cs.Report(testInfo(), testReading()))

	rec, err := DecodeRecord(FORMAT_CBOR, buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, NewRecord(testInfo(), testReading()), rec)
}

func TestParseCodecFormat(t *testing.T) {
	f, err := ParseCodecFormat("cbor")
	require.NoError(t, err)
	assert.Equal(t, FORMAT_CBOR, f)

	_, err = ParseCodecFormat("xml")
	assert.Error(t, err)
}

type failSink struct {
	reports int
	err     error
}

func (fs *failSink) Report(info mible.DeviceInfo, r mible.Reading) error {
	fs.reports++
	return fs.err
}

func (fs *failSink) Close() error {
	return fs.err
}

func TestMulti(t *testing.T) {
	a := &failSink{err: fmt.Errorf("display gone")}
	b := &failSink{}

	m := Multi{a, b}
	assert.EqualError(t, m.Report(testInfo(), testReading()), "display gone")
	assert.Equal(t, 1, a.reports)
	assert.Equal(t, 1, b.reports, "a failing sink must not starve the rest")

	assert.EqualError(t, m.Close(), "display gone")
	assert.Len(t, Reporters(a, b), 2)
}

func TestFrameRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 50, 91, 92, 300} {
		payload := make([]byte, n)
		for i := range payload {
			payload[i] = byte(i * 7)
		}

		buf := &bytes.Buffer{}
		fw := NewFrameWriter(buf)
		fw.SegDelay = 0
		require.NoError(t, fw.WriteFrame(payload))

		for _, line := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
			assert.True(t, len(line) <= frameLineMax+2, "line too long: %d", len(line))
		}

		fr := NewFrameReader(buf)
		b, err := fr.ReadFrame()
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, payload, b, "n=%d", n)

		_, err = fr.ReadFrame()
		assert.Equal(t, io.EOF, err)
	}
}

func TestFrameReaderSkipsNoise(t *testing.T) {
	buf := &bytes.Buffer{}
	buf.WriteString("console output\r\n")

	fw := NewFrameWriter(buf)
	fw.SegDelay = 0
	require.NoError(t, fw.WriteFrame([]byte("hello")))

	b, err := NewFrameReader(buf).ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)
}

func TestFrameReaderCrc(t *testing.T) {
	body, err := base64.StdEncoding.DecodeString(
		string(encodeFrame([]byte("hello"))))
	require.NoError(t, err)

	// Corrupt the payload; the encoded length stays valid.
	body[2] ^= 0x01

	raw := append([]byte{}, frameStart...)
	raw = append(raw, base64.StdEncoding.EncodeToString(body)...)
	raw = append(raw, '\n')

	_, err = NewFrameReader(bytes.NewReader(raw)).ReadFrame()
	assert.EqualError(t, err, "CRC error")
}

type nopCloser struct {
	io.Writer
	closed bool
}

func (nc *nopCloser) Close() error {
	nc.closed = true
	return nil
}

func TestSerialSink(t *testing.T) {
	nc := &nopCloser{Writer: &bytes.Buffer{}}
	ss := NewSerialSink(nc)
	ss.fw.SegDelay = 0

	require.NoError(t, ss.Report(testInfo(), testReading()))

	b, err := NewFrameReader(nc.Writer.(*bytes.Buffer)).ReadFrame()
	require.NoError(t, err)

	rec, err := DecodeRecord(FORMAT_CBOR, b)
	require.NoError(t, err)
	assert.Equal(t, NewRecord(testInfo(), testReading()), rec)

	require.NoError(t, ss.Close())
	assert.True(t, nc.closed)
}
