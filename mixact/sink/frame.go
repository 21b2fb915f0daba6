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
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/joaojeronimo/go-crc16"
	log "github.com/sirupsen/logrus"
)

// Shell framing: a big-endian length, the payload and its CRC16, base64
// encoded and split into lines.  The first line starts with 6,9; the rest
// start with 4,20.
var (
	frameStart = []byte{6, 9}
	frameCont  = []byte{4, 20}
)

// Each line must fit in the receiver's 128-byte buffer along with its
// designator and line ending; a multiple of 4 keeps base64 groups whole.
const frameLineMax = 124

type FrameWriter struct {
	w io.Writer

	// Pause between segments; slow receivers have tiny buffers.
	SegDelay time.Duration
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		w:        w,
		SegDelay: 20 * time.Millisecond,
	}
}

func (fw *FrameWriter) txRaw(b []byte) error {
	_, err := fw.w.Write(b)
	return err
}

func encodeFrame(payload []byte) []byte {
	crc := make([]byte, 2)
	binary.BigEndian.PutUint16(crc, crc16.Crc16(payload))

	body := make([]byte, 2, 2+len(payload)+2)
	binary.BigEndian.PutUint16(body, uint16(len(payload)+2))
	body = append(body, payload...)
	body = append(body, crc...)

	enc := make([]byte, base64.StdEncoding.EncodedLen(len(body)))
	base64.StdEncoding.Encode(enc, body)
	return enc
}

func (fw *FrameWriter) WriteFrame(payload []byte) error {
	log.Debugf("Tx frame\n%s", hex.Dump(payload))

	enc := encodeFrame(payload)

	for written := 0; written < len(enc); {
		if written == 0 {
			if err := fw.txRaw(frameStart); err != nil {
				return err
			}
		} else {
			if fw.SegDelay > 0 {
				time.Sleep(fw.SegDelay)
			}
			if err := fw.txRaw(frameCont); err != nil {
				return err
			}
		}

		n := len(enc) - written
		if n > frameLineMax {
			n = frameLineMax
		}

		if err := fw.txRaw(enc[written : written+n]); err != nil {
			return err
		}
		if err := fw.txRaw([]byte{'\n'}); err != nil {
			return err
		}

		written += n
	}

	return nil
}

// Reassembles frames written by a FrameWriter.  Lines without a frame
// designator are skipped.
type FrameReader struct {
	scanner *bufio.Scanner
	pkt     *bytes.Buffer
	want    int
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{
		scanner: bufio.NewScanner(r),
	}
}

// Returns io.EOF once the input is exhausted.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for fr.scanner.Scan() {
		line := bytes.TrimLeft(fr.scanner.Bytes(), "\r")
		if len(line) < 2 {
			continue
		}

		start := bytes.HasPrefix(line, frameStart)
		if !start && !bytes.HasPrefix(line, frameCont) {
			continue
		}

		data, err := base64.StdEncoding.DecodeString(string(line[2:]))
		if err != nil {
			return nil, fmt.Errorf("Couldn't decode base64 string: %s",
				line[2:])
		}

		if start {
			if len(data) < 2 {
				continue
			}
			fr.want = int(binary.BigEndian.Uint16(data[0:2]))
			fr.pkt = bytes.NewBuffer(nil)
			data = data[2:]
		}

		if fr.pkt == nil {
			continue
		}

		fr.pkt.Write(data)
		if fr.pkt.Len() < fr.want {
			continue
		}

		b := fr.pkt.Bytes()
		fr.pkt = nil

		if len(b) < 2 || crc16.Crc16(b) != 0 {
			return nil, fmt.Errorf("CRC error")
		}

		return b[:len(b)-2], nil
	}

	if err := fr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
