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

	"github.com/pkg/errors"
	"github.com/ugorji/go/codec"

	"github.com/lywsd/mithermo/mixact/mible"
)

type CodecFormat int

const (
	FORMAT_JSON CodecFormat = iota
	FORMAT_CBOR
)

var codecFormatStringMap = map[CodecFormat]string{
	FORMAT_JSON: "json",
	FORMAT_CBOR: "cbor",
}

func (f CodecFormat) String() string {
	return codecFormatStringMap[f]
}

func ParseCodecFormat(s string) (CodecFormat, error) {
	for f, name := range codecFormatStringMap {
		if s == name {
			return f, nil
		}
	}
	return 0, errors.Errorf("invalid record format: %s", s)
}

func newHandle(f CodecFormat) codec.Handle {
	switch f {
	case FORMAT_CBOR:
		return new(codec.CborHandle)
	default:
		return new(codec.JsonHandle)
	}
}

func EncodeRecord(f CodecFormat, rec Record) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, newHandle(f))
	if err := enc.Encode(rec); err != nil {
		return nil, errors.Wrapf(err, "failed to encode %s record", f)
	}
	return b, nil
}

func DecodeRecord(f CodecFormat, b []byte) (Record, error) {
	rec := Record{}
	dec := codec.NewDecoderBytes(b, newHandle(f))
	if err := dec.Decode(&rec); err != nil {
		return rec, errors.Wrapf(err, "failed to decode %s record", f)
	}
	return rec, nil
}

// Writes one encoded record per report.  JSON records are newline
// terminated; CBOR records are self-delimiting.
type CodecSink struct {
	format CodecFormat
	w      io.Writer
	mtx    sync.Mutex
}

func NewCodecSink(w io.Writer, format CodecFormat) *CodecSink {
	return &CodecSink{
		format: format,
		w:      w,
	}
}

func (cs *CodecSink) Report(info mible.DeviceInfo, r mible.Reading) error {
	b, err := EncodeRecord(cs.format, NewRecord(info, r))
	if err != nil {
		return err
	}
	if cs.format == FORMAT_JSON {
		b = append(b, '\n')
	}

	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	if _, err := cs.w.Write(b); err != nil {
		return errors.Wrap(err, "record write failed")
	}
	return nil
}

// Closes the underlying writer if it is closable.
func (cs *CodecSink) Close() error {
	if c, ok := cs.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
