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
	"bytes"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

// Matches an advertisement whose complete local name is byte-for-byte equal
// to the specified name.  Shortened names never match.
func CompleteNamePred(name string) BleAdvPredicate {
	want := []byte(name)
	return func(r BleAdvReport) bool {
		got, ok := r.Fields.CompleteName()
		return ok && bytes.Equal([]byte(got), want)
	}
}

// Listens for advertisements and reports the first that matches a
// predicate.
type Scanner struct {
	bx        *Xport
	rxvr      *Receiver
	abortChan chan struct{}
	mtx       sync.Mutex

	// Timeout for the scan-cancel handshake.
	CancelTimeout time.Duration
}

func NewScanner(bx *Xport) *Scanner {
	return &Scanner{
		bx:            bx,
		rxvr:          NewReceiver(mixutil.GetNextId(), bx, 1),
		CancelTimeout: time.Second,
	}
}

func (s *Scanner) scanCancel() error {
	r := host.NewScanCancelReq()

	bl, err := s.rxvr.AddListener("scan-cancel", SeqKey(r.Seq))
	if err != nil {
		return err
	}
	defer s.rxvr.RemoveListener("scan-cancel", bl)

	if err := scanCancel(s.bx, bl, r, s.CancelTimeout); err != nil {
		// Ignore ealready errors; the scan already ended.
		bhe := mixutil.ToBleHost(err)
		if bhe == nil || bhe.Status != host.ERR_CODE_EALREADY {
			return err
		}
	}

	return nil
}

// Scans until a matching advertisement arrives or the timeout expires.  On a
// match the scan is cancelled and the sender is returned.
func (s *Scanner) Discover(pred BleAdvPredicate, timeout time.Duration) (
	BleAdvReport, error) {

	s.mtx.Lock()
	if s.abortChan != nil {
		s.mtx.Unlock()
		return BleAdvReport{}, mixutil.NewAlreadyError(
			"attempt to start BLE scanner twice")
	}
	abortChan := make(chan struct{})
	s.abortChan = abortChan
	s.mtx.Unlock()

	defer func() {
		s.mtx.Lock()
		s.abortChan = nil
		s.mtx.Unlock()
	}()

	r := host.NewScanReq(int(timeout / time.Millisecond))

	bl, err := s.rxvr.AddListener("scan", SeqKey(r.Seq))
	if err != nil {
		return BleAdvReport{}, err
	}
	defer s.rxvr.RemoveListener("scan", bl)

	if err := s.bx.Tx(r); err != nil {
		return BleAdvReport{}, err
	}

	tmoChan := bl.AfterTimeout(timeout)
	for {
		select {
		case err := <-bl.ErrChan:
			return BleAdvReport{}, err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.ScanEvt:
				rpt := scanEvtToReport(msg)
				if !pred(rpt) {
					continue
				}

				log.Debugf("BLE scan match: %s type=%s rssi=%d",
					rpt.Sender.String(), rpt.EventType.String(), rpt.Rssi)
				if err := s.scanCancel(); err != nil {
					log.Debugf("failed to cancel scan: %s", err.Error())
				}
				return rpt, nil

			case *host.ScanCompleteEvt:
				return BleAdvReport{}, mixutil.NewScanTmoError(
					"scan completed without finding the peer")

			default:
			}

		case <-tmoChan:
			if err := s.scanCancel(); err != nil {
				log.Debugf("failed to cancel scan: %s", err.Error())
			}
			return BleAdvReport{}, mixutil.NewScanTmoError(
				"scan timed out without finding the peer")

		case <-abortChan:
			if err := s.scanCancel(); err != nil {
				log.Debugf("failed to cancel scan: %s", err.Error())
			}
			return BleAdvReport{}, mixutil.NewConnClosedError(0,
				"scan aborted")
		}
	}
}

// Blocks until an advertisement with the specified complete local name
// arrives.
func (s *Scanner) FindTarget(name string, timeout time.Duration) (
	BleDev, error) {

	rpt, err := s.Discover(CompleteNamePred(name), timeout)
	if err != nil {
		return BleDev{}, err
	}

	return rpt.Sender, nil
}

// Aborts an in-progress scan.
func (s *Scanner) Stop() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.abortChan != nil {
		close(s.abortChan)
		s.abortChan = nil
	}
}
