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
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

// Each function in this file transmits one request and blocks until its
// terminal event, an error on the listener, or the timeout.  The caller owns
// the listener and removes it afterwards; an event that arrives after that is
// dropped by the dispatcher.

func StatusError(msgType host.MsgType, status int) error {
	str := fmt.Sprintf("%s indicates error: %s (%d)",
		host.MsgTypeToString(msgType),
		host.ErrCodeToString(status),
		status)

	log.Debug(str)
	return mixutil.NewBleHostError(status, str)
}

func tmoError(msgType host.MsgType, tmo time.Duration) error {
	return mixutil.FmtTimeoutError(host.MsgTypeToString(msgType),
		"no response after %s", tmo.String())
}

func closeEvt(bx *Xport, bl *Listener, r *host.CloseReq,
	tmo time.Duration) error {

	if err := bx.Tx(r); err != nil {
		return err
	}

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.CloseEvt:
				if msg.Status != 0 {
					return StatusError(host.MSG_TYPE_CLOSE_EVT, msg.Status)
				}
				return nil

			default:
			}

		case <-tmoChan:
			return tmoError(host.MSG_TYPE_CLOSE, tmo)
		}
	}
}

func scanCancel(bx *Xport, bl *Listener, r *host.ScanCancelReq,
	tmo time.Duration) error {

	if err := bx.Tx(r); err != nil {
		return err
	}

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.ScanCancelEvt:
				if msg.Status != 0 {
					return StatusError(host.MSG_TYPE_SCAN_CANCEL_EVT,
						msg.Status)
				}
				return nil

			default:
			}

		case <-tmoChan:
			return tmoError(host.MSG_TYPE_SCAN_CANCEL, tmo)
		}
	}
}

func discAllSvcs(bx *Xport, bl *Listener, r *host.DiscAllSvcsReq,
	tmo time.Duration) ([]host.DiscSvc, error) {

	if err := bx.Tx(r); err != nil {
		return nil, err
	}

	var svcs []host.DiscSvc

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return nil, err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.DiscSvcEvt:
				switch msg.Status {
				case 0:
					svcs = append(svcs, msg.Svc)
				case host.ERR_CODE_EDONE:
					return svcs, nil
				default:
					return nil, StatusError(host.MSG_TYPE_DISC_SVC_EVT,
						msg.Status)
				}

			case *host.SvcDiscCmplEvt:
				if msg.Status != 0 && msg.Status != host.ERR_CODE_EDONE {
					return nil, StatusError(host.MSG_TYPE_SVC_DISC_CMPL_EVT,
						msg.Status)
				}
				return svcs, nil

			default:
			}

		case <-tmoChan:
			return nil, tmoError(host.MSG_TYPE_DISC_ALL_SVCS, tmo)
		}
	}
}

func discAllChrs(bx *Xport, bl *Listener, r *host.DiscAllChrsReq,
	tmo time.Duration) ([]host.DiscChr, error) {

	if err := bx.Tx(r); err != nil {
		return nil, err
	}

	var chrs []host.DiscChr

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return nil, err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.DiscChrEvt:
				switch msg.Status {
				case 0:
					chrs = append(chrs, msg.Chr)
				case host.ERR_CODE_EDONE:
					return chrs, nil
				default:
					return nil, StatusError(host.MSG_TYPE_DISC_CHR_EVT,
						msg.Status)
				}

			default:
			}

		case <-tmoChan:
			return nil, tmoError(host.MSG_TYPE_DISC_ALL_CHRS, tmo)
		}
	}
}

func discAllDscs(bx *Xport, bl *Listener, r *host.DiscAllDscsReq,
	tmo time.Duration) ([]host.DiscDsc, error) {

	if err := bx.Tx(r); err != nil {
		return nil, err
	}

	var dscs []host.DiscDsc

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return nil, err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.DiscDscEvt:
				switch msg.Status {
				case 0:
					dscs = append(dscs, msg.Dsc)
				case host.ERR_CODE_EDONE:
					return dscs, nil
				default:
					return nil, StatusError(host.MSG_TYPE_DISC_DSC_EVT,
						msg.Status)
				}

			default:
			}

		case <-tmoChan:
			return nil, tmoError(host.MSG_TYPE_DISC_ALL_DSCS, tmo)
		}
	}
}

func read(bx *Xport, bl *Listener, r *host.ReadReq,
	tmo time.Duration) ([]byte, error) {

	if err := bx.Tx(r); err != nil {
		return nil, err
	}

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return nil, err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.ReadEvt:
				if msg.Status != 0 {
					return nil, StatusError(host.MSG_TYPE_READ_EVT,
						msg.Status)
				}
				return msg.Data, nil

			default:
			}

		case <-tmoChan:
			return nil, tmoError(host.MSG_TYPE_READ, tmo)
		}
	}
}

func writeDsc(bx *Xport, bl *Listener, r *host.WriteDscReq,
	tmo time.Duration) error {

	if err := bx.Tx(r); err != nil {
		return err
	}

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.WriteEvt:
				if msg.Status != 0 {
					return StatusError(host.MSG_TYPE_WRITE_EVT, msg.Status)
				}
				return nil

			default:
			}

		case <-tmoChan:
			return tmoError(host.MSG_TYPE_WRITE_DSC, tmo)
		}
	}
}

func regNotify(bx *Xport, bl *Listener, r *host.RegNotifyReq,
	tmo time.Duration) error {

	if err := bx.Tx(r); err != nil {
		return err
	}

	tmoChan := bl.AfterTimeout(tmo)
	for {
		select {
		case err := <-bl.ErrChan:
			return err

		case bm := <-bl.MsgChan:
			switch msg := bm.(type) {
			case *host.RegNotifyEvt:
				if msg.Status != 0 {
					return StatusError(host.MSG_TYPE_REG_NOTIFY_EVT,
						msg.Status)
				}
				return nil

			default:
			}

		case <-tmoChan:
			return tmoError(host.MSG_TYPE_REG_NOTIFY, tmo)
		}
	}
}

// Converts a scan event into an advertisement report.  A malformed payload
// still yields whatever fields parsed cleanly.
func scanEvtToReport(evt *host.ScanEvt) BleAdvReport {
	fields, err := ParseAdvFields(evt.Data)
	if err != nil {
		log.Debugf("malformed advertisement from %s: %s",
			evt.Addr.String(), err.Error())
	}

	return BleAdvReport{
		EventType: evt.EventType,
		Sender: BleDev{
			AddrType: evt.AddrType,
			Addr:     evt.Addr,
		},
		Rssi:   evt.Rssi,
		Fields: fields,
	}
}
