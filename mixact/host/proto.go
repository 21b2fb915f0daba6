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

package host

import (
	"fmt"

	. "github.com/lywsd/mithermo/mixact/bledefs"
)

type MsgType int
type BleSeq uint32

const BLE_SEQ_MIN BleSeq = 0
const BLE_SEQ_EVT_MIN BleSeq = 0xffffff00
const BLE_SEQ_NONE BleSeq = 0xffffffff

const BLE_CONN_HANDLE_NONE = -1

const ERR_CODE_ATT_BASE = 0x100
const ERR_CODE_HCI_BASE = 0x200

const (
	ERR_CODE_EAGAIN      int = 1
	ERR_CODE_EALREADY    int = 2
	ERR_CODE_EINVAL      int = 3
	ERR_CODE_EMSGSIZE    int = 4
	ERR_CODE_ENOENT      int = 5
	ERR_CODE_ENOMEM      int = 6
	ERR_CODE_ENOTCONN    int = 7
	ERR_CODE_ENOTSUP     int = 8
	ERR_CODE_EAPP        int = 9
	ERR_CODE_EBADDATA    int = 10
	ERR_CODE_EOS         int = 11
	ERR_CODE_ECONTROLLER int = 12
	ERR_CODE_ETIMEOUT    int = 13
	ERR_CODE_EDONE       int = 14
	ERR_CODE_EBUSY       int = 15
	ERR_CODE_EREJECT     int = 16
	ERR_CODE_EUNKNOWN    int = 17
)

var ErrCodeStringMap = map[int]string{
	ERR_CODE_EAGAIN:      "eagain",
	ERR_CODE_EALREADY:    "ealready",
	ERR_CODE_EINVAL:      "einval",
	ERR_CODE_EMSGSIZE:    "emsgsize",
	ERR_CODE_ENOENT:      "enoent",
	ERR_CODE_ENOMEM:      "enomem",
	ERR_CODE_ENOTCONN:    "enotconn",
	ERR_CODE_ENOTSUP:     "enotsup",
	ERR_CODE_EAPP:        "eapp",
	ERR_CODE_EBADDATA:    "ebaddata",
	ERR_CODE_EOS:         "eos",
	ERR_CODE_ECONTROLLER: "econtroller",
	ERR_CODE_ETIMEOUT:    "etimeout",
	ERR_CODE_EDONE:       "edone",
	ERR_CODE_EBUSY:       "ebusy",
	ERR_CODE_EREJECT:     "ereject",
	ERR_CODE_EUNKNOWN:    "eunknown",
}

// ATT protocol errors, reported as ERR_CODE_ATT_BASE + code.
const (
	ERR_CODE_ATT_INVALID_HANDLE      int = 0x01
	ERR_CODE_ATT_READ_NOT_PERMITTED  int = 0x02
	ERR_CODE_ATT_WRITE_NOT_PERMITTED int = 0x03
	ERR_CODE_ATT_INSUFFICIENT_AUTHEN int = 0x05
	ERR_CODE_ATT_REQ_NOT_SUPPORTED   int = 0x06
	ERR_CODE_ATT_ATTR_NOT_FOUND      int = 0x0a
	ERR_CODE_ATT_UNLIKELY            int = 0x0e
	ERR_CODE_ATT_INSUFFICIENT_ENC    int = 0x0f
)

var AttErrCodeStringMap = map[int]string{
	ERR_CODE_ATT_INVALID_HANDLE:      "invalid handle",
	ERR_CODE_ATT_READ_NOT_PERMITTED:  "read not permitted",
	ERR_CODE_ATT_WRITE_NOT_PERMITTED: "write not permitted",
	ERR_CODE_ATT_INSUFFICIENT_AUTHEN: "insufficient authentication",
	ERR_CODE_ATT_REQ_NOT_SUPPORTED:   "request not supported",
	ERR_CODE_ATT_ATTR_NOT_FOUND:      "attribute not found",
	ERR_CODE_ATT_UNLIKELY:            "unlikely error",
	ERR_CODE_ATT_INSUFFICIENT_ENC:    "insufficient encryption",
}

// HCI disconnect reasons used by the backends.
const (
	ERR_CODE_HCI_CONN_SPVN_TMO      int = 0x08
	ERR_CODE_HCI_REM_USER_CONN_TERM int = 0x13
	ERR_CODE_HCI_CONN_TERM_LOCAL    int = 0x16
	ERR_CODE_HCI_CONN_FAIL_ESTAB    int = 0x3e
)

var HciErrCodeStringMap = map[int]string{
	ERR_CODE_HCI_CONN_SPVN_TMO:      "conn spvn tmo",
	ERR_CODE_HCI_REM_USER_CONN_TERM: "rem user conn term",
	ERR_CODE_HCI_CONN_TERM_LOCAL:    "conn term local",
	ERR_CODE_HCI_CONN_FAIL_ESTAB:    "conn fail establish",
}

func ErrCodeToString(e int) string {
	var s string

	switch {
	case e >= ERR_CODE_HCI_BASE:
		s = HciErrCodeStringMap[e-ERR_CODE_HCI_BASE]

	case e >= ERR_CODE_ATT_BASE:
		s = AttErrCodeStringMap[e-ERR_CODE_ATT_BASE]

	default:
		s = ErrCodeStringMap[e]
	}

	if s == "" {
		s = "unknown"
	}

	return s
}

func AttErr(code int) int {
	return ERR_CODE_ATT_BASE + code
}

func HciErr(code int) int {
	return ERR_CODE_HCI_BASE + code
}

const (
	MSG_TYPE_SCAN MsgType = iota + 1
	MSG_TYPE_SCAN_CANCEL
	MSG_TYPE_OPEN
	MSG_TYPE_CLOSE
	MSG_TYPE_EXCHANGE_MTU
	MSG_TYPE_DISC_ALL_SVCS
	MSG_TYPE_DISC_ALL_CHRS
	MSG_TYPE_DISC_ALL_DSCS
	MSG_TYPE_READ
	MSG_TYPE_WRITE_DSC
	MSG_TYPE_REG_NOTIFY

	MSG_TYPE_READY_EVT
	MSG_TYPE_SCAN_EVT
	MSG_TYPE_SCAN_COMPLETE_EVT
	MSG_TYPE_SCAN_CANCEL_EVT
	MSG_TYPE_OPEN_EVT
	MSG_TYPE_CONNECT_EVT
	MSG_TYPE_MTU_EVT
	MSG_TYPE_CLOSE_EVT
	MSG_TYPE_DISCONNECT_EVT
	MSG_TYPE_DISC_SVC_EVT
	MSG_TYPE_SVC_DISC_CMPL_EVT
	MSG_TYPE_DISC_CHR_EVT
	MSG_TYPE_DISC_DSC_EVT
	MSG_TYPE_READ_EVT
	MSG_TYPE_WRITE_EVT
	MSG_TYPE_REG_NOTIFY_EVT
	MSG_TYPE_NOTIFY_RX_EVT
)

var MsgTypeStringMap = map[MsgType]string{
	MSG_TYPE_SCAN:          "scan",
	MSG_TYPE_SCAN_CANCEL:   "scan_cancel",
	MSG_TYPE_OPEN:          "open",
	MSG_TYPE_CLOSE:         "close",
	MSG_TYPE_EXCHANGE_MTU:  "exchange_mtu",
	MSG_TYPE_DISC_ALL_SVCS: "disc_all_svcs",
	MSG_TYPE_DISC_ALL_CHRS: "disc_all_chrs",
	MSG_TYPE_DISC_ALL_DSCS: "disc_all_dscs",
	MSG_TYPE_READ:          "read",
	MSG_TYPE_WRITE_DSC:     "write_dsc",
	MSG_TYPE_REG_NOTIFY:    "reg_notify",

	MSG_TYPE_READY_EVT:         "ready_evt",
	MSG_TYPE_SCAN_EVT:          "scan_evt",
	MSG_TYPE_SCAN_COMPLETE_EVT: "scan_complete_evt",
	MSG_TYPE_SCAN_CANCEL_EVT:   "scan_cancel_evt",
	MSG_TYPE_OPEN_EVT:          "open_evt",
	MSG_TYPE_CONNECT_EVT:       "connect_evt",
	MSG_TYPE_MTU_EVT:           "mtu_evt",
	MSG_TYPE_CLOSE_EVT:         "close_evt",
	MSG_TYPE_DISCONNECT_EVT:    "disconnect_evt",
	MSG_TYPE_DISC_SVC_EVT:      "disc_svc_evt",
	MSG_TYPE_SVC_DISC_CMPL_EVT: "svc_disc_cmpl_evt",
	MSG_TYPE_DISC_CHR_EVT:      "disc_chr_evt",
	MSG_TYPE_DISC_DSC_EVT:      "disc_dsc_evt",
	MSG_TYPE_READ_EVT:          "read_evt",
	MSG_TYPE_WRITE_EVT:         "write_evt",
	MSG_TYPE_REG_NOTIFY_EVT:    "reg_notify_evt",
	MSG_TYPE_NOTIFY_RX_EVT:     "notify_rx_evt",
}

func MsgTypeToString(msgType MsgType) string {
	s := MsgTypeStringMap[msgType]
	if s == "" {
		return "???"
	}

	return s
}

func (t MsgType) String() string {
	return MsgTypeToString(t)
}

// Header shared by every request and event.
type MsgBase struct {
	Type MsgType
	Seq  BleSeq

	// BLE_CONN_HANDLE_NONE if the message is not tied to a connection.
	ConnHandle int
}

func (b *MsgBase) Base() MsgBase {
	return *b
}

func (b MsgBase) Describe() string {
	return fmt.Sprintf("type=%s seq=%d conn_handle=%d",
		MsgTypeToString(b.Type), b.Seq, b.ConnHandle)
}

type Msg interface {
	Base() MsgBase
}

func NewMsgBase(typ MsgType, seq BleSeq, connHandle int) MsgBase {
	return MsgBase{
		Type:       typ,
		Seq:        seq,
		ConnHandle: connHandle,
	}
}

// Requests.

type ScanReq struct {
	MsgBase

	OwnAddrType      BleAddrType
	DurationMs       int
	Itvl             int
	Window           int
	Passive          bool
	FilterDuplicates bool
}

type ScanCancelReq struct {
	MsgBase
}

type OpenReq struct {
	MsgBase

	OwnAddrType  BleAddrType
	PeerAddrType BleAddrType
	PeerAddr     BleAddr
	DurationMs   int
}

type CloseReq struct {
	MsgBase
}

type ExchangeMtuReq struct {
	MsgBase

	Mtu int
}

type DiscAllSvcsReq struct {
	MsgBase
}

type DiscAllChrsReq struct {
	MsgBase

	StartHandle int
	EndHandle   int
}

type DiscAllDscsReq struct {
	MsgBase

	StartHandle int
	EndHandle   int
}

type ReadReq struct {
	MsgBase

	AttrHandle int
	Auth       BleGattAuth
}

type WriteDscReq struct {
	MsgBase

	AttrHandle int
	Data       []byte
	WriteRsp   bool
	Auth       BleGattAuth
}

type RegNotifyReq struct {
	MsgBase

	AttrHandle int
}

// Events.

type ReadyEvt struct {
	MsgBase
}

type ScanEvt struct {
	MsgBase

	EventType BleAdvEventType
	AddrType  BleAddrType
	Addr      BleAddr
	Rssi      int8
	Data      []byte
}

type ScanCompleteEvt struct {
	MsgBase

	Reason int
}

type ScanCancelEvt struct {
	MsgBase

	Status int
}

// Reports whether the host accepted the open request.
type OpenEvt struct {
	MsgBase

	Status int
}

// Link established (or failed to establish).
type ConnectEvt struct {
	MsgBase

	Status int
}

type MtuEvt struct {
	MsgBase

	Status int
	Mtu    int
}

type CloseEvt struct {
	MsgBase

	Status int
}

type DisconnectEvt struct {
	MsgBase

	Reason int
}

type DiscSvc struct {
	StartHandle int
	EndHandle   int
	Uuid        BleUuid
}

type DiscSvcEvt struct {
	MsgBase

	Status int
	Svc    DiscSvc
}

// Terminates a service enumeration that found nothing further to report.
type SvcDiscCmplEvt struct {
	MsgBase

	Status int
}

type DiscChr struct {
	DefHandle  int
	ValHandle  int
	Uuid       BleUuid
	Properties BleChrFlags
}

type DiscChrEvt struct {
	MsgBase

	Status int
	Chr    DiscChr
}

type DiscDsc struct {
	Handle int
	Uuid   BleUuid
}

type DiscDscEvt struct {
	MsgBase

	Status int
	Dsc    DiscDsc
}

type ReadEvt struct {
	MsgBase

	Status     int
	AttrHandle int
	Data       []byte
}

type WriteEvt struct {
	MsgBase

	Status     int
	AttrHandle int
}

type RegNotifyEvt struct {
	MsgBase

	Status     int
	AttrHandle int
}

type NotifyRxEvt struct {
	MsgBase

	AttrHandle int
	Indication bool
	Data       []byte
}
