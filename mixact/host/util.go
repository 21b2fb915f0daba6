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
	. "github.com/lywsd/mithermo/mixact/bledefs"
)

func NewScanReq(durationMs int) *ScanReq {
	return &ScanReq{
		MsgBase:          NewMsgBase(MSG_TYPE_SCAN, NextSeq(), BLE_CONN_HANDLE_NONE),
		OwnAddrType:      BLE_ADDR_TYPE_PUBLIC,
		DurationMs:       durationMs,
		Itvl:             0x50,
		Window:           0x30,
		Passive:          false,
		FilterDuplicates: false,
	}
}

func NewScanCancelReq() *ScanCancelReq {
	return &ScanCancelReq{
		MsgBase: NewMsgBase(MSG_TYPE_SCAN_CANCEL, NextSeq(),
			BLE_CONN_HANDLE_NONE),
	}
}

func NewOpenReq(dev BleDev, durationMs int) *OpenReq {
	return &OpenReq{
		MsgBase:      NewMsgBase(MSG_TYPE_OPEN, NextSeq(), BLE_CONN_HANDLE_NONE),
		OwnAddrType:  BLE_ADDR_TYPE_PUBLIC,
		PeerAddrType: dev.AddrType,
		PeerAddr:     dev.Addr,
		DurationMs:   durationMs,
	}
}

func NewCloseReq(connHandle int) *CloseReq {
	return &CloseReq{
		MsgBase: NewMsgBase(MSG_TYPE_CLOSE, NextSeq(), connHandle),
	}
}

func NewExchangeMtuReq(connHandle int, mtu int) *ExchangeMtuReq {
	return &ExchangeMtuReq{
		MsgBase: NewMsgBase(MSG_TYPE_EXCHANGE_MTU, NextSeq(), connHandle),
		Mtu:     mtu,
	}
}

func NewDiscAllSvcsReq(connHandle int) *DiscAllSvcsReq {
	return &DiscAllSvcsReq{
		MsgBase: NewMsgBase(MSG_TYPE_DISC_ALL_SVCS, NextSeq(), connHandle),
	}
}

func NewDiscAllChrsReq(connHandle int, start int, end int) *DiscAllChrsReq {
	return &DiscAllChrsReq{
		MsgBase:     NewMsgBase(MSG_TYPE_DISC_ALL_CHRS, NextSeq(), connHandle),
		StartHandle: start,
		EndHandle:   end,
	}
}

func NewDiscAllDscsReq(connHandle int, start int, end int) *DiscAllDscsReq {
	return &DiscAllDscsReq{
		MsgBase:     NewMsgBase(MSG_TYPE_DISC_ALL_DSCS, NextSeq(), connHandle),
		StartHandle: start,
		EndHandle:   end,
	}
}

func NewReadReq(connHandle int, attrHandle int) *ReadReq {
	return &ReadReq{
		MsgBase:    NewMsgBase(MSG_TYPE_READ, NextSeq(), connHandle),
		AttrHandle: attrHandle,
		Auth:       BLE_GATT_AUTH_NONE,
	}
}

func NewWriteDscReq(connHandle int, attrHandle int,
	data []byte) *WriteDscReq {

	return &WriteDscReq{
		MsgBase:    NewMsgBase(MSG_TYPE_WRITE_DSC, NextSeq(), connHandle),
		AttrHandle: attrHandle,
		Data:       data,
		WriteRsp:   true,
		Auth:       BLE_GATT_AUTH_NONE,
	}
}

func NewRegNotifyReq(connHandle int, attrHandle int) *RegNotifyReq {
	return &RegNotifyReq{
		MsgBase:    NewMsgBase(MSG_TYPE_REG_NOTIFY, NextSeq(), connHandle),
		AttrHandle: attrHandle,
	}
}

// Event constructors for host backends.

func NewReadyEvt() *ReadyEvt {
	return &ReadyEvt{
		MsgBase: NewMsgBase(MSG_TYPE_READY_EVT, BLE_SEQ_NONE,
			BLE_CONN_HANDLE_NONE),
	}
}

func NewDisconnectEvt(connHandle int, reason int) *DisconnectEvt {
	return &DisconnectEvt{
		MsgBase: NewMsgBase(MSG_TYPE_DISCONNECT_EVT, BLE_SEQ_NONE, connHandle),
		Reason:  reason,
	}
}

func NewNotifyRxEvt(connHandle int, attrHandle int,
	data []byte) *NotifyRxEvt {

	return &NotifyRxEvt{
		MsgBase:    NewMsgBase(MSG_TYPE_NOTIFY_RX_EVT, BLE_SEQ_NONE, connHandle),
		AttrHandle: attrHandle,
		Data:       data,
	}
}

// Copies the header of a request into an event of the given type, so the
// event routes back to the request's listener.
func RspBase(req Msg, typ MsgType) MsgBase {
	b := req.Base()
	return NewMsgBase(typ, b.Seq, b.ConnHandle)
}
