// +build windows

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

package bll

import (
	"fmt"

	"github.com/lywsd/mithermo/mixact/host"
)

type HostCfg struct {
	CtlrName       string
	DeviceId       int
	FastConnParams bool
}

func NewHostCfg() HostCfg {
	return HostCfg{
		CtlrName: "default",
	}
}

type Host struct{}

func NewHost(cfg HostCfg) *Host {
	return &Host{}
}

func (h *Host) Start(handler host.EventHandler) error {
	return fmt.Errorf("native BLE not supported on windows")
}

func (h *Host) Stop() error {
	return fmt.Errorf("native BLE not supported on windows")
}

func (h *Host) Tx(req host.Msg) error {
	return fmt.Errorf("native BLE not supported on windows")
}

func (h *Host) String() string {
	return "native BLE host (unsupported)"
}
