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

package config

import (
	"github.com/lywsd/mithermo/mixact/host/bll"
	"github.com/lywsd/mithermo/mitool/mtutil"
)

type BleConfig struct {
	CtlrName       string
	FastConnParams bool
	HciIdx         int

	Sesn *SesnConfig
}

func ParseBleConnString(cs string) (*BleConfig, error) {
	m, err := parseKvs(cs)
	if err != nil {
		return nil, err
	}

	bc := &BleConfig{}

	if v, ok := takeKv(m, "ctlr_name"); ok {
		bc.CtlrName = v
	}
	if _, err := takeBool(m, "fast_conn", &bc.FastConnParams); err != nil {
		return nil, err
	}

	bc.Sesn, err = parseSesnKvs(m)
	if err != nil {
		return nil, err
	}

	if err := checkLeftovers(m); err != nil {
		return nil, err
	}

	bc.HciIdx = mtutil.HciIdx

	return bc, nil
}

func BuildBllHostCfg(bc *BleConfig) bll.HostCfg {
	cfg := bll.NewHostCfg()
	if bc.CtlrName != "" {
		cfg.CtlrName = bc.CtlrName
	}
	cfg.DeviceId = bc.HciIdx
	cfg.FastConnParams = bc.FastConnParams

	return cfg
}
