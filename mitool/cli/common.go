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

package cli

import (
	"context"
	"sync"
	"time"

	"mynewt.apache.org/newt/util"

	"github.com/lywsd/mithermo/mixact/host"
	"github.com/lywsd/mithermo/mixact/host/bll"
	"github.com/lywsd/mithermo/mixact/mible"
	"github.com/lywsd/mithermo/mitool/config"
	"github.com/lywsd/mithermo/mitool/mtutil"
)

const xportReadyTimeout = 10 * time.Second

var globalXport *mible.Xport
var globalSesnCfg *config.SesnConfig

// The running session, if any; cancelled on exit.
var sesnMtx sync.Mutex
var sesnCancel context.CancelFunc
var sesnDone chan struct{}

func getConnProfile() (*config.ConnProfile, error) {
	var cp *config.ConnProfile

	if mtutil.ConnType != "" {
		ct, err := config.ConnTypeFromString(mtutil.ConnType)
		if err != nil {
			return nil, err
		}

		cp = config.NewConnProfile()
		cp.Name = "cmdline"
		cp.Type = ct
	} else {
		p, err := config.GlobalConnProfileMgr().GetConnProfile(
			mtutil.ConnProfile)
		if err != nil {
			return nil, err
		}

		// Don't modify the stored profile.
		c := *p
		cp = &c
	}

	if mtutil.ConnString != "" {
		cp.ConnString = mtutil.ConnString
	}
	if mtutil.ConnExtra != "" {
		if cp.ConnString == "" {
			cp.ConnString = mtutil.ConnExtra
		} else {
			cp.ConnString += "," + mtutil.ConnExtra
		}
	}

	return cp, nil
}

func buildHost(cp *config.ConnProfile) (host.Host, *config.SesnConfig, error) {
	switch cp.Type {
	case config.CONN_TYPE_BLE:
		bc, err := config.ParseBleConnString(cp.ConnString)
		if err != nil {
			return nil, nil, err
		}
		return bll.NewHost(config.BuildBllHostCfg(bc)), bc.Sesn, nil

	case config.CONN_TYPE_SIM:
		sc, err := config.ParseSimConnString(cp.ConnString)
		if err != nil {
			return nil, nil, err
		}
		return config.BuildSimHost(sc), sc.Sesn, nil

	default:
		return nil, nil, util.FmtNewtError("Unknown connection type: %s (%d)",
			config.ConnTypeToString(cp.Type), int(cp.Type))
	}
}

func GetXport() (*mible.Xport, error) {
	if globalXport != nil {
		return globalXport, nil
	}

	cp, err := getConnProfile()
	if err != nil {
		return nil, err
	}

	h, sc, err := buildHost(cp)
	if err != nil {
		return nil, err
	}

	bx := mible.NewXport(h, xportReadyTimeout)
	if err := bx.Start(); err != nil {
		return nil, util.ChildNewtError(err)
	}

	globalXport = bx
	globalSesnCfg = sc

	return globalXport, nil
}

func GetXportIfOpen() (*mible.Xport, error) {
	if globalXport == nil {
		return nil, util.NewNewtError("xport not initialized")
	}

	return globalXport, nil
}

func buildSessionCfg() (mible.SessionCfg, error) {
	cfg := mible.NewSessionCfg()

	if _, err := GetXport(); err != nil {
		return cfg, err
	}

	tmo := mtutil.StepTimeout()
	cfg.DiscoverTimeout = tmo
	cfg.ReadTimeout = tmo
	cfg.SubscribeTimeout = tmo
	if mtutil.Tries > 0 {
		cfg.StepTries = mtutil.Tries
	}

	globalSesnCfg.Apply(&cfg)

	if mtutil.DeviceName != "" {
		cfg.Name = mtutil.DeviceName
	}

	return cfg, nil
}

func buildExploreCfg() (mible.ExploreCfg, error) {
	sc, err := buildSessionCfg()
	if err != nil {
		return mible.ExploreCfg{}, err
	}

	cfg := mible.NewExploreCfg()
	cfg.Name = sc.Name
	cfg.DiscoverTimeout = sc.DiscoverTimeout
	cfg.ReadTimeout = sc.ReadTimeout
	cfg.Conn.PreferredMtu = sc.PreferredMtu

	return cfg, nil
}

// Runs a session in the background.  The returned channel yields the
// session's result once it stops.
func startSession(s *mible.Session) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	errChan := make(chan error, 1)

	sesnMtx.Lock()
	sesnCancel = cancel
	sesnDone = done
	sesnMtx.Unlock()

	go func() {
		defer close(done)
		errChan <- s.Run(ctx)
	}()

	return errChan
}

// Cancels the running session and waits for it to wind down.
func StopSession() {
	sesnMtx.Lock()
	cancel := sesnCancel
	done := sesnDone
	sesnCancel = nil
	sesnMtx.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	select {
	case <-done:
	case <-time.After(xportReadyTimeout):
	}
}
