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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/structs"
	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v1"

	"mynewt.apache.org/newt/util"

	"github.com/lywsd/mithermo/mixact/mible"
)

var infoNoProgress bool

// Steps from the first scan up to steady state.
const infoSteps = int(mible.STATE_IDLE - mible.STATE_SCAN)

func infoString(info mible.DeviceInfo) string {
	m := map[string]interface{}{}
	for _, f := range structs.New(info).Fields() {
		switch f.Name() {
		case "Extra", "BatteryKnown":
			continue
		case "Battery":
			if info.BatteryKnown {
				m["Battery"] = fmt.Sprintf("%d%%", info.Battery)
			}
			continue
		}

		if !f.IsZero() {
			m[f.Name()] = f.Value()
		}
	}

	for k, v := range info.Extra {
		m[k] = v
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-14s %v\n", k+":", m[k])
	}
	return sb.String()
}

func infoRunCmd(cmd *cobra.Command, args []string) {
	cfg, err := buildSessionCfg()
	if err != nil {
		mtUsage(nil, err)
	}

	var bar *pb.ProgressBar
	if !infoNoProgress {
		bar = pb.New(infoSteps)
		bar.ShowCounters = false
		bar.ShowTimeLeft = false
		bar.Start()

		cfg.StateCb = func(from mible.State, to mible.State) {
			if to >= mible.STATE_SCAN && to <= mible.STATE_IDLE {
				bar.Prefix(fmt.Sprintf("%-13s", to.String()))
				bar.Set(int(to - mible.STATE_SCAN))
			}
		}
	}

	bx, err := GetXportIfOpen()
	if err != nil {
		mtUsage(nil, err)
	}
	s := mible.NewSession(bx, cfg)
	errChan := startSession(s)

	// The session's restart budget bounds the wait; an exhausted budget
	// stops the session.
	readyChan := make(chan error, 1)
	go func() {
		readyChan <- s.WaitReady(24 * time.Hour)
	}()

	select {
	case err = <-readyChan:
	case err = <-errChan:
		if err == nil {
			err = fmt.Errorf("session stopped")
		}
	}

	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		StopSession()
		mtUsage(nil, util.ChildNewtError(err))
	}

	fmt.Printf("Device information:\n%s", infoString(s.DeviceInfo()))

	rdChan := s.ListenReading()
	if s.Reading().Received {
		fmt.Printf("Reading: %s\n", s.Reading().String())
		StopSession()
		return
	}

	select {
	case <-rdChan:
		fmt.Printf("Reading: %s\n", s.Reading().String())
	case <-time.After(cfg.IdlePeriod + 10*cfg.SubscribeTimeout):
		fmt.Printf("Reading: none received\n")
	}

	StopSession()
}

func infoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Short: "Read a thermometer's device information and one reading",
		Run:   infoRunCmd,
	}

	cmd.Flags().BoolVar(&infoNoProgress, "no-progress", false,
		"don't show a progress bar")

	return cmd
}
