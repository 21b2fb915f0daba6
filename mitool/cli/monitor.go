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
	"os"

	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"

	"github.com/lywsd/mithermo/mixact/mible"
	"github.com/lywsd/mithermo/mixact/sink"
)

var monitorFormat string
var monitorSerialDev string
var monitorSerialBaud int
var monitorQuiet bool

func buildSinks() (sink.Multi, error) {
	var sinks sink.Multi

	if !monitorQuiet {
		sinks = append(sinks, sink.NewLogSink(nil))
	}

	if monitorFormat != "" {
		f, err := sink.ParseCodecFormat(monitorFormat)
		if err != nil {
			return nil, util.ChildNewtError(err)
		}
		sinks = append(sinks, sink.NewCodecSink(os.Stdout, f))
	}

	if monitorSerialDev != "" {
		sc := sink.NewSerialCfg()
		sc.DevPath = monitorSerialDev
		sc.Baud = monitorSerialBaud

		ss, err := sink.OpenSerialSink(sc)
		if err != nil {
			sinks.Close()
			return nil, util.ChildNewtError(err)
		}
		sinks = append(sinks, ss)
	}

	return sinks, nil
}

func monitorRunCmd(cmd *cobra.Command, args []string) {
	cfg, err := buildSessionCfg()
	if err != nil {
		mtUsage(nil, err)
	}

	sinks, err := buildSinks()
	if err != nil {
		mtUsage(nil, err)
	}
	defer sinks.Close()

	cfg.Reporters = sink.Reporters(sinks...)

	bx, err := GetXportIfOpen()
	if err != nil {
		mtUsage(nil, err)
	}
	s := mible.NewSession(bx, cfg)

	if err := <-startSession(s); err != nil {
		mtUsage(nil, util.ChildNewtError(err))
	}
}

func monitorCmd() *cobra.Command {
	monitorHelpText := "Connect to the thermometer, read its device information and " +
		"report\neach sensor reading until interrupted.  The session " +
		"restarts from a scan\nwhenever the link or a step fails.\n"

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Report readings from a thermometer",
		Long:  monitorHelpText,
		Run:   monitorRunCmd,
	}

	cmd.Flags().StringVarP(&monitorFormat, "format", "f", "",
		"also write each reading to stdout as a json or cbor record")
	cmd.Flags().StringVar(&monitorSerialDev, "serial", "",
		"serial device of a display controller to forward readings to")
	cmd.Flags().IntVar(&monitorSerialBaud, "baud", 115200,
		"baud rate of the display serial line")
	cmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false,
		"don't log readings")

	return cmd
}
