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

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"

	"github.com/lywsd/mithermo/mixact/mixutil"
	"github.com/lywsd/mithermo/mitool/mtutil"
)

var MitoolLogLevel log.Level

func Commands() *cobra.Command {
	logLevelStr := ""
	mtCmd := &cobra.Command{
		Use:   mtutil.ToolInfo.ExeName,
		Short: mtutil.ToolInfo.ShortName + " talks to LYWSD03MMC thermometers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var err error
			MitoolLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				mtUsage(nil, util.ChildNewtError(err))
			}

			err = util.Init(MitoolLogLevel, "", util.VERBOSITY_DEFAULT)
			if err != nil {
				mtUsage(nil, err)
			}
			mixutil.SetLogLevel(MitoolLogLevel)

			OSSpecificInit()
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}

	mtCmd.PersistentFlags().StringVarP(&mtutil.ConnProfile, "conn", "c", "",
		"connection profile to use")

	mtCmd.PersistentFlags().Float64VarP(&mtutil.Timeout, "timeout", "t", 1.0,
		"per-step timeout in seconds (partial seconds allowed)")

	mtCmd.PersistentFlags().IntVarP(&mtutil.Tries, "tries", "r", 3,
		"attempts per workflow step before the session restarts")

	mtCmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l", "info",
		"log level to use")

	mtCmd.PersistentFlags().StringVar(&mtutil.DeviceName, "name",
		"", "advertised name of the target device; overrides profile setting")

	mtCmd.PersistentFlags().StringVar(&mtutil.ConnType, "conntype", "",
		"Connection type to use instead of using the profile's type")

	mtCmd.PersistentFlags().StringVar(&mtutil.ConnString, "connstring", "",
		"Connection key-value pairs to use instead of using the profile's "+
			"connstring")

	mtCmd.PersistentFlags().StringVar(&mtutil.ConnExtra, "connextra", "",
		"Additional key-value pair to append to the connstring")

	mtCmd.PersistentFlags().IntVarP(&mtutil.HciIdx, "hci", "i",
		0, "HCI index for the controller on Linux machine")

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + mtutil.ToolInfo.ShortName + " version number",
		Example: "  " + mtutil.ToolInfo.ExeName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n",
				mtutil.ToolInfo.LongName,
				mtutil.ToolInfo.VersionString)
		},
	}
	mtCmd.AddCommand(versCmd)

	mtCmd.AddCommand(monitorCmd())
	mtCmd.AddCommand(infoCmd())
	mtCmd.AddCommand(exploreCmd())
	mtCmd.AddCommand(shellCmd())
	mtCmd.AddCommand(connProfileCmd())

	return mtCmd
}
