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
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mynewt.apache.org/newt/util"
)

var onExit func()

func MtSetOnExit(cb func()) {
	onExit = cb
}

func mtExit(code int) {
	if onExit != nil {
		onExit()
	}
	os.Exit(code)
}

// Prints an error and, if a command is given, its usage; then exits.
func mtUsage(cmd *cobra.Command, err error) {
	if err != nil {
		nerr := util.ChildNewtError(err)
		log.Debugf("%s", nerr.StackTrace)
		fmt.Fprintf(os.Stderr, "Error: %s\n", nerr.Text)
	}

	if cmd != nil {
		fmt.Printf("\n")
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}

	mtExit(1)
}
