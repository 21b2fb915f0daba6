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
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/abiosoft/ishell.v2"

	"github.com/lywsd/mithermo/mixact/mible"
	"github.com/lywsd/mithermo/mitool/mtutil"
)

func shellStateCmd(s *mible.Session) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		t := s.Target()
		c.Println("state:   ", s.State().String())
		if t.Found {
			c.Println("peer:    ", t.Dev.String())
		} else {
			c.Println("peer:     (searching for " + t.Name + ")")
		}
		c.Println("restarts:", s.Restarts())
	}
}

func shellReadingCmd(s *mible.Session) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		r := s.Reading()
		if r.Received {
			c.Printf("%s (%s ago)\n", r.String(),
				time.Since(r.At).Round(time.Second).String())
		} else {
			c.Println(r.String())
		}
	}
}

func shellInfoCmd(s *mible.Session) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		c.Print(infoString(s.DeviceInfo()))
	}
}

func shellWaitCmd(s *mible.Session) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		select {
		case <-s.ListenReading():
			c.Println(s.Reading().String())
		case <-time.After(30 * time.Second):
			c.Println("no reading within 30s")
		}
	}
}

func startShell(cmd *cobra.Command, args []string) {
	cfg, err := buildSessionCfg()
	if err != nil {
		mtUsage(nil, err)
	}

	// Nothing gets reported; the shell polls the session instead.
	cfg.Reporters = nil

	bx, err := GetXportIfOpen()
	if err != nil {
		mtUsage(nil, err)
	}
	s := mible.NewSession(bx, cfg)
	errChan := startSession(s)

	// by default, new shell includes 'exit', 'help' and 'clear' commands.
	shell := ishell.New()
	shell.SetPrompt("> ")

	shell.Println()
	shell.Println(" " + mtutil.ToolInfo.ShortName + " monitor shell")
	shell.Println("	Looking for: ", cfg.Name)
	shell.Println()

	shell.AddCmd(&ishell.Cmd{
		Name: "state",
		Help: "Show the session state and peer",
		Func: shellStateCmd(s),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "reading",
		Help: "Show the latest reading",
		Func: shellReadingCmd(s),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "info",
		Help: "Show the device information read so far",
		Func: shellInfoCmd(s),
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "wait",
		Help: "Wait for the next reading",
		Func: shellWaitCmd(s),
	})

	go func() {
		if err := <-errChan; err != nil {
			shell.Println("session ended:", err.Error())
		}
	}()

	shell.Run()
	shell.Close()

	StopSession()
}

func shellCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run " + mtutil.ToolInfo.ShortName + " interactively against a live session",
		Run:   startShell,
	}

	return cmd
}
