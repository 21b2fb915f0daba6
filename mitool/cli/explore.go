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
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/cheggaaa/pb.v1"

	"mynewt.apache.org/newt/util"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/mible"
)

var explorePeer string

func explorationString(x *mible.Exploration) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Peer %s (ATT MTU %d)\n", x.Peer.String(), x.Mtu)
	for _, s := range x.Svcs {
		fmt.Fprintf(&sb, "service %s [0x%04x-0x%04x]\n",
			s.Uuid.String(), s.StartHandle, s.EndHandle)

		for _, c := range s.Chrs {
			fmt.Fprintf(&sb, "    chr %s def=0x%04x val=0x%04x props=%s\n",
				c.Uuid.String(), c.DefHandle, c.ValHandle,
				c.Properties.String())

			switch {
			case c.Err != "":
				fmt.Fprintf(&sb, "        read failed: %s\n", c.Err)
			case c.Value != nil:
				fmt.Fprintf(&sb, "        value: %s %q\n",
					hex.EncodeToString(c.Value), printable(c.Value))
			}

			for _, d := range c.Dscs {
				fmt.Fprintf(&sb, "        dsc %s handle=0x%04x\n",
					d.Uuid.String(), d.Handle)
			}
		}
	}

	return sb.String()
}

func printable(b []byte) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e {
			return '.'
		}
		return r
	}, string(b))
}

func exploreRunCmd(cmd *cobra.Command, args []string) {
	cfg, err := buildExploreCfg()
	if err != nil {
		mtUsage(nil, err)
	}

	if explorePeer != "" {
		addr, err := ParseBleAddr(explorePeer)
		if err != nil {
			mtUsage(cmd, util.ChildNewtError(err))
		}
		cfg.Peer = &BleDev{
			AddrType: BLE_ADDR_TYPE_PUBLIC,
			Addr:     addr,
		}
	}

	var bar *pb.ProgressBar
	cfg.ProgressCb = func(done int, total int) {
		if bar == nil {
			bar = pb.New(total)
			bar.Prefix("reading")
			bar.Start()
		}
		bar.Set(done)
	}

	bx, err := GetXportIfOpen()
	if err != nil {
		mtUsage(nil, err)
	}
	x, err := mible.Explore(bx, cfg)
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		mtUsage(nil, util.ChildNewtError(err))
	}

	fmt.Print(explorationString(x))
}

func exploreCmd() *cobra.Command {
	exploreHelpText := "Connect to a peer, enumerate its GATT database and read " +
		"every\nreadable characteristic.\n"

	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Dump a peer's services, characteristics and descriptors",
		Long:  exploreHelpText,
		Run:   exploreRunCmd,
	}

	cmd.Flags().StringVar(&explorePeer, "peer", "",
		"public address of the peer; skips the scan")

	return cmd
}
