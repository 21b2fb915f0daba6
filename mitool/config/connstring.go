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
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"mynewt.apache.org/newt/util"

	"github.com/lywsd/mithermo/mixact/mible"
)

// Keys shared by every connection type; they tune the session rather than
// the host.
type SesnConfig struct {
	PeerName          string
	Mtu               int
	StepTries         int
	MaxRestarts       int
	Extras            bool
	ResetOnDisconnect bool
	resetSet          bool
}

func einvalConnString(f string, args ...interface{}) error {
	suffix := fmt.Sprintf(f, args...)
	return util.FmtNewtError("Invalid connstring; %s", suffix)
}

func parseKvs(cs string) (map[string]string, error) {
	m := map[string]string{}

	if strings.TrimSpace(cs) == "" {
		return m, nil
	}

	for _, p := range strings.Split(cs, ",") {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, einvalConnString("expected comma-separated "+
				"key=value pairs; no '=' in: %s", p)
		}

		m[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	return m, nil
}

// Removes and returns the value for k, if present.
func takeKv(m map[string]string, k string) (string, bool) {
	v, ok := m[k]
	if ok {
		delete(m, k)
	}
	return v, ok
}

func takeInt(m map[string]string, k string, dst *int) error {
	v, ok := takeKv(m, k)
	if !ok {
		return nil
	}

	i, err := cast.ToIntE(v)
	if err != nil {
		return einvalConnString("Invalid %s: %s", k, v)
	}
	*dst = i
	return nil
}

func takeBool(m map[string]string, k string, dst *bool) (bool, error) {
	v, ok := takeKv(m, k)
	if !ok {
		return false, nil
	}

	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, einvalConnString("Invalid %s: %s", k, v)
	}
	*dst = b
	return true, nil
}

func parseSesnKvs(m map[string]string) (*SesnConfig, error) {
	sc := &SesnConfig{}

	if v, ok := takeKv(m, "peer_name"); ok {
		sc.PeerName = v
	}

	for k, dst := range map[string]*int{
		"mtu":          &sc.Mtu,
		"step_tries":   &sc.StepTries,
		"max_restarts": &sc.MaxRestarts,
	} {
		if err := takeInt(m, k, dst); err != nil {
			return nil, err
		}
	}

	if _, err := takeBool(m, "extras", &sc.Extras); err != nil {
		return nil, err
	}

	set, err := takeBool(m, "reset_on_disconnect", &sc.ResetOnDisconnect)
	if err != nil {
		return nil, err
	}
	sc.resetSet = set

	return sc, nil
}

func checkLeftovers(m map[string]string) error {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return einvalConnString("Unrecognized key: %s", keys[0])
}

// Overlays the connstring settings onto a session configuration.  Unset
// numeric keys leave the defaults alone.
func (sc *SesnConfig) Apply(cfg *mible.SessionCfg) {
	if sc.PeerName != "" {
		cfg.Name = sc.PeerName
	}
	if sc.Mtu != 0 {
		cfg.PreferredMtu = sc.Mtu
	}
	if sc.StepTries != 0 {
		cfg.StepTries = sc.StepTries
	}
	if sc.MaxRestarts != 0 {
		cfg.MaxRestarts = sc.MaxRestarts
	}
	if sc.Extras {
		cfg.Fields = cfg.Fields.WithExtras()
	}
	if sc.resetSet {
		cfg.ResetOnDisconnect = sc.ResetOnDisconnect
	}
}
