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
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"mynewt.apache.org/newt/util"

	"github.com/lywsd/mithermo/mitool/mtutil"
)

type ConnType int

const (
	CONN_TYPE_NONE ConnType = iota
	CONN_TYPE_BLE
	CONN_TYPE_SIM
)

var connTypeNameMap = map[ConnType]string{
	CONN_TYPE_BLE:  "ble",
	CONN_TYPE_SIM:  "sim",
	CONN_TYPE_NONE: "???",
}

func ConnTypeToString(ct ConnType) string {
	return connTypeNameMap[ct]
}

func ConnTypeFromString(s string) (ConnType, error) {
	for k, v := range connTypeNameMap {
		if k != CONN_TYPE_NONE && s == v {
			return k, nil
		}
	}

	return CONN_TYPE_NONE, util.FmtNewtError("Invalid connection type: %s", s)
}

func (ct ConnType) MarshalText() ([]byte, error) {
	return []byte(ConnTypeToString(ct)), nil
}

// An unknown type loads as CONN_TYPE_NONE rather than failing the whole
// profile file.
func (ct *ConnType) UnmarshalText(b []byte) error {
	t, err := ConnTypeFromString(string(b))
	if err != nil {
		t = CONN_TYPE_NONE
	}
	*ct = t
	return nil
}

type ConnProfile struct {
	Name       string   `json:"name"`
	Type       ConnType `json:"type"`
	ConnString string   `json:"connstring"`
}

func NewConnProfile() *ConnProfile {
	return &ConnProfile{}
}

func (p *ConnProfile) String() string {
	return fmt.Sprintf("name=%s type=%s connstring=%s",
		p.Name, ConnTypeToString(p.Type), p.ConnString)
}

// Named connection profiles persisted as a JSON array.
type ConnProfileMgr struct {
	filename string

	mtx      sync.Mutex
	profiles map[string]*ConnProfile
}

// A missing file is an empty profile set.
func NewConnProfileMgr(filename string) (*ConnProfileMgr, error) {
	cpm := &ConnProfileMgr{
		filename: filename,
		profiles: map[string]*ConnProfile{},
	}

	if err := cpm.load(); err != nil {
		return nil, err
	}

	return cpm, nil
}

func (cpm *ConnProfileMgr) load() error {
	log.Debugf("Reading connection profiles from %s", cpm.filename)

	blob, err := ioutil.ReadFile(cpm.filename)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return util.ChildNewtError(err)
	}

	var list []*ConnProfile
	if err := json.Unmarshal(blob, &list); err != nil {
		return util.FmtNewtError("error reading connection profile "+
			"config (%s): %s", cpm.filename, err.Error())
	}

	for _, p := range list {
		cpm.profiles[p.Name] = p
	}

	return nil
}

func (cpm *ConnProfileMgr) sortedNoLock() []*ConnProfile {
	list := make([]*ConnProfile, 0, len(cpm.profiles))
	for _, p := range cpm.profiles {
		list = append(list, p)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// Writes to a temporary file first so a failed save never truncates the
// existing profiles.
func (cpm *ConnProfileMgr) saveNoLock() error {
	b, err := json.MarshalIndent(cpm.sortedNoLock(), "", "    ")
	if err != nil {
		return util.ChildNewtError(err)
	}

	tmp, err := ioutil.TempFile(filepath.Dir(cpm.filename),
		filepath.Base(cpm.filename)+".")
	if err != nil {
		return util.ChildNewtError(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return util.ChildNewtError(err)
	}
	if err := tmp.Close(); err != nil {
		return util.ChildNewtError(err)
	}

	if err := os.Rename(tmp.Name(), cpm.filename); err != nil {
		return util.ChildNewtError(err)
	}

	return nil
}

func (cpm *ConnProfileMgr) GetConnProfileList() ([]*ConnProfile, error) {
	cpm.mtx.Lock()
	defer cpm.mtx.Unlock()

	return cpm.sortedNoLock(), nil
}

func (cpm *ConnProfileMgr) GetConnProfile(name string) (*ConnProfile, error) {
	cpm.mtx.Lock()
	defer cpm.mtx.Unlock()

	p := cpm.profiles[name]
	if p == nil {
		return nil, util.FmtNewtError("connection profile \"%s\" doesn't "+
			"exist", name)
	}

	return p, nil
}

// Adds or replaces a profile.
func (cpm *ConnProfileMgr) AddConnProfile(cp *ConnProfile) error {
	if cp.Name == "" {
		return util.NewNewtError("connection profile lacks a name")
	}
	if cp.Type == CONN_TYPE_NONE {
		return util.FmtNewtError("connection profile \"%s\" lacks a type",
			cp.Name)
	}

	cpm.mtx.Lock()
	defer cpm.mtx.Unlock()

	cpm.profiles[cp.Name] = cp
	return cpm.saveNoLock()
}

func (cpm *ConnProfileMgr) DeleteConnProfile(name string) error {
	cpm.mtx.Lock()
	defer cpm.mtx.Unlock()

	if cpm.profiles[name] == nil {
		return util.FmtNewtError("connection profile \"%s\" doesn't exist",
			name)
	}

	delete(cpm.profiles, name)
	return cpm.saveNoLock()
}

var globalConnProfileMgr *ConnProfileMgr

func GlobalConnProfileMgr() *ConnProfileMgr {
	if globalConnProfileMgr == nil {
		panic("connection profile manager not initialized")
	}
	return globalConnProfileMgr
}

// Loads ~/<CfgFilename>.
func InitGlobalConnProfileMgr() error {
	if globalConnProfileMgr != nil {
		return util.NewNewtError("connection profile manager initialized twice")
	}

	dir, err := homedir.Dir()
	if err != nil {
		return util.ChildNewtError(err)
	}

	cpm, err := NewConnProfileMgr(
		filepath.Join(dir, mtutil.ToolInfo.CfgFilename))
	if err != nil {
		return err
	}

	globalConnProfileMgr = cpm
	return nil
}
