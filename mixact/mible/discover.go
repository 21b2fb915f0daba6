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

package mible

import (
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/host"
)

// Attribute handles resolved for one connection.  A role that is missing
// could not be found on the peer.
type HandleTable struct {
	// Value handles.
	Chrs map[Role]int

	// Client configuration descriptor handles of subscribable
	// characteristics.
	Cccs map[Role]int
}

func newHandleTable() *HandleTable {
	return &HandleTable{
		Chrs: map[Role]int{},
		Cccs: map[Role]int{},
	}
}

func (t *HandleTable) Handle(role Role) (int, bool) {
	h, ok := t.Chrs[role]
	return h, ok
}

func (t *HandleTable) Ccc(role Role) (int, bool) {
	h, ok := t.Cccs[role]
	return h, ok
}

func (t *HandleTable) String() string {
	roles := make([]int, 0, len(t.Chrs))
	for r := range t.Chrs {
		roles = append(roles, int(r))
	}
	sort.Ints(roles)

	var parts []string
	for _, r := range roles {
		role := Role(r)
		s := fmt.Sprintf("%s=0x%04x", role.String(), t.Chrs[role])
		if ccc, ok := t.Cccs[role]; ok {
			s += fmt.Sprintf("(ccc=0x%04x)", ccc)
		}
		parts = append(parts, s)
	}

	return strings.Join(parts, " ")
}

// Discovers the peer's services and characteristics and resolves the
// handles of the characteristics in the specified profile.  Runs once per
// connection; later calls return the first result without touching the
// peer.
func (c *Conn) Discover(fp FieldProfile, timeout time.Duration) (
	*HandleTable, error) {

	c.mtx.Lock()
	table := c.table
	c.mtx.Unlock()
	if table != nil {
		return table, nil
	}

	fn := func() error {
		svcs, err := c.discAllSvcs(timeout)
		if err != nil {
			return err
		}

		// Only subscribable profile characteristics need a CCC lookup.
		wanted := func(chr *Characteristic) bool {
			if chr.SubscribeType() == 0 {
				return false
			}
			for _, spec := range fp.Chrs {
				if CompareUuids(spec.Uuid, chr.Uuid) == 0 {
					return true
				}
			}
			return false
		}

		if err := c.discAllChrs(svcs, wanted, timeout); err != nil {
			return err
		}

		c.mtx.Lock()
		defer c.mtx.Unlock()

		c.profile.SetServices(svcs)
		c.table = buildHandleTable(&c.profile, fp)

		log.Debugf("BLE handle table: %s", c.table.String())
		return nil
	}

	if err := c.runTask(fn); err != nil {
		return nil, err
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.table, nil
}

// Discovers every service, characteristic and characteristic descriptor.
func (c *Conn) DiscoverAll(timeout time.Duration) (*Profile, error) {
	fn := func() error {
		svcs, err := c.discAllSvcs(timeout)
		if err != nil {
			return err
		}

		all := func(chr *Characteristic) bool { return true }
		if err := c.discAllChrs(svcs, all, timeout); err != nil {
			return err
		}

		c.mtx.Lock()
		c.profile.SetServices(svcs)
		c.mtx.Unlock()
		return nil
	}

	if err := c.runTask(fn); err != nil {
		return nil, err
	}

	return &c.profile, nil
}

func buildHandleTable(p *Profile, fp FieldProfile) *HandleTable {
	t := newHandleTable()

	for _, spec := range fp.Chrs {
		chr := p.FindChrByUuid(spec.Uuid)
		if chr == nil {
			log.Debugf("characteristic not found; role=%s uuid=%s",
				spec.Role.String(), spec.Uuid.String())
			continue
		}

		t.Chrs[spec.Role] = chr.ValHandle
		if chr.SubscribeType() != 0 {
			if d := FindDscByUuid(chr,
				NewBleUuid16(ClientChrCfgUuid)); d != nil {

				t.Cccs[spec.Role] = d.Handle
			}
		}
	}

	return t
}

func (c *Conn) discAllDscsOnce(startHandle int, endHandle int,
	timeout time.Duration) ([]*Descriptor, error) {

	r := host.NewDiscAllDscsReq(c.connHandle, startHandle, endHandle)

	bl, err := c.rxvr.AddListener("disc-all-dscs", SeqKey(r.Seq))
	if err != nil {
		return nil, err
	}
	defer c.rxvr.RemoveListener("disc-all-dscs", bl)

	rawDscs, err := discAllDscs(c.bx, bl, r, timeout)
	if err != nil {
		return nil, err
	}

	dscs := make([]*Descriptor, len(rawDscs))
	for i, rd := range rawDscs {
		dscs[i] = &Descriptor{
			Uuid:   rd.Uuid,
			Handle: rd.Handle,
		}
	}

	return dscs, nil
}

// Discovers the descriptors of each characteristic the filter accepts.
func (c *Conn) discAllDscs(chrs []*Characteristic, svcEndHandle int,
	wanted func(chr *Characteristic) bool, timeout time.Duration) error {

	for i := range chrs {
		chr := chrs[i]
		if !wanted(chr) {
			continue
		}

		var endHandle int
		if i < len(chrs)-1 {
			endHandle = chrs[i+1].DefHandle - 1
		} else {
			endHandle = svcEndHandle
		}

		if endHandle <= chr.ValHandle {
			continue
		}

		dscs, err := c.discAllDscsOnce(chr.ValHandle+1, endHandle, timeout)
		if err != nil {
			return err
		}

		chr.Dscs = dscs
	}

	return nil
}

func (c *Conn) discAllChrsOnce(svc Service,
	wanted func(chr *Characteristic) bool,
	timeout time.Duration) ([]*Characteristic, error) {

	r := host.NewDiscAllChrsReq(c.connHandle, svc.StartHandle, svc.EndHandle)

	bl, err := c.rxvr.AddListener("disc-all-chrs", SeqKey(r.Seq))
	if err != nil {
		return nil, err
	}
	defer c.rxvr.RemoveListener("disc-all-chrs", bl)

	rawChrs, err := discAllChrs(c.bx, bl, r, timeout)
	if err != nil {
		return nil, err
	}

	chrs := make([]*Characteristic, len(rawChrs))
	for i, rc := range rawChrs {
		chrs[i] = &Characteristic{
			Uuid:       rc.Uuid,
			DefHandle:  rc.DefHandle,
			ValHandle:  rc.ValHandle,
			Properties: rc.Properties,
		}
	}

	if err := c.discAllDscs(chrs, svc.EndHandle, wanted,
		timeout); err != nil {

		return nil, err
	}

	return chrs, nil
}

func (c *Conn) discAllChrs(svcs []Service,
	wanted func(chr *Characteristic) bool, timeout time.Duration) error {

	for i := range svcs {
		chrs, err := c.discAllChrsOnce(svcs[i], wanted, timeout)
		if err != nil {
			return err
		}

		svcs[i].Chrs = chrs
	}

	return nil
}

func (c *Conn) discAllSvcs(timeout time.Duration) ([]Service, error) {
	r := host.NewDiscAllSvcsReq(c.connHandle)

	bl, err := c.rxvr.AddListener("disc-all-svcs", SeqKey(r.Seq))
	if err != nil {
		return nil, err
	}
	defer c.rxvr.RemoveListener("disc-all-svcs", bl)

	rawSvcs, err := discAllSvcs(c.bx, bl, r, timeout)
	if err != nil {
		return nil, err
	}

	svcs := make([]Service, len(rawSvcs))
	for i, rs := range rawSvcs {
		svcs[i] = Service{
			Uuid:        rs.Uuid,
			StartHandle: rs.StartHandle,
			EndHandle:   rs.EndHandle,
		}
	}

	return svcs, nil
}
