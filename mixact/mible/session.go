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
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	. "github.com/lywsd/mithermo/mixact/bledefs"
	"github.com/lywsd/mithermo/mixact/mixutil"
)

// Consumes the readings a session produces in steady state.
type Reporter interface {
	Report(info DeviceInfo, r Reading) error
}

type SessionCfg struct {
	// Complete local name the peer advertises.
	Name string

	ScanTimeout      time.Duration
	ConnectTimeout   time.Duration
	DiscoverTimeout  time.Duration
	ReadTimeout      time.Duration
	SubscribeTimeout time.Duration
	CloseTimeout     time.Duration

	PreferredMtu int

	// Attempts per state before a retryable failure turns into a restart.
	StepTries int

	// Restarts before the session gives up; negative means never.
	MaxRestarts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Period at which the latest reading is handed to the reporters.
	IdlePeriod time.Duration

	// Whether a disconnect in steady state restarts the workflow.
	ResetOnDisconnect bool

	Fields    FieldProfile
	Pool      *BufPool
	Reporters []Reporter

	EventCb EventCb
	StateCb StateCb
}

func NewSessionCfg() SessionCfg {
	return SessionCfg{
		Name:              MiThermoDefaultName,
		ScanTimeout:       10 * time.Second,
		ConnectTimeout:    5 * time.Second,
		DiscoverTimeout:   time.Second,
		ReadTimeout:       time.Second,
		SubscribeTimeout:  time.Second,
		CloseTimeout:      2 * time.Second,
		PreferredMtu:      BLE_ATT_MTU_PREFERRED,
		StepTries:         3,
		MaxRestarts:       8,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		IdlePeriod:        time.Second,
		ResetOnDisconnect: true,
		Fields:            DefaultFieldProfile(),
	}
}

// The advertised name being searched for and the device it last resolved
// to.
type Target struct {
	Name  string
	Dev   BleDev
	Found bool
}

type DeviceInfo struct {
	Peer     BleDev
	Mtu      int
	Model    string
	Serial   string
	Firmware string
	Hardware string
	Software string

	// Percent; only valid if BatteryKnown is set.
	Battery      int
	BatteryKnown bool

	// Optional fields keyed by role name.
	Extra map[string]string
}

// Drives one peer through scan, connect, discovery, the read sequence and
// notification subscription, then reports readings until stopped.
type Session struct {
	cfg     SessionCfg
	bx      *Xport
	scanner *Scanner

	// Owned by the Run goroutine.
	conn      *Conn
	table     *HandleTable
	tries     int
	restarter *restarter
	notifyWg  sync.WaitGroup

	readyBlocker mixutil.Blocker
	readingBcast mixutil.Bcaster

	// Protects:
	// * state
	// * target
	// * info
	// * reading
	mtx     sync.Mutex
	state   State
	target  Target
	info    DeviceInfo
	reading Reading
}

// The xport must already be started.
func NewSession(bx *Xport, cfg SessionCfg) *Session {
	s := &Session{
		cfg:     cfg,
		bx:      bx,
		scanner: NewScanner(bx),
		restarter: newRestarter(cfg.InitialBackoff, cfg.MaxBackoff,
			cfg.MaxRestarts),
		state:  STATE_INIT,
		target: Target{Name: cfg.Name},
	}
	s.info.Battery = -1
	s.readyBlocker.Start()

	return s
}

func (s *Session) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.state
}

func (s *Session) Target() Target {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.target
}

func (s *Session) Reading() Reading {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.reading
}

func (s *Session) DeviceInfo() DeviceInfo {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	info := s.info
	info.Extra = map[string]string{}
	for k, v := range s.info.Extra {
		info.Extra[k] = v
	}
	return info
}

// Blocks until the read phase has completed at least once.
func (s *Session) WaitReady(timeout time.Duration) error {
	_, err := s.readyBlocker.Wait(timeout, nil)
	return err
}

// Returns a channel that yields the next decoded reading, then closes.
func (s *Session) ListenReading() <-chan interface{} {
	return s.readingBcast.Listen()
}

// Number of session restarts since steady state was last reached.
func (s *Session) Restarts() int {
	return s.restarter.restarts()
}

func (s *Session) fireEvent(evt AppEvent) {
	log.Debugf("app event: %s", evt.String())
	if s.cfg.EventCb != nil {
		s.cfg.EventCb(evt, s)
	}
}

func (s *Session) setState(to State) {
	s.mtx.Lock()
	from := s.state
	s.state = to
	s.mtx.Unlock()

	if from == to {
		return
	}

	s.tries = 0
	log.Infof("BLE session state: %s -> %s", from.String(), to.String())
	if s.cfg.StateCb != nil {
		s.cfg.StateCb(from, to)
	}
}

// Runs the workflow until the context is cancelled or the restart budget is
// exhausted.  Cancellation is a clean stop and returns nil.
func (s *Session) Run(ctx context.Context) error {
	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			s.scanner.Stop()
		case <-stopWatch:
		}
	}()

	defer s.closeLink()

	s.fireEvent(EVENT_INIT)
	s.setState(STATE_SCAN)

	for {
		if ctx.Err() != nil {
			s.setState(STATE_DONE)
			return nil
		}

		next, err := s.step(ctx)
		if err != nil {
			s.setState(STATE_DONE)
			return err
		}

		s.setState(next)
		switch next {
		case STATE_SUBSCRIBE:
			// The read phase is over; device info is complete.
			s.readyBlocker.Unblock(nil)
		case STATE_DONE:
			return nil
		}
	}
}

func (s *Session) step(ctx context.Context) (State, error) {
	state := s.State()

	switch state {
	case STATE_SCAN:
		return s.scan(ctx)
	case STATE_CONNECT:
		return s.connect(ctx)
	case STATE_DISCOVER:
		return s.discover(ctx)
	case STATE_READ_MODEL, STATE_READ_SERIAL, STATE_READ_FW,
		STATE_READ_HW, STATE_READ_SW, STATE_READ_BATTERY:
		return s.readState(ctx, state)
	case STATE_READ_EXTRAS:
		return s.readExtras(ctx)
	case STATE_SUBSCRIBE:
		return s.subscribe(ctx)
	case STATE_IDLE:
		return s.idle(ctx)
	default:
		return STATE_DONE, fmt.Errorf("invalid session state: %s",
			state.String())
	}
}

func (s *Session) fail(ctx context.Context, state State, err error) (
	State, error) {

	s.tries++
	switch failurePolicy(state, err, s.tries, s.cfg.StepTries) {
	case FAIL_RETRY:
		log.Warnf("%s failed (attempt %d/%d): %s", state.String(),
			s.tries, s.cfg.StepTries, err.Error())
		return state, nil

	default:
		return s.restart(ctx, errors.Wrapf(err, "%s failed", state.String()))
	}
}

func (s *Session) restart(ctx context.Context, cause error) (State, error) {
	log.Errorf("restarting BLE session: %s", cause.Error())
	s.closeLink()
	s.tries = 0

	d, err := s.restarter.next(cause)
	if err != nil {
		return STATE_DONE, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return STATE_DONE, nil
	}

	return STATE_SCAN, nil
}

func (s *Session) closeLink() {
	if s.conn == nil {
		return
	}

	if err := s.conn.Close(); err != nil {
		log.Debugf("error closing BLE connection: %s", err.Error())
	}
	s.notifyWg.Wait()

	s.conn = nil
	s.table = nil
}

func (s *Session) scan(ctx context.Context) (State, error) {
	dev, err := s.scanner.FindTarget(s.cfg.Name, s.cfg.ScanTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return STATE_DONE, nil
		}
		return s.fail(ctx, STATE_SCAN, err)
	}

	s.mtx.Lock()
	s.target.Dev = dev
	s.target.Found = true
	s.info.Peer = dev
	s.mtx.Unlock()

	log.Infof("found %s at %s", s.cfg.Name, dev.String())
	s.fireEvent(EVENT_SCAN)
	return STATE_CONNECT, nil
}

func (s *Session) connect(ctx context.Context) (State, error) {
	cfg := NewConnCfg()
	cfg.PreferredMtu = s.cfg.PreferredMtu
	cfg.CloseTimeout = s.cfg.CloseTimeout
	cfg.Pool = s.cfg.Pool

	dev := s.Target().Dev
	conn := NewConn(s.bx, cfg)
	if err := conn.Connect(dev, s.cfg.ConnectTimeout); err != nil {
		return s.fail(ctx, STATE_CONNECT, err)
	}
	s.conn = conn

	// Fields read over an earlier connection are not carried over.
	s.mtx.Lock()
	s.info = DeviceInfo{
		Peer:    dev,
		Mtu:     conn.AttMtu(),
		Battery: -1,
	}
	s.mtx.Unlock()

	s.fireEvent(EVENT_CONNECT)
	return STATE_DISCOVER, nil
}

func (s *Session) discover(ctx context.Context) (State, error) {
	table, err := s.conn.Discover(s.cfg.Fields, s.cfg.DiscoverTimeout)
	if err != nil {
		return s.fail(ctx, STATE_DISCOVER, err)
	}
	s.table = table

	return s.nextRead(STATE_DISCOVER), nil
}

// The state after the specified one in the read sequence.
func (s *Session) nextRead(cur State) State {
	for st := cur + 1; st <= STATE_READ_BATTERY; st++ {
		if s.cfg.Fields.Find(readStateRoleMap[st]) != nil {
			return st
		}
	}

	if cur < STATE_READ_EXTRAS && len(s.extraReads()) > 0 {
		return STATE_READ_EXTRAS
	}

	return STATE_SUBSCRIBE
}

func (s *Session) extraReads() []CharSpec {
	var specs []CharSpec
	for _, spec := range s.cfg.Fields.Reads() {
		if !isCoreRole(spec.Role) {
			specs = append(specs, spec)
		}
	}
	return specs
}

func isCoreRole(role Role) bool {
	for _, r := range readStateRoleMap {
		if r == role {
			return true
		}
	}
	return role == ROLE_SENSOR
}

// Reads one characteristic.  A nil error with a nil buffer means the field
// is unavailable.
func (s *Session) readRole(role Role) (*ReadBuf, bool, error) {
	handle, ok := s.table.Handle(role)
	if !ok {
		return nil, false, nil
	}

	rb, err := s.conn.ReadChr(handle, s.cfg.ReadTimeout)
	return rb, true, err
}

func (s *Session) readState(ctx context.Context, state State) (State, error) {
	role := readStateRoleMap[state]
	spec := s.cfg.Fields.Find(role)

	rb, found, err := s.readRole(role)
	if err != nil {
		return s.fail(ctx, state, err)
	}

	if !found {
		log.Warnf("%s characteristic not found; field unavailable",
			role.String())
	} else {
		s.storeField(*spec, rb)
	}

	return s.nextRead(state), nil
}

func (s *Session) readExtras(ctx context.Context) (State, error) {
	for _, spec := range s.extraReads() {
		s.mtx.Lock()
		_, done := s.info.Extra[spec.Role.String()]
		s.mtx.Unlock()
		if done {
			continue
		}

		rb, found, err := s.readRole(spec.Role)
		if err != nil {
			return s.fail(ctx, STATE_READ_EXTRAS, err)
		}
		if found {
			s.storeField(spec, rb)
		}
	}

	return STATE_SUBSCRIBE, nil
}

func renderField(spec CharSpec, data []byte) string {
	switch spec.Format {
	case FORMAT_PERCENT:
		if len(data) == 0 {
			return ""
		}
		return fmt.Sprintf("%d", data[0])
	case FORMAT_HEX:
		return hex.EncodeToString(data)
	default:
		return string(data)
	}
}

// Copies a read value into the device info and releases the buffer.
func (s *Session) storeField(spec CharSpec, rb *ReadBuf) {
	var data []byte
	if rb != nil {
		data = append([]byte(nil), rb.Bytes()...)
		if err := rb.Release(); err != nil {
			log.Errorf("read buffer: %s", err.Error())
		}
	} else {
		log.Warnf("%s: no data", spec.Role.String())
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	val := renderField(spec, data)
	switch spec.Role {
	case ROLE_MODEL:
		s.info.Model = val
	case ROLE_SERIAL:
		s.info.Serial = val
	case ROLE_FIRMWARE:
		s.info.Firmware = val
	case ROLE_HARDWARE:
		s.info.Hardware = val
	case ROLE_SOFTWARE:
		s.info.Software = val
	case ROLE_BATTERY:
		if len(data) > 0 {
			s.info.Battery = int(data[0])
			s.info.BatteryKnown = true
		}
	default:
		if s.info.Extra == nil {
			s.info.Extra = map[string]string{}
		}
		s.info.Extra[spec.Role.String()] = val
	}

	log.Infof("%s: %s", spec.Role.String(), val)
}

func (s *Session) subscribe(ctx context.Context) (State, error) {
	handle, ok := s.table.Handle(ROLE_SENSOR)
	if !ok {
		return s.fail(ctx, STATE_SUBSCRIBE,
			fmt.Errorf("sensor characteristic not found"))
	}
	ccc, ok := s.table.Ccc(ROLE_SENSOR)
	if !ok {
		return s.fail(ctx, STATE_SUBSCRIBE,
			fmt.Errorf("sensor characteristic has no CCC"))
	}

	nl, err := s.conn.Subscribe(handle, ccc, s.cfg.SubscribeTimeout)
	if err != nil {
		return s.fail(ctx, STATE_SUBSCRIBE, err)
	}

	s.notifyWg.Add(1)
	go s.consumeNotifications(nl)

	s.restarter.reset()
	return STATE_IDLE, nil
}

func (s *Session) consumeNotifications(nl *NotifyListener) {
	defer s.notifyWg.Done()

	for {
		select {
		case n, ok := <-nl.NotifyChan:
			if !ok {
				return
			}
			s.onNotify(n)

		case <-nl.ErrChan:
			return
		}
	}
}

func (s *Session) onNotify(n Notification) {
	r, err := DecodeReading(n.Data)
	if err != nil {
		log.Warnf("dropping sensor notification: %s", err.Error())
		return
	}
	r.At = time.Now()

	s.mtx.Lock()
	s.reading = r
	s.mtx.Unlock()

	log.Debugf("reading: %s", r.String())
	s.readingBcast.SendAndClear(r)
	s.fireEvent(EVENT_DATA)
}

func (s *Session) report() {
	s.mtx.Lock()
	r := s.reading
	s.mtx.Unlock()

	if !r.Received {
		return
	}

	info := s.DeviceInfo()
	for _, rep := range s.cfg.Reporters {
		if err := rep.Report(info, r); err != nil {
			log.Warnf("failed to report reading: %s", err.Error())
		}
	}
}

func (s *Session) idle(ctx context.Context) (State, error) {
	ticker := time.NewTicker(s.cfg.IdlePeriod)
	defer ticker.Stop()

	disconnectChan := s.conn.DisconnectChan()
	for {
		select {
		case <-ctx.Done():
			return STATE_DONE, nil

		case <-ticker.C:
			s.report()

		case err, ok := <-disconnectChan:
			if !ok {
				disconnectChan = nil
				continue
			}

			s.fireEvent(EVENT_DISCONNECT)
			if s.cfg.ResetOnDisconnect {
				return s.restart(ctx, errors.Wrap(err, "peer lost"))
			}

			log.Warnf("peer lost; keeping last reading: %s",
				mixutil.Cause(err).Error())
			disconnectChan = nil
		}
	}
}
