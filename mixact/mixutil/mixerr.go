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

package mixutil

import (
	"fmt"
)

// Host stack rejected a request outright; no completion will follow.
type XportError struct {
	Text string
}

func NewXportError(text string) *XportError {
	return &XportError{text}
}

func FmtXportError(format string, args ...interface{}) *XportError {
	return NewXportError(fmt.Sprintf(format, args...))
}

func (e *XportError) Error() string {
	return e.Text
}

func IsXport(err error) bool {
	if err == nil {
		return false
	}

	_, ok := Cause(err).(*XportError)
	return ok
}

// Request sent, but no completion arrived in time.
type TimeoutError struct {
	Op   string
	Text string
}

func NewTimeoutError(op string, text string) *TimeoutError {
	return &TimeoutError{
		Op:   op,
		Text: text,
	}
}

func FmtTimeoutError(op string, format string,
	args ...interface{}) *TimeoutError {

	return NewTimeoutError(op, fmt.Sprintf(format, args...))
}

func (e *TimeoutError) Error() string {
	return e.Text
}

func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	switch Cause(err).(type) {
	case *TimeoutError, *ScanTmoError:
		return true
	default:
		return false
	}
}

type ScanTmoError struct {
	Text string
}

func NewScanTmoError(text string) *ScanTmoError {
	return &ScanTmoError{
		Text: text,
	}
}

func (e *ScanTmoError) Error() string {
	return e.Text
}

func IsScanTmo(err error) bool {
	_, ok := Cause(err).(*ScanTmoError)
	return ok
}

// Completion event reported a non-success status.
type BleHostError struct {
	Text   string
	Status int
}

func NewBleHostError(status int, text string) *BleHostError {
	return &BleHostError{
		Status: status,
		Text:   text,
	}
}

func FmtBleHostError(status int, format string,
	args ...interface{}) *BleHostError {

	return NewBleHostError(status, fmt.Sprintf(format, args...))
}

func (e *BleHostError) Error() string {
	return e.Text
}

func IsBleHost(err error) bool {
	_, ok := Cause(err).(*BleHostError)
	return ok
}

func ToBleHost(err error) *BleHostError {
	if berr, ok := Cause(err).(*BleHostError); ok {
		return berr
	} else {
		return nil
	}
}

// The link went away while a request was pending.
type ConnClosedError struct {
	Text   string
	Reason int
}

func NewConnClosedError(reason int, text string) *ConnClosedError {
	return &ConnClosedError{
		Reason: reason,
		Text:   text,
	}
}

func (e *ConnClosedError) Error() string {
	return e.Text
}

func IsConnClosed(err error) bool {
	_, ok := Cause(err).(*ConnClosedError)
	return ok
}

// Indicates an attempt to transition to the already-current state.
type AlreadyError struct {
	Text string
}

func NewAlreadyError(text string) *AlreadyError {
	return &AlreadyError{text}
}

func (err *AlreadyError) Error() string {
	return err.Text
}

func IsAlready(err error) bool {
	if err == nil {
		return false
	}

	_, ok := Cause(err).(*AlreadyError)
	return ok
}

// The session gave up after exhausting its restart budget.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func NewRetryExhaustedError(attempts int, last error) *RetryExhaustedError {
	return &RetryExhaustedError{
		Attempts: attempts,
		Last:     last,
	}
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d restarts; last error: %v",
		e.Attempts, e.Last)
}

func IsRetryExhausted(err error) bool {
	_, ok := Cause(err).(*RetryExhaustedError)
	return ok
}
