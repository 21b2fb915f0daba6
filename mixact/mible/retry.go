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
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/lywsd/mithermo/mixact/mixutil"
)

// Bounds session restarts.  Delays grow exponentially between InitialBackoff
// and MaxBackoff; reaching steady state resets them.
// Only count may be read outside the session goroutine.
type restarter struct {
	bo       backoff.BackOff
	count    int32
	max      int
	lastWait time.Duration
}

// A negative maxRestarts never gives up.
func newRestarter(initial time.Duration, max time.Duration,
	maxRestarts int) *restarter {

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initial
	exp.MaxInterval = max
	exp.MaxElapsedTime = 0

	var bo backoff.BackOff = exp
	if maxRestarts >= 0 {
		bo = backoff.WithMaxRetries(exp, uint64(maxRestarts))
	}
	bo.Reset()

	return &restarter{
		bo:  bo,
		max: maxRestarts,
	}
}

// Returns the delay to wait before the next restart, or an error if the
// restart budget is spent.
func (r *restarter) next(cause error) (time.Duration, error) {
	d := r.bo.NextBackOff()
	if d == backoff.Stop {
		return 0, mixutil.NewRetryExhaustedError(r.restarts(), cause)
	}

	n := atomic.AddInt32(&r.count, 1)
	r.lastWait = d
	log.Debugf("restart %d; backoff=%s", n, d.String())
	return d, nil
}

func (r *restarter) reset() {
	r.bo.Reset()
	atomic.StoreInt32(&r.count, 0)
}

func (r *restarter) restarts() int {
	return int(atomic.LoadInt32(&r.count))
}
