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
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomyThroughWrap(t *testing.T) {
	err := errors.Wrap(FmtTimeoutError("read", "read timeout (handle=%d)", 3),
		"reading model")
	assert.True(t, IsTimeout(err))
	assert.False(t, IsBleHost(err))
	assert.Contains(t, err.Error(), "handle=3")

	err = errors.Wrap(NewScanTmoError("scan timeout"), "scan")
	assert.True(t, IsScanTmo(err))
	assert.True(t, IsTimeout(err))

	herr := errors.Wrapf(FmtBleHostError(0x0a, "read status=%d", 0x0a), "x")
	require.True(t, IsBleHost(herr))
	assert.Equal(t, 0x0a, ToBleHost(herr).Status)
	assert.Nil(t, ToBleHost(err))

	assert.True(t, IsXport(errors.Wrap(NewXportError("busy"), "tx")))
	assert.False(t, IsXport(nil))
	assert.True(t, IsConnClosed(NewConnClosedError(0x13, "gone")))
	assert.True(t, IsAlready(NewAlreadyError("twice")))
	assert.False(t, IsAlready(nil))

	rerr := NewRetryExhaustedError(4, NewScanTmoError("scan timeout"))
	assert.True(t, IsRetryExhausted(errors.Wrap(rerr, "run")))
	assert.Contains(t, rerr.Error(), "4 restarts")
}

func TestErrorCausedBy(t *testing.T) {
	base := NewXportError("host stopped")
	wrapped := errors.Wrap(errors.Wrap(base, "inner"), "outer")

	assert.True(t, ErrorCausedBy(wrapped, base))
	assert.False(t, ErrorCausedBy(wrapped, NewXportError("other")))
	assert.Nil(t, Cause(nil))
}

func TestBlocker(t *testing.T) {
	var b Blocker

	// Never started: no wait.
	v, err := b.Wait(time.Millisecond, nil)
	assert.NoError(t, err)
	assert.Nil(t, v)

	b.Start()
	assert.True(t, b.Started())

	_, err = b.Wait(10*time.Millisecond, nil)
	assert.True(t, IsTimeout(err))

	go b.Unblock("ready")
	v, err = b.Wait(time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", v)
	assert.False(t, b.Started())

	// Stays released.
	v, err = b.Wait(time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, "ready", v)

	b.Start()
	stop := make(chan struct{})
	close(stop)
	_, err = b.Wait(time.Second, stop)
	assert.Error(t, err)
}

func TestBcasterNeverBlocks(t *testing.T) {
	var b Bcaster

	ch1 := b.Listen()
	ch2 := b.Listen()
	assert.Equal(t, 2, b.Len())

	// Nobody is reading yet; must not block.
	b.SendAndClear(7)
	assert.Equal(t, 0, b.Len())

	for _, ch := range []chan interface{}{ch1, ch2} {
		v, ok := <-ch
		assert.True(t, ok)
		assert.Equal(t, 7, v)
		_, ok = <-ch
		assert.False(t, ok)
	}

	ch3 := b.Listen()
	b.Clear()
	_, ok := <-ch3
	assert.False(t, ok)
}
