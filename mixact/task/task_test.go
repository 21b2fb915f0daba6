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

package task

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskQueueSerial(t *testing.T) {
	q := NewTaskQueue("test")
	require.NoError(t, q.Start(8))
	defer q.Stop(fmt.Errorf("done"))

	var mtx sync.Mutex
	running := 0
	maxRunning := 0
	order := []int{}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		ch := q.Enqueue(func() error {
			mtx.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			order = append(order, i)
			running--
			mtx.Unlock()
			return nil
		})
		go func() {
			defer wg.Done()
			assert.NoError(t, <-ch)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxRunning)
	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestTaskQueueRunReturnsJobError(t *testing.T) {
	q := NewTaskQueue("test")
	require.NoError(t, q.Start(1))
	defer q.Stop(nil)

	err := q.Run(func() error { return fmt.Errorf("boom") })
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "test", q.Name())
}

func TestTaskQueueInactive(t *testing.T) {
	q := NewTaskQueue("idle")

	assert.Equal(t, InactiveError, q.Run(func() error { return nil }))
	assert.Equal(t, InactiveError, q.Post(func() {}))
	assert.Error(t, q.Stop(nil))

	require.NoError(t, q.Start(1))
	assert.Error(t, q.Start(1))
	assert.True(t, q.Active())
	require.NoError(t, q.Stop(nil))
	assert.False(t, q.Active())

	// Restartable after a stop.
	require.NoError(t, q.Start(1))
	assert.NoError(t, q.Run(func() error { return nil }))
	require.NoError(t, q.Stop(nil))
}
