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
)

type job struct {
	fn   func() error
	done chan error
}

func (j job) finish(err error) {
	j.done <- err
	close(j.done)
}

// Runs jobs one at a time on a dedicated goroutine.  A host backend delivers
// all of its events through one of these, so no two event callbacks ever
// overlap.
type TaskQueue struct {
	name string

	// Protects everything below.
	mtx     sync.Mutex
	jobs    chan job
	quit    chan struct{}
	running bool

	wg sync.WaitGroup
}

func NewTaskQueue(name string) TaskQueue {
	return TaskQueue{name: name}
}

var InactiveError = fmt.Errorf("inactive task queue")

// Queues fn and returns the channel its result will arrive on.  Must not be
// called from a job running in the same queue once the queue is full.
func (q *TaskQueue) Enqueue(fn func() error) chan error {
	j := job{
		fn:   fn,
		done: make(chan error, 1),
	}

	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.running {
		q.jobs <- j
	} else {
		j.finish(InactiveError)
	}

	return j.done
}

// Queues fn without waiting for it.  The only possible error is
// InactiveError.
func (q *TaskQueue) Post(fn func()) error {
	done := q.Enqueue(func() error {
		fn()
		return nil
	})

	// A rejected job has already been answered.
	select {
	case err := <-done:
		if err == InactiveError {
			return err
		}
	default:
	}

	return nil
}

// Queues fn and blocks until it has run.
func (q *TaskQueue) Run(fn func() error) error {
	return <-q.Enqueue(fn)
}

func (q *TaskQueue) loop(jobs <-chan job, quit <-chan struct{}) {
	defer q.wg.Done()

	for {
		select {
		case <-quit:
			return

		case j, ok := <-jobs:
			if !ok {
				return
			}
			j.finish(j.fn())
		}
	}
}

// depth is the number of jobs that can be pending before Enqueue blocks.
func (q *TaskQueue) Start(depth int) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if q.running {
		return fmt.Errorf("task queue \"%s\" already running", q.name)
	}

	q.jobs = make(chan job, depth)
	q.quit = make(chan struct{})
	q.running = true

	q.wg.Add(1)
	go q.loop(q.jobs, q.quit)

	return nil
}

// Stops the queue and waits for the running job, if any, to return.  Jobs
// still pending fail with cause.  A job must call StopNoWait instead.
func (q *TaskQueue) Stop(cause error) error {
	if err := q.StopNoWait(cause); err != nil {
		return err
	}

	q.wg.Wait()
	return nil
}

func (q *TaskQueue) StopNoWait(cause error) error {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	if !q.running {
		return fmt.Errorf("task queue \"%s\" not running", q.name)
	}
	q.running = false

	close(q.quit)
	close(q.jobs)
	for j := range q.jobs {
		j.finish(cause)
	}

	return nil
}

func (q *TaskQueue) Active() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()

	return q.running
}

func (q *TaskQueue) Name() string {
	return q.name
}
