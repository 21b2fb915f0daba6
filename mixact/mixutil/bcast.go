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
	"sync"
)

// Delivers one value to every registered listener, then forgets them.  Each
// listener channel has room for its value, so a send from a host callback
// never waits on a slow reader.
type Bcaster struct {
	mtx       sync.Mutex
	listeners []chan interface{}
}

func (b *Bcaster) Listen() chan interface{} {
	ch := make(chan interface{}, 1)

	b.mtx.Lock()
	b.listeners = append(b.listeners, ch)
	b.mtx.Unlock()

	return ch
}

func (b *Bcaster) take() []chan interface{} {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	l := b.listeners
	b.listeners = nil
	return l
}

// Hands val to every listener and closes their channels.
func (b *Bcaster) SendAndClear(val interface{}) {
	for _, ch := range b.take() {
		ch <- val
		close(ch)
	}
}

// Closes every listener channel without a value.
func (b *Bcaster) Clear() {
	for _, ch := range b.take() {
		close(ch)
	}
}

func (b *Bcaster) Len() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return len(b.listeners)
}
