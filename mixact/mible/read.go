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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/lywsd/mithermo/mixact/host"
)

func (c *Conn) pool() *BufPool {
	if c.cfg.Pool != nil {
		return c.cfg.Pool
	}
	return DefaultBufPool
}

// Reads a characteristic value.  An empty value, or one that cannot be
// buffered because the pool is exhausted, yields a nil buffer and no error.
// The caller must release a non-nil buffer exactly once.
func (c *Conn) ReadChr(handle int, timeout time.Duration) (*ReadBuf, error) {
	var rb *ReadBuf

	fn := func() error {
		r := host.NewReadReq(c.connHandle, handle)

		bl, err := c.rxvr.AddListener("read", SeqKey(r.Seq))
		if err != nil {
			return err
		}
		defer c.rxvr.RemoveListener("read", bl)

		data, err := read(c.bx, bl, r, timeout)
		if err != nil {
			return err
		}

		if len(data) == 0 {
			log.Debugf("empty read; attr_handle=%d", handle)
			return nil
		}

		rb = c.pool().Get(data)
		if rb == nil {
			log.Errorf("read buffer pool exhausted; dropping %d bytes "+
				"from attr_handle=%d", len(data), handle)
		}

		return nil
	}

	if err := c.runTask(fn); err != nil {
		return nil, err
	}

	return rb, nil
}
