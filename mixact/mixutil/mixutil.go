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
	"path"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var listenLog = &log.Logger{
	Out:       log.StandardLogger().Out,
	Formatter: new(log.TextFormatter),
	Level:     log.InfoLevel,
}

var logMtx sync.Mutex

// Listener add/remove traffic is very chatty; it only shows at debug level.
func SetLogLevel(level log.Level) {
	log.SetLevel(level)

	logMtx.Lock()
	listenLog.Level = level
	logMtx.Unlock()
}

func callerName(depth int) string {
	pc, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "???"
	}

	fn := runtime.FuncForPC(pc)
	name := "???"
	if fn != nil {
		name = path.Base(fn.Name())
	}

	return fmt.Sprintf("%s:%d %s", path.Base(file), line, name)
}

func LogListener(depth int, title string, extra string) {
	logMtx.Lock()
	debug := listenLog.Level >= log.DebugLevel
	logMtx.Unlock()

	if debug {
		listenLog.Debugf("{%s} [%s] %s", title, callerName(depth+1), extra)
	}
}

func LogAddListener(depth int, key interface{}, id uint32, name string) {
	LogListener(depth+1, "add-listener",
		fmt.Sprintf("[%d] %s: base=%+v", id, name, key))
}

func LogRemoveListener(depth int, key interface{}, id uint32, name string) {
	LogListener(depth+1, "remove-listener",
		fmt.Sprintf("[%d] %s: base=%+v", id, name, key))
}

func Assert(cond bool) {
	if !cond {
		panic("Assertion failed")
	}
}

func StopAndDrainTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}

// Unwraps pkg/errors wrappers.  Nil stays nil.
func Cause(err error) error {
	if err == nil {
		return nil
	}
	return errors.Cause(err)
}

func ErrorCausedBy(err error, cause error) bool {
	cur := err
	for {
		if cur == cause {
			return true
		}

		child := errors.Cause(cur)
		if child == cur {
			return false
		}

		cur = child
	}
}

var nextId uint32
var idMtx sync.Mutex

// Identifies a receiver in listener logs.
func GetNextId() uint32 {
	idMtx.Lock()
	defer idMtx.Unlock()

	id := nextId
	nextId++
	return id
}
