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

package sink

import (
	"github.com/fatih/structs"
	log "github.com/sirupsen/logrus"

	"github.com/lywsd/mithermo/mixact/mible"
)

type LogSink struct {
	logger log.FieldLogger
}

// A nil logger means the standard logrus logger.
func NewLogSink(logger log.FieldLogger) *LogSink {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &LogSink{logger: logger}
}

func (ls *LogSink) Report(info mible.DeviceInfo, r mible.Reading) error {
	m := structs.Map(NewRecord(info, r))
	ls.logger.WithFields(log.Fields(m)).Info("reading")
	return nil
}

func (ls *LogSink) Close() error {
	return nil
}
