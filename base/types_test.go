// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package base

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampParts(t *testing.T) {
	assert := assert.New(t)

	ts := NewTimestamp(1700000000, 7)
	assert.Equal(uint32(1700000000), ts.Seconds())
	assert.Equal(uint32(7), ts.Increment())
	assert.Equal("1700000000:7", ts.String())

	assert.True(NewTimestamp(5, 1) < NewTimestamp(5, 2))
	assert.True(NewTimestamp(5, 9) < NewTimestamp(6, 0))
	assert.Equal(Timestamp(3), NewTimestamp(0, 3))
}

func TestOpTypeString(t *testing.T) {
	tests := []struct {
		op   OpType
		want string
	}{
		{OpInsert, "insert"},
		{OpUpdate, "update"},
		{OpDelete, "delete"},
		{OpCommand, "command"},
		{OpNoop, "noop"},
		{OpType("x"), "unknown(x)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.op.String())
		})
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("tailer", "warn", &buf)
	logger.Infof("hidden %v", 1)
	logger.Warnf("shown %v", 2)
	_ = logger.Sync()

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown 2")
	assert.Contains(t, out, "tailer")
}
