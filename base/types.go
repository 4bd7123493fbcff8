// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package base

import "fmt"

// Timestamp is a log position: seconds in the high 32 bits and the
// per-second increment in the low 32 bits. Ordering of Timestamps is the
// ordering of the log.
type Timestamp uint64

func NewTimestamp(seconds, increment uint32) Timestamp {
	return Timestamp(uint64(seconds)<<32 | uint64(increment))
}

func (t Timestamp) Seconds() uint32 {
	return uint32(uint64(t) >> 32)
}

func (t Timestamp) Increment() uint32 {
	return uint32(uint64(t))
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%v:%v", t.Seconds(), t.Increment())
}

type OpType string

const (
	OpInsert  OpType = "i"
	OpUpdate  OpType = "u"
	OpDelete  OpType = "d"
	OpCommand OpType = "c"
	OpNoop    OpType = "n"
)

func (o OpType) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpCommand:
		return "command"
	case OpNoop:
		return "noop"
	}
	return fmt.Sprintf("unknown(%v)", string(o))
}
