// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package oplog

import (
	"fmt"
	"strings"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
)

// LogEntry is one operation log record.
type LogEntry struct {
	Timestamp base.Timestamp
	Op        base.OpType
	Namespace string
	// the document for inserts, the id holder for deletes, the update spec
	// for updates and the command for commands
	Payload document.Object
	// updates only: holds the _id of the document being updated
	UpdatePayload document.Object
	// updates only: Payload cannot be applied as a patch, the document is
	// read back from the source and replaced
	Refetch bool
}

// DocumentId returns the id of the document the entry applies to.
func (e *LogEntry) DocumentId() (document.Value, bool) {
	holder := e.Payload
	if e.Op == base.OpUpdate {
		holder = e.UpdatePayload
	}
	id, ok := holder[base.IdField]
	return id, ok
}

func (e *LogEntry) IsCommand() bool {
	_, coll := namespace.Split(e.Namespace)
	return e.Op == base.OpCommand || coll == base.CommandCollection
}

func (e *LogEntry) IsFileMetadata() bool {
	return strings.HasSuffix(e.Namespace, base.GridfsFilesSuffix)
}

func (e *LogEntry) IsFileChunk() bool {
	return strings.HasSuffix(e.Namespace, base.GridfsChunksSuffix)
}

func (e *LogEntry) String() string {
	return fmt.Sprintf("{ts=%v op=%v ns=%v}", e.Timestamp, e.Op, e.Namespace)
}
