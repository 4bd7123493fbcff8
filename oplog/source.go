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
	"context"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/chunked"
	"github.com/couchbase/oplogConnector/document"
)

// Cursor reads a source's log forward.
type Cursor interface {
	// TryNext returns the next entry, or nil when none is available yet. It
	// fails with base.ErrCursorInvalidated when the source dropped the
	// cursor's position.
	TryNext(ctx context.Context) (*LogEntry, error)
	Close(ctx context.Context) error
}

// Source is one replication source, e.g. one replica set of a sharded cluster.
type Source interface {
	Name() string
	// Tail opens a cursor on the entries strictly after ts. It fails with
	// base.ErrCheckpointTooOld when entries after ts were already discarded.
	Tail(ctx context.Context, after base.Timestamp) (Cursor, error)
	// LatestTimestamp is the timestamp of the newest entry, zero for an empty log
	LatestTimestamp(ctx context.Context) (base.Timestamp, error)
	// Namespaces lists every db.collection currently holding data
	Namespaces(ctx context.Context) ([]string, error)
	// Scan calls fn for every document of ns
	Scan(ctx context.Context, ns string, fn func(doc document.Object) error) error
	// Lookup returns the current version of a document, or base.ErrDocumentNotFound
	Lookup(ctx context.Context, ns string, id document.Value) (document.Object, error)
	Close(ctx context.Context) error
}

// FileSource is implemented by sources storing segmented objects. filesNs
// is the <db>.<bucket>.files namespace of the metadata records.
type FileSource interface {
	ChunkStore(filesNs string) (chunked.ChunkStore, error)
}
