// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package sink

import (
	"context"
	"io"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
)

// Sink is a replication target. Documents are handed over without the
// replication metadata; ns and ts tell the sink where and when they were
// written so it can answer Search and GetLastDocument.
type Sink interface {
	Upsert(ctx context.Context, doc document.Object, ns string, ts base.Timestamp) error
	Remove(ctx context.Context, id document.Value, ns string, ts base.Timestamp) error
	// Get returns the stored document with its _ts and ns fields, or base.ErrDocumentNotFound
	Get(ctx context.Context, ns string, id document.Value) (document.Object, error)
	// Search returns the documents last written with a timestamp in [start, end]
	Search(ctx context.Context, start, end base.Timestamp) ([]document.Object, error)
	Commit(ctx context.Context) error
	// GetLastDocument returns the most recently written document, nil when the sink is empty
	GetLastDocument(ctx context.Context) (document.Object, error)
	Stop() error
}

// BulkUpserter is implemented by sinks that can write many documents at once.
type BulkUpserter interface {
	BulkUpsert(ctx context.Context, docs []document.Object, ns string, ts base.Timestamp) error
}

// Updater is implemented by sinks with their own merge of an update into a document.
type Updater interface {
	ApplyUpdate(doc document.Object, spec document.Object) (document.Object, error)
}

// Patcher is implemented by sinks that take update operators as is. The
// updated document is returned.
type Patcher interface {
	Patch(ctx context.Context, id document.Value, spec document.Object, ns string, ts base.Timestamp) (document.Object, error)
}

// CommandHandler replaces the default command dispatch.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd document.Object, ts base.Timestamp) error
}

// CommandHooks receive the commands dispatched by HandleCommand.
type CommandHooks interface {
	CreateCollection(ctx context.Context, ns string) error
	DropCollection(ctx context.Context, ns string) error
	RenameCollection(ctx context.Context, from, to string) error
	DropDatabase(ctx context.Context, db string) error
}

// FileInserter is implemented by sinks that store segmented objects.
type FileInserter interface {
	InsertFile(ctx context.Context, meta document.Object, content io.Reader, ns string, ts base.Timestamp) error
}

// Target is a named sink with its commit policy.
type Target struct {
	Name string
	Sink Sink
	// AutoCommit: nil never commits on its own, 0 commits after every write
	AutoCommit *time.Duration
}

func (t *Target) CommitEachWrite() bool {
	return t.AutoCommit != nil && *t.AutoCommit == 0
}

func (t *Target) CommitInterval() time.Duration {
	if t.AutoCommit == nil || *t.AutoCommit < 0 {
		return 0
	}
	return *t.AutoCommit
}
