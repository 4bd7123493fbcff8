// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package simulator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/sink"
	"github.com/zhangyunhao116/skipmap"
	"go.uber.org/zap"
)

const Name = "simulator"

// separates the namespace from the document key in index keys
const keySeparator = "\x00"

const ContentField = "content"

type OpKind string

const (
	OpUpsert           OpKind = "upsert"
	OpRemove           OpKind = "remove"
	OpInsertFile       OpKind = "insertFile"
	OpCreateCollection OpKind = "createCollection"
	OpDropCollection   OpKind = "dropCollection"
	OpRenameCollection OpKind = "renameCollection"
	OpDropDatabase     OpKind = "dropDatabase"
)

// Operation is one call received by the simulator, in arrival order.
type Operation struct {
	Kind      OpKind
	Namespace string
	Target    string
	Doc       document.Object
	Id        document.Value
	Timestamp base.Timestamp
}

type record struct {
	doc document.Object
	ts  base.Timestamp
}

// Simulator keeps the last version of every document in memory, together
// with its _ts and ns, and records every operation it receives.
type Simulator struct {
	docs        *skipmap.FuncMap[string, *record]
	collections *skipmap.FuncMap[string, struct{}]
	logger      *zap.SugaredLogger

	opsMtx sync.Mutex
	ops    []Operation

	commits atomic.Int64
	stopped atomic.Bool
}

func lessString(a, b string) bool {
	return a < b
}

func New(logger *zap.SugaredLogger) *Simulator {
	if logger == nil {
		logger = base.NewNopLogger()
	}
	return &Simulator{
		docs:        skipmap.NewFunc[string, *record](lessString),
		collections: skipmap.NewFunc[string, struct{}](lessString),
		logger:      logger,
	}
}

func indexKey(ns string, id document.Value) string {
	return ns + keySeparator + document.Key(id)
}

func (s *Simulator) record(op Operation) {
	s.opsMtx.Lock()
	defer s.opsMtx.Unlock()
	s.ops = append(s.ops, op)
}

// Operations returns a copy of every operation received so far.
func (s *Simulator) Operations() []Operation {
	s.opsMtx.Lock()
	defer s.opsMtx.Unlock()
	return append([]Operation(nil), s.ops...)
}

func (s *Simulator) Upsert(ctx context.Context, doc document.Object, ns string, ts base.Timestamp) error {
	id, ok := doc[base.IdField]
	if !ok {
		return fmt.Errorf("document for %v has no %v", ns, base.IdField)
	}
	s.record(Operation{Kind: OpUpsert, Namespace: ns, Doc: doc.Clone(), Id: id, Timestamp: ts})
	s.store(doc.Clone(), id, ns, ts)
	return nil
}

func (s *Simulator) store(doc document.Object, id document.Value, ns string, ts base.Timestamp) {
	doc[base.TimestampField] = document.Int(int64(ts))
	doc[base.NamespaceField] = document.String(ns)
	s.docs.Store(indexKey(ns, id), &record{doc: doc, ts: ts})
	s.collections.Store(ns, struct{}{})
}

func (s *Simulator) BulkUpsert(ctx context.Context, docs []document.Object, ns string, ts base.Timestamp) error {
	for _, doc := range docs {
		if err := s.Upsert(ctx, doc, ns, ts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Simulator) Remove(ctx context.Context, id document.Value, ns string, ts base.Timestamp) error {
	s.record(Operation{Kind: OpRemove, Namespace: ns, Id: id, Timestamp: ts})
	s.docs.Delete(indexKey(ns, id))
	return nil
}

func (s *Simulator) InsertFile(ctx context.Context, meta document.Object, content io.Reader, ns string, ts base.Timestamp) error {
	id, ok := meta[base.IdField]
	if !ok {
		return fmt.Errorf("file metadata for %v has no %v", ns, base.IdField)
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	doc := meta.Clone()
	doc[ContentField] = document.Binary(data)
	s.record(Operation{Kind: OpInsertFile, Namespace: ns, Doc: doc.Clone(), Id: id, Timestamp: ts})
	s.store(doc, id, ns, ts)
	return nil
}

func (s *Simulator) Get(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	rec, ok := s.docs.Load(indexKey(ns, id))
	if !ok {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrDocumentNotFound, document.Key(id), ns)
	}
	return rec.doc.Clone(), nil
}

func (s *Simulator) Search(ctx context.Context, start, end base.Timestamp) ([]document.Object, error) {
	var out []document.Object
	s.docs.Range(func(_ string, rec *record) bool {
		if rec.ts >= start && rec.ts <= end {
			out = append(out, rec.doc.Clone())
		}
		return true
	})
	return out, nil
}

func (s *Simulator) GetLastDocument(ctx context.Context) (document.Object, error) {
	var last *record
	s.docs.Range(func(_ string, rec *record) bool {
		if last == nil || rec.ts > last.ts {
			last = rec
		}
		return true
	})
	if last == nil {
		return nil, nil
	}
	return last.doc.Clone(), nil
}

// Documents returns the stored documents of ns in key order.
func (s *Simulator) Documents(ns string) []document.Object {
	var out []document.Object
	prefix := ns + keySeparator
	s.docs.Range(func(key string, rec *record) bool {
		if strings.HasPrefix(key, prefix) {
			out = append(out, rec.doc.Clone())
		}
		return true
	})
	return out
}

func (s *Simulator) Len() int {
	return s.docs.Len()
}

func (s *Simulator) Commit(ctx context.Context) error {
	s.commits.Add(1)
	return nil
}

func (s *Simulator) Commits() int64 {
	return s.commits.Load()
}

func (s *Simulator) Stop() error {
	if s.stopped.CompareAndSwap(false, true) {
		s.logger.Infof("simulator stopped with %v documents\n", s.docs.Len())
	}
	return nil
}

func (s *Simulator) Stopped() bool {
	return s.stopped.Load()
}

func (s *Simulator) HasCollection(ns string) bool {
	_, ok := s.collections.Load(ns)
	return ok
}

func (s *Simulator) CreateCollection(ctx context.Context, ns string) error {
	s.record(Operation{Kind: OpCreateCollection, Target: ns})
	s.collections.Store(ns, struct{}{})
	return nil
}

func (s *Simulator) DropCollection(ctx context.Context, ns string) error {
	s.record(Operation{Kind: OpDropCollection, Target: ns})
	s.dropWhere(func(docNs string) bool { return docNs == ns })
	s.collections.Delete(ns)
	return nil
}

func (s *Simulator) RenameCollection(ctx context.Context, from, to string) error {
	s.record(Operation{Kind: OpRenameCollection, Namespace: from, Target: to})
	prefix := from + keySeparator
	var moved []*record
	s.docs.Range(func(key string, rec *record) bool {
		if strings.HasPrefix(key, prefix) {
			moved = append(moved, rec)
		}
		return true
	})
	for _, rec := range moved {
		id := rec.doc[base.IdField]
		s.docs.Delete(indexKey(from, id))
		doc := rec.doc.Clone()
		doc[base.NamespaceField] = document.String(to)
		s.docs.Store(indexKey(to, id), &record{doc: doc, ts: rec.ts})
	}
	s.collections.Delete(from)
	s.collections.Store(to, struct{}{})
	return nil
}

func (s *Simulator) DropDatabase(ctx context.Context, db string) error {
	s.record(Operation{Kind: OpDropDatabase, Target: db})
	inDb := func(ns string) bool {
		nsDb, _ := namespace.Split(ns)
		return nsDb == db
	}
	s.dropWhere(inDb)
	var dropped []string
	s.collections.Range(func(ns string, _ struct{}) bool {
		if inDb(ns) {
			dropped = append(dropped, ns)
		}
		return true
	})
	for _, ns := range dropped {
		s.collections.Delete(ns)
	}
	return nil
}

func (s *Simulator) dropWhere(match func(ns string) bool) {
	var keys []string
	s.docs.Range(func(key string, _ *record) bool {
		ns, _, _ := strings.Cut(key, keySeparator)
		if match(ns) {
			keys = append(keys, key)
		}
		return true
	})
	for _, key := range keys {
		s.docs.Delete(key)
	}
}

var (
	_ sink.Sink         = (*Simulator)(nil)
	_ sink.BulkUpserter = (*Simulator)(nil)
	_ sink.CommandHooks = (*Simulator)(nil)
	_ sink.FileInserter = (*Simulator)(nil)
)
