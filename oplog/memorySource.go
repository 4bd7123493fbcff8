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
	"fmt"
	"sort"
	"sync"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/chunked"
	"github.com/couchbase/oplogConnector/document"
)

// MemorySource is an in-memory Source. Its log can be truncated to mimic
// a capped log rotating, and its cursors invalidated on demand.
type MemorySource struct {
	name string

	mtx         sync.RWMutex
	entries     []*LogEntry
	discardedTo base.Timestamp
	generation  int
	tails       int
	collections map[string]map[string]document.Object
	fileStores  map[string]*chunked.MemoryStore
}

func NewMemorySource(name string) *MemorySource {
	return &MemorySource{
		name:        name,
		collections: make(map[string]map[string]document.Object),
		fileStores:  make(map[string]*chunked.MemoryStore),
	}
}

func (m *MemorySource) Name() string {
	return m.name
}

// Append adds entries to the log. Timestamps must strictly increase.
func (m *MemorySource) Append(entries ...*LogEntry) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for _, e := range entries {
		if e.Timestamp <= m.latestLocked() {
			return fmt.Errorf("entry %v does not advance the log past %v", e, m.latestLocked())
		}
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *MemorySource) latestLocked() base.Timestamp {
	if len(m.entries) > 0 {
		return m.entries[len(m.entries)-1].Timestamp
	}
	return m.discardedTo
}

// Truncate discards every entry up to and including upTo.
func (m *MemorySource) Truncate(upTo base.Timestamp) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	idx := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Timestamp > upTo })
	if idx == 0 {
		return
	}
	m.discardedTo = m.entries[idx-1].Timestamp
	m.entries = append([]*LogEntry(nil), m.entries[idx:]...)
}

// Invalidate makes every open cursor fail with base.ErrCursorInvalidated.
func (m *MemorySource) Invalidate() {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.generation++
}

// PutDocument stores doc in ns for Scan and Lookup.
func (m *MemorySource) PutDocument(ns string, doc document.Object) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	coll, ok := m.collections[ns]
	if !ok {
		coll = make(map[string]document.Object)
		m.collections[ns] = coll
	}
	coll[document.Key(doc[base.IdField])] = doc.Clone()
}

// FileStore returns the chunk store behind filesNs, creating it if needed.
func (m *MemorySource) FileStore(filesNs string) *chunked.MemoryStore {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	store, ok := m.fileStores[filesNs]
	if !ok {
		store = chunked.NewMemoryStore()
		m.fileStores[filesNs] = store
	}
	return store
}

func (m *MemorySource) ChunkStore(filesNs string) (chunked.ChunkStore, error) {
	return m.FileStore(filesNs), nil
}

func (m *MemorySource) Tail(ctx context.Context, after base.Timestamp) (Cursor, error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if after < m.discardedTo {
		return nil, fmt.Errorf("%w: %v requested, entries up to %v were discarded", base.ErrCheckpointTooOld, after, m.discardedTo)
	}
	m.tails++
	return &memoryCursor{source: m, after: after, generation: m.generation}, nil
}

func (m *MemorySource) LatestTimestamp(ctx context.Context) (base.Timestamp, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.latestLocked(), nil
}

func (m *MemorySource) Namespaces(ctx context.Context) ([]string, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	out := make([]string, 0, len(m.collections))
	for ns := range m.collections {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemorySource) Scan(ctx context.Context, ns string, fn func(doc document.Object) error) error {
	m.mtx.RLock()
	coll := m.collections[ns]
	keys := make([]string, 0, len(coll))
	for k := range coll {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	docs := make([]document.Object, 0, len(keys))
	for _, k := range keys {
		docs = append(docs, coll[k].Clone())
	}
	m.mtx.RUnlock()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySource) Lookup(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	doc, ok := m.collections[ns][document.Key(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrDocumentNotFound, document.Key(id), ns)
	}
	return doc.Clone(), nil
}

// TailCount is the number of cursors opened so far.
func (m *MemorySource) TailCount() int {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.tails
}

func (m *MemorySource) Close(ctx context.Context) error {
	return nil
}

type memoryCursor struct {
	source     *MemorySource
	after      base.Timestamp
	generation int
	closed     bool
}

func (c *memoryCursor) TryNext(ctx context.Context) (*LogEntry, error) {
	if c.closed {
		return nil, fmt.Errorf("%w: cursor is closed", base.ErrCursorInvalidated)
	}
	m := c.source
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	if c.generation != m.generation || c.after < m.discardedTo {
		return nil, fmt.Errorf("%w: position %v on %v", base.ErrCursorInvalidated, c.after, m.name)
	}
	idx := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].Timestamp > c.after })
	if idx == len(m.entries) {
		return nil, nil
	}
	e := m.entries[idx]
	c.after = e.Timestamp
	return &LogEntry{
		Timestamp:     e.Timestamp,
		Op:            e.Op,
		Namespace:     e.Namespace,
		Payload:       e.Payload.Clone(),
		UpdatePayload: e.UpdatePayload.Clone(),
		Refetch:       e.Refetch,
	}, nil
}

func (c *memoryCursor) Close(ctx context.Context) error {
	c.closed = true
	return nil
}

var (
	_ Source     = (*MemorySource)(nil)
	_ FileSource = (*MemorySource)(nil)
)
