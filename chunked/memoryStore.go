// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package chunked

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
)

type memoryObject struct {
	meta   Metadata
	chunks [][]byte
}

// MemoryStore is a ChunkStore kept in memory.
type MemoryStore struct {
	mtx     sync.RWMutex
	objects map[string]*memoryObject
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*memoryObject)}
}

// Put splits data into chunks of chunkSize bytes.
func (m *MemoryStore) Put(id document.Value, data []byte, chunkSize int) {
	if chunkSize <= 0 {
		chunkSize = len(data)
	}
	var chunks [][]byte
	for start := 0; start < len(data); start += chunkSize {
		end := start + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, append([]byte(nil), data[start:end]...))
	}
	m.PutChunks(id, int64(len(data)), int64(chunkSize), chunks...)
}

// PutChunks stores a metadata record with the given declared length and chunks
// as is, which may disagree with each other.
func (m *MemoryStore) PutChunks(id document.Value, length, chunkSize int64, chunks ...[]byte) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.objects[document.Key(id)] = &memoryObject{
		meta:   Metadata{Id: id, Length: length, ChunkSize: chunkSize},
		chunks: chunks,
	}
}

func (m *MemoryStore) Delete(id document.Value) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	delete(m.objects, document.Key(id))
}

func (m *MemoryStore) FindObject(ctx context.Context, id document.Value) (*Metadata, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	obj, ok := m.objects[document.Key(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %v", base.ErrObjectNotFound, document.Key(id))
	}
	meta := obj.meta
	return &meta, nil
}

func (m *MemoryStore) GetChunk(ctx context.Context, id document.Value, n int) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	obj, ok := m.objects[document.Key(id)]
	if !ok || n < 0 || n >= len(obj.chunks) {
		return nil, false, nil
	}
	return obj.chunks[n], true, nil
}
