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
	"io"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
)

// Metadata describes a segmented object: its identity, declared length and
// the size of every chunk but the last.
type Metadata struct {
	Id        document.Value
	Length    int64
	ChunkSize int64
	// remaining fields of the metadata record
	Extra document.Object
}

// ChunkStore is where segmented objects live.
type ChunkStore interface {
	// FindObject returns base.ErrObjectNotFound when no metadata record matches id
	FindObject(ctx context.Context, id document.Value) (*Metadata, error)
	// GetChunk returns the chunk with index n, found is false when it does not exist
	GetChunk(ctx context.Context, id document.Value, n int) (data []byte, found bool, err error)
}

// Reader is a forward only cursor over the chunks of one object. Bytes
// fetched beyond what a caller asked for are kept for the next read.
type Reader struct {
	ctx   context.Context
	store ChunkStore
	meta  Metadata

	nextChunk int
	leftover  []byte
	consumed  int64
	exhausted bool
}

func Open(ctx context.Context, store ChunkStore, id document.Value) (*Reader, error) {
	meta, err := store.FindObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %v", base.ErrObjectNotFound, document.Key(id))
	}
	return &Reader{ctx: ctx, store: store, meta: *meta}, nil
}

func (r *Reader) Metadata() Metadata {
	return r.meta
}

// ReadN returns up to n bytes. Fewer bytes, down to none, means the chunk
// sequence ran out.
func (r *Reader) ReadN(n int) ([]byte, error) {
	if n <= 0 {
		return []byte{}, nil
	}
	for len(r.leftover) < n && !r.exhausted {
		data, found, err := r.store.GetChunk(r.ctx, r.meta.Id, r.nextChunk)
		if err != nil {
			return nil, err
		}
		if !found {
			r.exhausted = true
			break
		}
		r.nextChunk++
		r.leftover = append(r.leftover, data...)
	}

	count := n
	if count > len(r.leftover) {
		count = len(r.leftover)
	}
	out := make([]byte, count)
	copy(out, r.leftover[:count])
	r.leftover = r.leftover[count:]
	r.consumed += int64(count)
	return out, nil
}

// ReadAll reads the rest of the object as declared by its metadata.
func (r *Reader) ReadAll() ([]byte, error) {
	return r.ReadN(int(r.Remaining()))
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.ReadN(len(p))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, io.EOF
	}
	return copy(p, data), nil
}

// Remaining is the declared length minus what has been returned so far.
func (r *Reader) Remaining() int64 {
	remaining := r.meta.Length - r.consumed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Verify reports base.ErrCorruptObject when the chunk sequence ended before
// the declared length was reached.
func (r *Reader) Verify() error {
	if r.exhausted && len(r.leftover) == 0 && r.consumed < r.meta.Length {
		return fmt.Errorf("%w: %v has %v of %v bytes", base.ErrCorruptObject, document.Key(r.meta.Id), r.consumed, r.meta.Length)
	}
	return nil
}

// ReadObject opens id and returns its whole content, failing on a truncated
// chunk sequence instead of returning a short result.
func ReadObject(ctx context.Context, store ChunkStore, id document.Value) (*Metadata, []byte, error) {
	reader, err := Open(ctx, store, id)
	if err != nil {
		return nil, nil, err
	}
	data, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if err = reader.Verify(); err != nil {
		return nil, nil, err
	}
	meta := reader.Metadata()
	return &meta, data, nil
}
