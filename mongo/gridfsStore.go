// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/chunked"
	"github.com/couchbase/oplogConnector/document"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
)

// GridFS field names
const (
	lengthField    = "length"
	chunkSizeField = "chunkSize"
	filesIdField   = "files_id"
	chunkNumField  = "n"
)

// GridFSStore reads segmented objects of one GridFS bucket: metadata from
// <bucket>.files and content from <bucket>.chunks.
type GridFSStore struct {
	files  *driver.Collection
	chunks *driver.Collection
}

func NewGridFSStore(db *driver.Database, bucket string) *GridFSStore {
	return &GridFSStore{
		files:  db.Collection(bucket + base.GridfsFilesSuffix),
		chunks: db.Collection(bucket + base.GridfsChunksSuffix),
	}
}

func (g *GridFSStore) FindObject(ctx context.Context, id document.Value) (*chunked.Metadata, error) {
	var raw bson.D
	err := g.files.FindOne(ctx, bson.D{{Key: base.IdField, Value: ToBSON(id)}}).Decode(&raw)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrObjectNotFound, document.Key(id), g.files.Name())
	} else if err != nil {
		return nil, err
	}
	return MetadataFromFile(ObjectFromBSON(raw))
}

// MetadataFromFile reads a GridFS files record.
func MetadataFromFile(file document.Object) (*chunked.Metadata, error) {
	length, ok := numeric(file[lengthField])
	if !ok {
		return nil, fmt.Errorf("%w: files record without %v", base.ErrCorruptObject, lengthField)
	}
	chunkSize, ok := numeric(file[chunkSizeField])
	if !ok || (chunkSize <= 0 && length > 0) {
		return nil, fmt.Errorf("%w: files record with invalid %v", base.ErrCorruptObject, chunkSizeField)
	}

	extra := file.Clone()
	for _, key := range []string{base.IdField, lengthField, chunkSizeField} {
		delete(extra, key)
	}
	return &chunked.Metadata{
		Id:        file[base.IdField],
		Length:    length,
		ChunkSize: chunkSize,
		Extra:     extra,
	}, nil
}

func (g *GridFSStore) GetChunk(ctx context.Context, id document.Value, n int) ([]byte, bool, error) {
	filter := bson.D{
		{Key: filesIdField, Value: ToBSON(id)},
		{Key: chunkNumField, Value: n},
	}
	var chunk struct {
		Data []byte `bson:"data"`
	}
	err := g.chunks.FindOne(ctx, filter).Decode(&chunk)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("reading chunk %v of %v: %w", n, document.Key(id), err)
	}
	return chunk.Data, true, nil
}
