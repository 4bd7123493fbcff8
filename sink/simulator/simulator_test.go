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
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doc(id int64, kv ...interface{}) document.Object {
	d := document.Object{base.IdField: document.Int(id)}
	for i := 0; i+1 < len(kv); i += 2 {
		d[kv[i].(string)] = document.FromNative(kv[i+1])
	}
	return d
}

func TestSimulatorUpsertGetRemove(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	sim := New(nil)

	require.NoError(t, sim.Upsert(ctx, doc(1, "x", 1), "db.coll", 5))
	got, err := sim.Get(ctx, "db.coll", document.Int(1))
	require.NoError(t, err)
	assert.Equal(document.Int(5), got[base.TimestampField])
	assert.Equal(document.String("db.coll"), got[base.NamespaceField])

	_, err = sim.Get(ctx, "db.other", document.Int(1))
	assert.True(errors.Is(err, base.ErrDocumentNotFound))

	require.NoError(t, sim.Remove(ctx, document.Int(1), "db.coll", 6))
	assert.Equal(0, sim.Len())
	assert.Len(sim.Operations(), 2)
}

func TestSimulatorSearchAndLastDocument(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	sim := New(nil)

	last, err := sim.GetLastDocument(ctx)
	require.NoError(t, err)
	assert.Nil(last)

	require.NoError(t, sim.Upsert(ctx, doc(1), "db.a", 10))
	require.NoError(t, sim.Upsert(ctx, doc(2), "db.b", 30))
	require.NoError(t, sim.BulkUpsert(ctx, []document.Object{doc(3), doc(4)}, "db.a", 20))

	found, err := sim.Search(ctx, 15, 30)
	require.NoError(t, err)
	assert.Len(found, 3)

	last, err = sim.GetLastDocument(ctx)
	require.NoError(t, err)
	assert.Equal(document.Int(2), last[base.IdField])
}

func TestSimulatorCommands(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	sim := New(nil)

	require.NoError(t, sim.Upsert(ctx, doc(1), "db.a", 1))
	require.NoError(t, sim.Upsert(ctx, doc(2), "db.b", 2))
	require.NoError(t, sim.Upsert(ctx, doc(3), "other.c", 3))

	require.NoError(t, sim.RenameCollection(ctx, "db.a", "db.z"))
	assert.Empty(sim.Documents("db.a"))
	moved := sim.Documents("db.z")
	require.Len(t, moved, 1)
	assert.Equal(document.String("db.z"), moved[0][base.NamespaceField])
	assert.True(sim.HasCollection("db.z"))
	assert.False(sim.HasCollection("db.a"))

	require.NoError(t, sim.DropCollection(ctx, "db.b"))
	assert.Empty(sim.Documents("db.b"))

	require.NoError(t, sim.DropDatabase(ctx, "db"))
	assert.Equal(1, sim.Len())
	assert.False(sim.HasCollection("db.z"))
	assert.True(sim.HasCollection("other.c"))

	require.NoError(t, sim.CreateCollection(ctx, "new.coll"))
	assert.True(sim.HasCollection("new.coll"))
}

func TestSimulatorInsertFile(t *testing.T) {
	ctx := context.Background()
	sim := New(nil)
	meta := document.Object{base.IdField: document.String("f1"), "filename": document.String("a.txt")}

	require.NoError(t, sim.InsertFile(ctx, meta, bytes.NewReader([]byte("payload")), "db.fs", 4))
	got, err := sim.Get(ctx, "db.fs", document.String("f1"))
	require.NoError(t, err)
	assert.Equal(t, document.Binary("payload"), got[ContentField])
	assert.Equal(t, document.String("a.txt"), got["filename"])
}

func TestSimulatorStopIsIdempotent(t *testing.T) {
	sim := New(nil)
	require.NoError(t, sim.Commit(context.Background()))
	assert.NoError(t, sim.Stop())
	assert.NoError(t, sim.Stop())
	assert.True(t, sim.Stopped())
	assert.Equal(t, int64(1), sim.Commits())
}
