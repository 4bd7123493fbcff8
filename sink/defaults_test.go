// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package sink_test

import (
	"context"
	"errors"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/sink"
	"github.com/couchbase/oplogConnector/sink/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalSink implements only the required methods
type minimalSink struct {
	upserts []document.Object
}

func (m *minimalSink) Upsert(ctx context.Context, doc document.Object, ns string, ts base.Timestamp) error {
	m.upserts = append(m.upserts, doc)
	return nil
}
func (m *minimalSink) Remove(ctx context.Context, id document.Value, ns string, ts base.Timestamp) error {
	return nil
}
func (m *minimalSink) Get(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	return nil, base.ErrDocumentNotFound
}
func (m *minimalSink) Search(ctx context.Context, start, end base.Timestamp) ([]document.Object, error) {
	return nil, nil
}
func (m *minimalSink) Commit(ctx context.Context) error { return nil }
func (m *minimalSink) GetLastDocument(ctx context.Context) (document.Object, error) {
	return nil, nil
}
func (m *minimalSink) Stop() error { return nil }

type patchingSink struct {
	minimalSink
	patches []document.Object
}

func (p *patchingSink) Patch(ctx context.Context, id document.Value, spec document.Object, ns string, ts base.Timestamp) (document.Object, error) {
	p.patches = append(p.patches, spec)
	return document.Object{base.IdField: id}, nil
}

func TestBulkUpsertFallsBackToUpsert(t *testing.T) {
	s := &minimalSink{}
	docs := []document.Object{{base.IdField: document.Int(1)}, {base.IdField: document.Int(2)}}
	require.NoError(t, sink.BulkUpsert(context.Background(), s, docs, "db.coll", 1))
	assert.Equal(t, docs, s.upserts)
}

func TestUpdateMergesThroughGetAndUpsert(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	sim := simulator.New(nil)
	require.NoError(t, sim.Upsert(ctx, document.Object{base.IdField: document.Int(1), "a": document.Int(1)}, "db.coll", 1))

	spec := document.NewUpdateSpec(document.Object{"b.c": document.String("x")}, "a")
	updated, err := sink.Update(ctx, sim, document.Int(1), spec, "db.coll", 2)
	require.NoError(t, err)
	assert.Equal(document.Object{
		base.IdField: document.Int(1),
		"b":          document.Object{"c": document.String("x")},
	}, updated)

	stored, err := sim.Get(ctx, "db.coll", document.Int(1))
	require.NoError(t, err)
	assert.Equal(document.Int(2), stored[base.TimestampField])
	assert.Equal(document.String("db.coll"), stored[base.NamespaceField])
}

func TestUpdateReplacementKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	sim := simulator.New(nil)
	require.NoError(t, sim.Upsert(ctx, document.Object{base.IdField: document.Int(7), "f": document.Int(1)}, "db.coll", 1))

	updated, err := sink.Update(ctx, sim, document.Int(7), document.Object{"g": document.Int(2)}, "db.coll", 3)
	require.NoError(t, err)
	assert.Equal(t, document.Object{base.IdField: document.Int(7), "g": document.Int(2)}, updated)
}

func TestUpdateMissingDocument(t *testing.T) {
	_, err := sink.Update(context.Background(), simulator.New(nil), document.Int(1),
		document.NewUpdateSpec(document.Object{"x": document.Int(1)}), "db.coll", 1)
	assert.True(t, errors.Is(err, base.ErrUpdateNotApplicable))
}

func TestUpdateUsesPatcher(t *testing.T) {
	s := &patchingSink{}
	spec := document.NewUpdateSpec(document.Object{"x": document.Int(1)})
	assert.True(t, sink.AcceptsPatches(s))
	assert.False(t, sink.AcceptsPatches(&minimalSink{}))

	_, err := sink.Update(context.Background(), s, document.Int(1), spec, "db.coll", 1)
	require.NoError(t, err)
	assert.Equal(t, []document.Object{spec}, s.patches)
	assert.Empty(t, s.upserts)
}

func TestHandleCommandDispatch(t *testing.T) {
	tests := []struct {
		name string
		cmd  document.Object
		want []simulator.Operation
	}{
		{
			name: "create",
			cmd:  document.Object{"db": document.String("db"), "create": document.String("coll")},
			want: []simulator.Operation{{Kind: simulator.OpCreateCollection, Target: "db.coll"}},
		},
		{
			name: "drop",
			cmd:  document.Object{"db": document.String("db"), "drop": document.String("coll")},
			want: []simulator.Operation{{Kind: simulator.OpDropCollection, Target: "db.coll"}},
		},
		{
			name: "drop database",
			cmd:  document.Object{"db": document.String("db"), "dropDatabase": document.Int(1)},
			want: []simulator.Operation{{Kind: simulator.OpDropDatabase, Target: "db"}},
		},
		{
			name: "rename",
			cmd: document.Object{"db": document.String("admin"), "renameCollection": document.String("a.b"),
				"to": document.String("c.d")},
			want: []simulator.Operation{{Kind: simulator.OpRenameCollection, Namespace: "a.b", Target: "c.d"}},
		},
		{
			name: "rename with drop target",
			cmd: document.Object{"db": document.String("admin"), "renameCollection": document.String("a.b"),
				"to": document.String("c.d"), "dropTarget": document.Bool(true)},
			want: []simulator.Operation{
				{Kind: simulator.OpDropCollection, Target: "c.d"},
				{Kind: simulator.OpRenameCollection, Namespace: "a.b", Target: "c.d"},
			},
		},
		{
			name: "suppressed command",
			cmd:  document.Object{"db": document.String("db")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := simulator.New(nil)
			require.NoError(t, sink.HandleCommand(context.Background(), sim, tt.cmd, 1, nil))
			assert.Equal(t, tt.want, sim.Operations())
		})
	}
}

func TestHandleCommandDefaults(t *testing.T) {
	s := &minimalSink{}
	cmd := document.Object{"db": document.String("db"), "drop": document.String("coll")}
	assert.NoError(t, sink.HandleCommand(context.Background(), s, cmd, 1, base.NewNopLogger()))

	err := sink.HandleCommand(context.Background(), s, document.Object{"drop": document.String("coll")}, 1, nil)
	assert.True(t, errors.Is(err, base.ErrInvalidCommand))
}
