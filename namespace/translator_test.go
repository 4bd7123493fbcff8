// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package namespace

import (
	"errors"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranslator(t *testing.T, include, dest []string) *Translator {
	t.Helper()
	tr, err := NewTranslator(include, dest, nil)
	require.NoError(t, err)
	return tr
}

func TestMapNamespace(t *testing.T) {
	assert := assert.New(t)

	identity := newTranslator(t, nil, nil)
	ns, ok := identity.MapNamespace("any.thing")
	assert.True(ok)
	assert.Equal("any.thing", ns)
	assert.False(identity.HasMapping())

	included := newTranslator(t, []string{"db.a", "db.b"}, nil)
	ns, ok = included.MapNamespace("db.a")
	assert.True(ok)
	assert.Equal("db.a", ns)
	_, ok = included.MapNamespace("db.c")
	assert.False(ok)

	mapped := newTranslator(t, []string{"db.a", "db.b"}, []string{"x.a", "y.b"})
	ns, ok = mapped.MapNamespace("db.b")
	assert.True(ok)
	assert.Equal("y.b", ns)
	_, ok = mapped.MapNamespace("other.a")
	assert.False(ok)
}

func TestMapDatabase(t *testing.T) {
	assert := assert.New(t)

	identity := newTranslator(t, nil, nil)
	db, ok := identity.MapDatabase("test")
	assert.True(ok)
	assert.Equal("test", db)

	mapped := newTranslator(t, []string{"test.test"}, []string{"test_.test_"})
	db, ok = mapped.MapDatabase("test")
	assert.True(ok)
	assert.Equal("test_", db)
	_, ok = mapped.MapDatabase("test2")
	assert.False(ok)
}

func TestValidateMapping(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		dest    []string
		wantErr bool
	}{
		{"empty", nil, nil, false},
		{"include only", []string{"a.b", "a.c"}, nil, false},
		{"mapped", []string{"a.b"}, []string{"c.d"}, false},
		{"duplicate include", []string{"a.b", "a.b"}, nil, true},
		{"duplicate dest", []string{"a.b", "a.c"}, []string{"x.y", "x.y"}, true},
		{"length mismatch", []string{"a.b", "a.c"}, []string{"x.y"}, true},
		{"not a namespace", []string{"nodot"}, nil, true},
		{"empty collection", []string{"db."}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMapping(tt.include, tt.dest)
			if tt.wantErr {
				assert.True(t, errors.Is(err, base.ErrInvalidConfig), "err=%v", err)
				_, err = NewTranslator(tt.include, tt.dest, nil)
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseBijection(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		dest    []string
		want    bool
	}{
		{"identity", nil, nil, true},
		{"one namespace per database", []string{"a.x", "b.y"}, nil, true},
		{"renamed databases", []string{"a.x", "b.y"}, []string{"c.x", "d.y"}, true},
		{"two namespaces share a source database", []string{"a.x", "a.y"}, nil, false},
		{"two databases merge", []string{"a.x", "b.y"}, []string{"c.x", "c.y"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTranslator(t, tt.include, tt.dest)
			assert.Equal(t, tt.want, tr.DatabaseBijection())
		})
	}
}

func TestRewriteDatabaseCommand(t *testing.T) {
	assert := assert.New(t)

	cmd := document.Object{"db": document.String("test"), "dropDatabase": document.Int(1)}
	newTranslator(t, nil, nil).RewriteDatabaseCommand(cmd, base.CmdDropDatabase)
	assert.Equal(document.Object{"db": document.String("test"), "dropDatabase": document.Int(1)}, cmd)

	cmd = document.Object{"db": document.String("a"), "dropDatabase": document.Int(1)}
	newTranslator(t, []string{"a.x"}, []string{"b.x"}).RewriteDatabaseCommand(cmd, base.CmdDropDatabase)
	assert.Equal(document.Object{"db": document.String("b"), "dropDatabase": document.Int(1)}, cmd)

	// excluded database
	cmd = document.Object{"db": document.String("z"), "dropDatabase": document.Int(1)}
	newTranslator(t, []string{"a.x"}, nil).RewriteDatabaseCommand(cmd, base.CmdDropDatabase)
	assert.Empty(cmd)

	// not a bijection
	cmd = document.Object{"db": document.String("a"), "dropDatabase": document.Int(1)}
	newTranslator(t, []string{"a.x", "b.y"}, []string{"c.x", "c.y"}).RewriteDatabaseCommand(cmd, base.CmdDropDatabase)
	assert.Empty(cmd)

	// command key absent leaves the document alone
	cmd = document.Object{"db": document.String("a"), "create": document.String("x")}
	newTranslator(t, []string{"a.x", "a.y"}, nil).RewriteDatabaseCommand(cmd, base.CmdDropDatabase)
	assert.Len(cmd, 2)
}

func TestRewriteCollectionCommand(t *testing.T) {
	assert := assert.New(t)
	tr := newTranslator(t, []string{"test.test"}, []string{"test_.test_"})

	cmd := document.Object{"db": document.String("test"), "create": document.String("test")}
	tr.RewriteCollectionCommand(cmd, base.CmdCreate, base.CmdCreate)
	assert.Equal(document.Object{"db": document.String("test_"), "create": document.String("test_")}, cmd)

	cmd = document.Object{"db": document.String("test2"), "create": document.String("test2")}
	tr.RewriteCollectionCommand(cmd, base.CmdCreate, base.CmdCreate)
	assert.Empty(cmd)

	cmd = document.Object{"db": document.String("test"), "drop": document.String("test")}
	newTranslator(t, nil, nil).RewriteCollectionCommand(cmd, base.CmdDrop, base.CmdDrop)
	assert.Equal(document.Object{"db": document.String("test"), "drop": document.String("test")}, cmd)
}

func TestRewriteCollectionCommandDottedCollection(t *testing.T) {
	tr := newTranslator(t, []string{"a.fs.files"}, []string{"b.fs.files"})
	cmd := document.Object{"db": document.String("a"), "drop": document.String("fs.files")}
	tr.RewriteCollectionCommand(cmd, base.CmdDrop, base.CmdDrop)
	assert.Equal(t, document.Object{"db": document.String("b"), "drop": document.String("fs.files")}, cmd)
}

func TestRewriteRenameCommand(t *testing.T) {
	assert := assert.New(t)

	rename := func() document.Object {
		return document.Object{
			"db":               document.String("admin"),
			"renameCollection": document.String("test.test"),
			"to":               document.String("test.test2"),
		}
	}

	cmd := rename()
	newTranslator(t, nil, nil).RewriteRenameCommand(cmd, base.CmdRenameCollection, base.CmdRenameTo)
	assert.Equal(rename(), cmd)

	cmd = rename()
	newTranslator(t, []string{"test.test", "test.test2"}, []string{"x.a", "x.b"}).
		RewriteRenameCommand(cmd, base.CmdRenameCollection, base.CmdRenameTo)
	assert.Equal(document.String("x.a"), cmd["renameCollection"])
	assert.Equal(document.String("x.b"), cmd["to"])
	assert.Equal(document.String("admin"), cmd["db"])

	// destination excluded
	cmd = rename()
	newTranslator(t, []string{"test.test"}, nil).RewriteRenameCommand(cmd, base.CmdRenameCollection, base.CmdRenameTo)
	assert.Empty(cmd)

	// source excluded
	cmd = rename()
	newTranslator(t, []string{"test.test2"}, nil).RewriteRenameCommand(cmd, base.CmdRenameCollection, base.CmdRenameTo)
	assert.Empty(cmd)
}

func TestRewriteCommand(t *testing.T) {
	tr := newTranslator(t, []string{"test.test"}, []string{"test_.test_"})

	cmd := document.Object{"db": document.String("test"), "create": document.String("test")}
	tr.RewriteCommand(cmd)
	assert.Equal(t, document.Object{"db": document.String("test_"), "create": document.String("test_")}, cmd)

	cmd = document.Object{"db": document.String("test"), "dropDatabase": document.Int(1)}
	tr.RewriteCommand(cmd)
	assert.Equal(t, document.Object{"db": document.String("test_"), "dropDatabase": document.Int(1)}, cmd)
}

func TestIsInternal(t *testing.T) {
	assert.True(t, IsInternal("local.oplog.rs"))
	assert.True(t, IsInternal("config.chunks"))
	assert.True(t, IsInternal("db.system.indexes"))
	assert.False(t, IsInternal("db.coll"))
	assert.False(t, IsInternal("admin.$cmd"))
}
