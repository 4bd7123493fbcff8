// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/encryption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `{
  "mainAddress": "mongodb://localhost:27017",
  "oplogFile": "/var/lib/connector/oplog.timestamp",
  "noDump": true,
  "batchSize": 100,
  "continueOnError": true,
  "fields": ["a", "b.c"],
  "namespaces": {
    "include": ["Sales.Orders", "db.coll"],
    "destination": ["Archive.Orders", "db2.coll"]
  },
  "docManagers": [
    {"docManager": "sqlite", "targetURL": "/tmp/target.db", "autoCommitInterval": 0},
    {"docManager": "couchbase", "targetURL": "couchbase://localhost", "uniqueKey": "key",
     "autoCommitInterval": 2.5, "args": {"bucket": "target", "username": "admin"}}
  ],
  "logging": {"level": "debug", "filename": "connector.log"},
  "checkpointInterval": 5,
  "statusAddress": ":8080"
}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), base.FileModeOwnerOnly))
	return path
}

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)
	cfg, err := Load("", map[string]interface{}{MainAddressKey: "mongodb://host:27017"})
	require.NoError(t, err)

	assert.Equal(base.DefaultOplogFileName, cfg.OplogFile)
	assert.Equal(base.DefaultBatchSize, cfg.BatchSize)
	assert.False(cfg.NoDump)
	assert.Equal(base.DefaultCheckpointInterval, cfg.CheckpointInterval)
	assert.Equal(time.Second, cfg.CheckpointPeriod())
	assert.Equal(DefaultLoggingLevel, cfg.Logging.Level)
	assert.Equal(encryption.DefaultIterations, cfg.Encryption.Iterations)
	assert.Equal([]Source{{Name: DefaultSourceName, URL: "mongodb://host:27017", Type: MongoSource}}, cfg.Sources)
	require.Len(t, cfg.DocManagers, 1)
	assert.Equal(SimulatorDocManager, cfg.DocManagers[0].DocManager)
	assert.Equal(base.DefaultUniqueKey, cfg.DocManagers[0].UniqueKey)
	assert.Nil(cfg.DocManagers[0].AutoCommit())
}

func TestLoadFile(t *testing.T) {
	assert := assert.New(t)
	cfg, err := Load(writeFile(t, "config.json", fullConfig), nil)
	require.NoError(t, err)

	assert.True(cfg.NoDump)
	assert.True(cfg.ContinueOnError)
	assert.Equal(100, cfg.BatchSize)
	assert.Equal([]string{"a", "b.c"}, cfg.Fields)
	assert.Equal([]string{"Sales.Orders", "db.coll"}, cfg.Namespaces.Include)
	assert.Equal([]string{"Archive.Orders", "db2.coll"}, cfg.Namespaces.Destination)
	assert.Equal("debug", cfg.Logging.Level)
	assert.Equal("connector.log", cfg.Logging.Filename)
	assert.Equal(5*time.Second, cfg.CheckpointPeriod())
	assert.Equal(":8080", cfg.StatusAddress)

	require.Len(t, cfg.DocManagers, 2)
	sqlite, couchbase := cfg.DocManagers[0], cfg.DocManagers[1]
	assert.Equal(SqliteDocManager, sqlite.DocManager)
	assert.Equal(base.DefaultUniqueKey, sqlite.UniqueKey)
	require.NotNil(t, sqlite.AutoCommit())
	assert.Equal(time.Duration(0), *sqlite.AutoCommit())

	assert.Equal("key", couchbase.UniqueKey)
	assert.Equal(2500*time.Millisecond, *couchbase.AutoCommit())
	assert.Equal(map[string]string{"bucket": "target", "username": "admin"}, couchbase.Args)
}

func TestLoadYAMLAndOverrides(t *testing.T) {
	assert := assert.New(t)
	path := writeFile(t, "config.yaml", `
sources:
  - name: shard0
    url: mongodb://a:27017
  - name: shard1
    type: memory
batchSize: 10
`)
	cfg, err := Load(path, map[string]interface{}{BatchSizeKey: 20, NoDumpKey: true})
	require.NoError(t, err)

	assert.Equal(20, cfg.BatchSize)
	assert.True(cfg.NoDump)
	assert.Equal([]Source{
		{Name: "shard0", URL: "mongodb://a:27017", Type: MongoSource},
		{Name: "shard1", Type: MemorySource},
	}, cfg.Sources)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.True(t, errors.Is(err, base.ErrInvalidConfig))

	_, err = Load(writeFile(t, "broken.json", "{"), nil)
	assert.True(t, errors.Is(err, base.ErrInvalidConfig))

	_, err = Load("", nil)
	assert.True(t, errors.Is(err, base.ErrInvalidConfig), "no source")
}

func validConfig() *Config {
	cfg := &Config{
		OplogFile:          base.DefaultOplogFileName,
		BatchSize:          base.DefaultBatchSize,
		CheckpointInterval: base.DefaultCheckpointInterval,
		Sources:            []Source{{Name: "rs0", URL: "mongodb://x", Type: MongoSource}},
	}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	negative := -1.0
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"duplicate include", func(c *Config) { c.Namespaces.Include = []string{"a.b", "a.b"} }},
		{"duplicate destination", func(c *Config) {
			c.Namespaces.Include = []string{"a.b", "a.c"}
			c.Namespaces.Destination = []string{"x.y", "x.y"}
		}},
		{"length mismatch", func(c *Config) {
			c.Namespaces.Include = []string{"a.b", "a.c"}
			c.Namespaces.Destination = []string{"x.y"}
		}},
		{"unknown doc manager", func(c *Config) { c.DocManagers[0].DocManager = "solr" }},
		{"negative auto commit", func(c *Config) { c.DocManagers[0].AutoCommitInterval = &negative }},
		{"sink without target", func(c *Config) { c.DocManagers[0].DocManager = SqliteDocManager }},
		{"no source", func(c *Config) { c.Sources = nil }},
		{"unnamed source", func(c *Config) { c.Sources[0].Name = "" }},
		{"duplicate source", func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) }},
		{"unknown source type", func(c *Config) { c.Sources[0].Type = "kafka" }},
		{"source without url", func(c *Config) { c.Sources[0].URL = "" }},
		{"negative checkpoint interval", func(c *Config) { c.CheckpointInterval = -1 }},
		{"no oplog file", func(c *Config) { c.OplogFile = "" }},
		{"encryption without iterations", func(c *Config) { c.Encryption = Encryption{Enabled: true} }},
	}

	require.NoError(t, validConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.True(t, errors.Is(cfg.Validate(), base.ErrInvalidConfig))
		})
	}
}

func TestDumpReloads(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.json", fullConfig), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))
	assert.Contains(t, buf.String(), "oplogFile: /var/lib/connector/oplog.timestamp")
	assert.Contains(t, buf.String(), "docManager: couchbase")

	reloaded, err := Load(writeFile(t, "dump.yaml", buf.String()), nil)
	require.NoError(t, err)
	assert.Equal(t, cfg, reloaded)
}
