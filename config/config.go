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
	"fmt"
	"io"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/encryption"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configuration keys
const (
	MainAddressKey          = "mainAddress"
	OplogFileKey            = "oplogFile"
	NoDumpKey               = "noDump"
	BatchSizeKey            = "batchSize"
	ContinueOnErrorKey      = "continueOnError"
	FieldsKey               = "fields"
	NamespacesIncludeKey    = "namespaces.include"
	NamespacesDestKey       = "namespaces.destination"
	DocManagersKey          = "docManagers"
	LoggingLevelKey         = "logging.level"
	LoggingFilenameKey      = "logging.filename"
	CheckpointIntervalKey   = "checkpointInterval"
	StatusAddressKey        = "statusAddress"
	EncryptionEnabledKey    = "encryption.enabled"
	EncryptionIterationsKey = "encryption.iterations"
	SourcesKey              = "sources"
)

// doc manager names
const (
	SimulatorDocManager = "simulator"
	SqliteDocManager    = "sqlite"
	CouchbaseDocManager = "couchbase"
	MongoDocManager     = "mongo"
)

var knownDocManagers = map[string]bool{
	SimulatorDocManager: true,
	SqliteDocManager:    true,
	CouchbaseDocManager: true,
	MongoDocManager:     true,
}

// source types
const (
	MongoSource  = "mongo"
	MemorySource = "memory"
)

const DefaultSourceName = "main"
const DefaultLoggingLevel = "info"

type Namespaces struct {
	Include     []string `mapstructure:"include" yaml:"include,omitempty"`
	Destination []string `mapstructure:"destination" yaml:"destination,omitempty"`
}

type DocManager struct {
	DocManager string `mapstructure:"docManager" yaml:"docManager"`
	TargetURL  string `mapstructure:"targetURL" yaml:"targetURL,omitempty"`
	UniqueKey  string `mapstructure:"uniqueKey" yaml:"uniqueKey"`
	// seconds; unset never commits automatically, 0 commits after every write
	AutoCommitInterval *float64          `mapstructure:"autoCommitInterval" yaml:"autoCommitInterval,omitempty"`
	Args               map[string]string `mapstructure:"args" yaml:"args,omitempty"`
}

func (d *DocManager) AutoCommit() *time.Duration {
	if d.AutoCommitInterval == nil {
		return nil
	}
	interval := time.Duration(*d.AutoCommitInterval * float64(time.Second))
	return &interval
}

type Logging struct {
	Level    string `mapstructure:"level" yaml:"level"`
	Filename string `mapstructure:"filename" yaml:"filename,omitempty"`
}

type Encryption struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	Iterations int  `mapstructure:"iterations" yaml:"iterations"`
}

type Source struct {
	Name string `mapstructure:"name" yaml:"name"`
	URL  string `mapstructure:"url" yaml:"url,omitempty"`
	Type string `mapstructure:"type" yaml:"type"`
}

type Config struct {
	MainAddress     string   `mapstructure:"mainAddress" yaml:"mainAddress,omitempty"`
	OplogFile       string   `mapstructure:"oplogFile" yaml:"oplogFile"`
	NoDump          bool     `mapstructure:"noDump" yaml:"noDump"`
	BatchSize       int      `mapstructure:"batchSize" yaml:"batchSize"`
	ContinueOnError bool     `mapstructure:"continueOnError" yaml:"continueOnError"`
	Fields          []string `mapstructure:"fields" yaml:"fields,omitempty"`

	Namespaces  Namespaces   `mapstructure:"namespaces" yaml:"namespaces"`
	DocManagers []DocManager `mapstructure:"docManagers" yaml:"docManagers"`
	Sources     []Source     `mapstructure:"sources" yaml:"sources"`

	Logging Logging `mapstructure:"logging" yaml:"logging"`
	// seconds between two periodic checkpoint writes, 0 disables them
	CheckpointInterval int        `mapstructure:"checkpointInterval" yaml:"checkpointInterval"`
	StatusAddress      string     `mapstructure:"statusAddress" yaml:"statusAddress,omitempty"`
	Encryption         Encryption `mapstructure:"encryption" yaml:"encryption"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(OplogFileKey, base.DefaultOplogFileName)
	v.SetDefault(NoDumpKey, false)
	v.SetDefault(BatchSizeKey, base.DefaultBatchSize)
	v.SetDefault(ContinueOnErrorKey, false)
	v.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	v.SetDefault(CheckpointIntervalKey, base.DefaultCheckpointInterval)
	v.SetDefault(StatusAddressKey, base.DefaultStatusAddress)
	v.SetDefault(EncryptionEnabledKey, false)
	v.SetDefault(EncryptionIterationsKey, encryption.DefaultIterations)
}

// Load reads the configuration file at path (JSON or YAML, by extension),
// applies overrides on top of it and validates the result. An empty path
// loads the defaults only.
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading %v: %v", base.ErrInvalidConfig, path, err)
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", base.ErrInvalidConfig, err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills what viper cannot default: list entries and the
// implicit single source and sink.
func (c *Config) applyDefaults() {
	if len(c.Sources) == 0 && c.MainAddress != "" {
		c.Sources = []Source{{Name: DefaultSourceName, URL: c.MainAddress, Type: MongoSource}}
	}
	for i := range c.Sources {
		if c.Sources[i].Type == "" {
			c.Sources[i].Type = MongoSource
		}
	}
	if len(c.DocManagers) == 0 {
		c.DocManagers = []DocManager{{DocManager: SimulatorDocManager}}
	}
	for i := range c.DocManagers {
		if c.DocManagers[i].UniqueKey == "" {
			c.DocManagers[i].UniqueKey = base.DefaultUniqueKey
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("%w: either %v or %v is required", base.ErrInvalidConfig, MainAddressKey, SourcesKey)
	}
	names := make(map[string]bool, len(c.Sources))
	for _, source := range c.Sources {
		if source.Name == "" {
			return fmt.Errorf("%w: every source needs a name", base.ErrInvalidConfig)
		}
		if names[source.Name] {
			return fmt.Errorf("%w: duplicate source name %q", base.ErrInvalidConfig, source.Name)
		}
		names[source.Name] = true
		switch source.Type {
		case MongoSource:
			if source.URL == "" {
				return fmt.Errorf("%w: source %q has no url", base.ErrInvalidConfig, source.Name)
			}
		case MemorySource:
		default:
			return fmt.Errorf("%w: source %q has unknown type %q", base.ErrInvalidConfig, source.Name, source.Type)
		}
	}

	if err := namespace.ValidateMapping(c.Namespaces.Include, c.Namespaces.Destination); err != nil {
		return err
	}

	for i, docManager := range c.DocManagers {
		if !knownDocManagers[docManager.DocManager] {
			return fmt.Errorf("%w: docManagers[%v] has unknown doc manager %q", base.ErrInvalidConfig, i, docManager.DocManager)
		}
		if docManager.AutoCommitInterval != nil && *docManager.AutoCommitInterval < 0 {
			return fmt.Errorf("%w: docManagers[%v] has negative autoCommitInterval", base.ErrInvalidConfig, i)
		}
		if docManager.DocManager != SimulatorDocManager && docManager.TargetURL == "" {
			return fmt.Errorf("%w: docManagers[%v] (%v) has no targetURL", base.ErrInvalidConfig, i, docManager.DocManager)
		}
	}

	if c.CheckpointInterval < 0 {
		return fmt.Errorf("%w: %v cannot be negative", base.ErrInvalidConfig, CheckpointIntervalKey)
	}
	if c.OplogFile == "" {
		return fmt.Errorf("%w: %v is required", base.ErrInvalidConfig, OplogFileKey)
	}
	if c.Encryption.Enabled && c.Encryption.Iterations <= 0 {
		return fmt.Errorf("%w: %v must be positive", base.ErrInvalidConfig, EncryptionIterationsKey)
	}
	return nil
}

func (c *Config) CheckpointPeriod() time.Duration {
	return time.Duration(c.CheckpointInterval) * time.Second
}

// Dump writes the effective configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(c); err != nil {
		return err
	}
	return encoder.Close()
}
