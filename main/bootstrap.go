// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.


package main

import (
	"context"
	"fmt"
	"os"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/config"
	"github.com/couchbase/oplogConnector/encryption"
	"github.com/couchbase/oplogConnector/file"
	"github.com/couchbase/oplogConnector/mongo"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/oplog"
	"github.com/couchbase/oplogConnector/sink"
	"github.com/couchbase/oplogConnector/sink/couchbaseSink"
	"github.com/couchbase/oplogConnector/sink/simulator"
	"github.com/couchbase/oplogConnector/sink/sqliteSink"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// newFileFactory returns nil when checkpoint encryption is disabled.
func newFileFactory(cfg *config.Config) (*file.Factory, error) {
	if !cfg.Encryption.Enabled {
		return nil, nil
	}
	passphrase, err := readPassphrase()
	if err != nil {
		return nil, err
	}
	return file.NewFactory(encryption.NewSealer(encryption.StaticPassphrase(passphrase), cfg.Encryption.Iterations)), nil
}

func readPassphrase() ([]byte, error) {
	if value := os.Getenv(PassphraseEnvVar); value != "" {
		return []byte(value), nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w: set %v or run on a terminal to provide the checkpoint passphrase",
			base.ErrInvalidConfig, PassphraseEnvVar)
	}
	fmt.Fprintf(os.Stderr, "Checkpoint passphrase: ")
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, err
	}
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", base.ErrInvalidConfig)
	}
	return passphrase, nil
}

func newTranslator(cfg *config.Config, logger *zap.SugaredLogger) (*namespace.Translator, error) {
	return namespace.NewTranslator(cfg.Namespaces.Include, cfg.Namespaces.Destination, logger)
}

func openSources(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) ([]oplog.Source, error) {
	sources := make([]oplog.Source, 0, len(cfg.Sources))
	for _, spec := range cfg.Sources {
		var source oplog.Source
		switch spec.Type {
		case config.MongoSource:
			mongoSource, err := mongo.NewOplogSource(ctx, spec.Name, spec.URL, logger)
			if err != nil {
				release(sources, nil, logger)
				return nil, fmt.Errorf("source %v: %w", spec.Name, err)
			}
			source = mongoSource
		case config.MemorySource:
			source = oplog.NewMemorySource(spec.Name)
		default:
			release(sources, nil, logger)
			return nil, fmt.Errorf("%w: source %v has unknown type %v", base.ErrInvalidConfig, spec.Name, spec.Type)
		}
		logger.Infof("opened %v source %v\n", spec.Type, spec.Name)
		sources = append(sources, source)
	}
	return sources, nil
}

func openTargets(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) ([]*sink.Target, error) {
	targets := make([]*sink.Target, 0, len(cfg.DocManagers))
	for i := range cfg.DocManagers {
		docManager := &cfg.DocManagers[i]
		s, err := openSink(ctx, docManager, logger)
		if err != nil {
			release(nil, targets, logger)
			return nil, fmt.Errorf("docManagers[%v] (%v): %w", i, docManager.DocManager, err)
		}
		logger.Infof("opened %v sink %v\n", docManager.DocManager, docManager.TargetURL)
		targets = append(targets, &sink.Target{
			Name:       fmt.Sprintf("%v-%v", docManager.DocManager, i),
			Sink:       s,
			AutoCommit: docManager.AutoCommit(),
		})
	}
	return targets, nil
}

func openSink(ctx context.Context, docManager *config.DocManager, logger *zap.SugaredLogger) (sink.Sink, error) {
	switch docManager.DocManager {
	case config.SimulatorDocManager:
		return simulator.New(logger), nil
	case config.SqliteDocManager:
		return sqliteSink.Open(docManager.TargetURL, docManager.UniqueKey, logger)
	case config.CouchbaseDocManager:
		opts, err := couchbaseSink.OptionsFromArgs(docManager.TargetURL, docManager.UniqueKey, docManager.Args)
		if err != nil {
			return nil, err
		}
		return couchbaseSink.Open(opts, logger)
	case config.MongoDocManager:
		return mongo.OpenSink(ctx, docManager.TargetURL, logger)
	}
	return nil, fmt.Errorf("%w: unknown doc manager %v", base.ErrInvalidConfig, docManager.DocManager)
}

// release closes sources and stops sinks that never made it into a running connector.
func release(sources []oplog.Source, targets []*sink.Target, logger *zap.SugaredLogger) {
	ctx := context.Background()
	for _, source := range sources {
		if err := source.Close(ctx); err != nil {
			logger.Warnf("error closing source %v. err=%v\n", source.Name(), err)
		}
	}
	for _, target := range targets {
		if err := target.Sink.Stop(); err != nil {
			logger.Warnf("error stopping %v. err=%v\n", target.Name, err)
		}
	}
}
