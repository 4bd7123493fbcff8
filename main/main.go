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
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/checkpoint"
	"github.com/couchbase/oplogConnector/config"
	"github.com/couchbase/oplogConnector/connector"
	"github.com/couchbase/oplogConnector/file"
	"github.com/couchbase/oplogConnector/oplog"
	"github.com/couchbase/oplogConnector/statusServer"
	"go.uber.org/zap"
)

var options struct {
	configFile      string
	printConfig     bool
	mainAddress     string
	oplogFile       string
	noDump          bool
	batchSize       int
	continueOnError bool
	logLevel        string
	logFile         string
	statusAddress   string
	encrypt         bool
}

// flags that override a key of the configuration file when set explicitly
var flagKeys = map[string]string{
	"mainAddress":     config.MainAddressKey,
	"oplogFile":       config.OplogFileKey,
	"noDump":          config.NoDumpKey,
	"batchSize":       config.BatchSizeKey,
	"continueOnError": config.ContinueOnErrorKey,
	"logLevel":        config.LoggingLevelKey,
	"logFile":         config.LoggingFilenameKey,
	"statusAddress":   config.StatusAddressKey,
	"encrypt":         config.EncryptionEnabledKey,
}

func registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&options.configFile, "c", "",
		"path to a JSON or YAML configuration file")
	fs.BoolVar(&options.printConfig, "printConfig", false,
		"print the effective configuration and exit")
	fs.StringVar(&options.mainAddress, "mainAddress", "",
		"mongodb url of the replica set to replicate from")
	fs.StringVar(&options.oplogFile, "oplogFile", base.DefaultOplogFileName,
		"file holding the checkpoint of every source")
	fs.BoolVar(&options.noDump, "noDump", false,
		"do not dump the existing collections when there is no checkpoint")
	fs.IntVar(&options.batchSize, "batchSize", base.DefaultBatchSize,
		"oplog entries between two checkpoints, -1 checkpoints only when the oplog is drained")
	fs.BoolVar(&options.continueOnError, "continueOnError", false,
		"skip entries that cannot be applied instead of stopping")
	fs.StringVar(&options.logLevel, "logLevel", config.DefaultLoggingLevel,
		"logging level (debug, info, warn, error)")
	fs.StringVar(&options.logFile, "logFile", "",
		"file to log to instead of stderr")
	fs.StringVar(&options.statusAddress, "statusAddress", base.DefaultStatusAddress,
		"address of the http status endpoint, empty disables it")
	fs.BoolVar(&options.encrypt, "encrypt", false,
		"encrypt the checkpoint file with a passphrase")
}

// collectOverrides returns the configuration keys of the flags set on the command line.
func collectOverrides(fs *flag.FlagSet) map[string]interface{} {
	overrides := make(map[string]interface{})
	fs.Visit(func(f *flag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return
		}
		if getter, ok := f.Value.(flag.Getter); ok {
			overrides[key] = getter.Get()
		} else {
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage : %s [OPTIONS] \n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	registerFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := config.Load(options.configFile, collectOverrides(flag.CommandLine))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration. err=%v\n", err)
		os.Exit(ExitConfigError)
	}
	if options.printConfig {
		if err = cfg.Dump(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error printing configuration. err=%v\n", err)
			os.Exit(ExitConfigError)
		}
		os.Exit(ExitOK)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file. err=%v\n", err)
		os.Exit(ExitConfigError)
	}
	code := run(cfg, logger)
	logger.Sync()
	if closeLog != nil {
		closeLog()
	}
	os.Exit(code)
}

func newLogger(cfg *config.Config) (*zap.SugaredLogger, func() error, error) {
	if cfg.Logging.Filename == "" {
		return base.NewLogger(ProgramName, cfg.Logging.Level, os.Stderr), nil, nil
	}
	writer, closeFunc, err := file.NewLogWriter(cfg.Logging.Filename)
	if err != nil {
		return nil, nil, err
	}
	return base.NewLogger(ProgramName, cfg.Logging.Level, writer), closeFunc, nil
}

func run(cfg *config.Config, logger *zap.SugaredLogger) int {
	logger.Infof("%v started\n", ProgramName)

	factory, err := newFileFactory(cfg)
	if err != nil {
		logger.Errorf("Error setting up checkpoint encryption. err=%v\n", err)
		return ExitConfigError
	}
	translator, err := newTranslator(cfg, logger)
	if err != nil {
		logger.Errorf("Error building namespace translator. err=%v\n", err)
		return ExitConfigError
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), StartupTimeout)
	defer cancelStartup()
	sources, err := openSources(startupCtx, cfg, logger)
	if err != nil {
		logger.Errorf("Error opening sources. err=%v\n", err)
		return ExitRunError
	}
	targets, err := openTargets(startupCtx, cfg, logger)
	if err != nil {
		logger.Errorf("Error opening targets. err=%v\n", err)
		release(sources, nil, logger)
		return ExitRunError
	}

	store := checkpoint.NewStore()
	persister := checkpoint.NewPersister(cfg.OplogFile, store, factory, cfg.CheckpointPeriod(), logger)
	errChan := make(chan error, len(sources))
	tailerOptions := oplog.TailerOptions{
		BatchSize:       cfg.BatchSize,
		ContinueOnError: cfg.ContinueOnError,
		CollectionDump:  !cfg.NoDump,
		Fields:          cfg.Fields,
	}
	conn := connector.NewConnector(sources, translator, targets, store, persister, tailerOptions, errChan, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err = conn.Start(ctx); err != nil {
		logger.Errorf("Error starting connector. err=%v\n", err)
		if conn.State() == connector.ConnectorStateStarted {
			conn.Stop()
		} else {
			release(sources, targets, logger)
		}
		return ExitRunError
	}

	var server *statusServer.Server
	if cfg.StatusAddress != "" {
		server = statusServer.NewServer(conn, cfg.StatusAddress, logger)
		if err = server.Start(); err != nil {
			logger.Errorf("Error starting status server on %v. err=%v\n", cfg.StatusAddress, err)
			server = nil
		}
	}

	code := waitForCompletion(conn, errChan, cfg.OplogFile, logger)

	if server != nil {
		if err = server.Stop(); err != nil {
			logger.Warnf("Error stopping status server. err=%v\n", err)
		}
	}
	if err = conn.Stop(); err != nil {
		logger.Errorf("Error stopping connector. err=%v\n", err)
		code = ExitRunError
	}
	logger.Infof("%v exited with code %v\n", ProgramName, code)
	return code
}

// waitForCompletion blocks until an interrupt, a tailer error or the end of every tailer.
func waitForCompletion(conn *connector.Connector, errChan chan error, oplogFile string, logger *zap.SugaredLogger) int {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Infof("Received %v, stopping\n", sig)
		return ExitOK
	case err := <-errChan:
		logger.Errorf("Exiting due to error from tailer. err=%v\n", err)
		if errors.Is(err, base.ErrCheckpointTooOld) {
			logger.Errorf("The oplog rolled over past the last checkpoint, remove %v to resync from a full dump\n",
				oplogFile)
		}
		return ExitRunError
	case <-conn.Done():
		logger.Infof("Every tailer has completed\n")
		return ExitOK
	}
}
