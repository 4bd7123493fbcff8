// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package connector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/checkpoint"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/oplog"
	"github.com/couchbase/oplogConnector/sink"
	"github.com/couchbase/oplogConnector/utils"
	"go.uber.org/zap"
)

type ConnectorState int

const (
	ConnectorStateNew     ConnectorState = iota
	ConnectorStateStarted ConnectorState = iota
	ConnectorStateStopped ConnectorState = iota
)

// SourceStatus is the last known state of one source's tailer.
type SourceStatus struct {
	Source     string         `json:"source"`
	State      string         `json:"state"`
	Checkpoint base.Timestamp `json:"checkpoint"`
	Error      string         `json:"error,omitempty"`
	Processed  int64          `json:"processed"`
	Skipped    int64          `json:"skipped"`
	Failed     int64          `json:"failed"`
}

// Connector runs one tailer per source against a shared set of targets and
// a shared checkpoint store. The persister writes the store periodically
// and on every tailer checkpoint.
type Connector struct {
	sources    []oplog.Source
	translator *namespace.Translator
	targets    []*sink.Target
	store      *checkpoint.Store
	persister  *checkpoint.Persister
	options    oplog.TailerOptions
	errChan    chan error
	logger     *zap.SugaredLogger

	tailers    []*oplog.Tailer
	statusChan chan oplog.Status

	statusLock sync.RWMutex
	statuses   map[string]oplog.Status

	state     ConnectorState
	stateLock sync.RWMutex
	finChan   chan bool
	doneChan  chan bool
	waitGroup sync.WaitGroup
}

func NewConnector(sources []oplog.Source, translator *namespace.Translator, targets []*sink.Target,
	store *checkpoint.Store, persister *checkpoint.Persister, options oplog.TailerOptions,
	errChan chan error, logger *zap.SugaredLogger) *Connector {
	if logger == nil {
		logger = base.NewNopLogger()
	}
	// shared sinks are stopped once, after every tailer is done
	options.StopSinks = false
	return &Connector{
		sources:    sources,
		translator: translator,
		targets:    targets,
		store:      store,
		persister:  persister,
		options:    options,
		errChan:    errChan,
		logger:     logger,
		statusChan: make(chan oplog.Status, base.StatusChanSize),
		statuses:   make(map[string]oplog.Status),
		finChan:    make(chan bool),
		doneChan:   make(chan bool),
	}
}

func (c *Connector) Start(ctx context.Context) error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.state != ConnectorStateNew {
		return fmt.Errorf("connector cannot be started in state %v", c.state)
	}
	if len(c.sources) == 0 {
		return fmt.Errorf("%w: no source to replicate from", base.ErrInvalidConfig)
	}

	err := c.persister.Start()
	if err != nil {
		c.logger.Errorf("error starting checkpoint persister. err=%v\n", err)
		return err
	}
	c.logger.Infof("connector loaded %v checkpoints from %v\n", c.store.Len(), c.persister.FileName())

	for _, source := range c.sources {
		tailer := oplog.NewTailer(source, c.translator, c.targets, c.store, c.persister, c.options,
			c.statusChan, c.errChan, c.logger)
		c.tailers = append(c.tailers, tailer)
	}

	c.waitGroup.Add(1)
	go c.consumeStatuses()

	for _, target := range c.targets {
		if interval := target.CommitInterval(); interval > 0 {
			c.waitGroup.Add(1)
			go c.autoCommit(ctx, target, interval)
		}
	}

	c.state = ConnectorStateStarted
	for _, tailer := range c.tailers {
		if err = tailer.Start(ctx); err != nil {
			// tailers already running are stopped by Stop
			c.logger.Errorf("error starting tailer %v. err=%v\n", tailer.Name, err)
			break
		}
		c.logger.Infof("started tailer %v\n", tailer.Name)
	}
	go c.waitForTailers()
	return err
}

func (c *Connector) State() ConnectorState {
	c.stateLock.RLock()
	defer c.stateLock.RUnlock()
	return c.state
}

// waitForTailers closes doneChan once every tailer is STOPPED or FAILED.
func (c *Connector) waitForTailers() {
	var tailersDone sync.WaitGroup
	for _, tailer := range c.tailers {
		tailersDone.Add(1)
		go func(tailer *oplog.Tailer) {
			defer tailersDone.Done()
			tailer.Join()
		}(tailer)
	}
	utils.WaitForWaitGroup(&tailersDone, c.doneChan)
}

// Done is closed when no tailer is running anymore.
func (c *Connector) Done() <-chan bool {
	return c.doneChan
}

func (c *Connector) consumeStatuses() {
	defer c.waitGroup.Done()
	for {
		select {
		case status := <-c.statusChan:
			c.recordStatus(status)
		case <-c.finChan:
			// drain what the tailers reported while stopping
			for {
				select {
				case status := <-c.statusChan:
					c.recordStatus(status)
				default:
					return
				}
			}
		}
	}
}

func (c *Connector) recordStatus(status oplog.Status) {
	c.statusLock.Lock()
	c.statuses[status.Source] = status
	c.statusLock.Unlock()

	if status.State == oplog.TailerStateFailed {
		c.logger.Errorf("tailer %v failed at checkpoint %v. err=%v\n", status.Source, status.Checkpoint, status.Err)
	}
}

func (c *Connector) autoCommit(ctx context.Context, target *sink.Target, interval time.Duration) {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := target.Sink.Commit(ctx); err != nil {
				c.logger.Errorf("auto commit of %v failed. err=%v\n", target.Name, err)
			}
		case <-c.finChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop stops every tailer, commits and stops the sinks, writes the final
// checkpoint and closes the sources.
func (c *Connector) Stop() error {
	c.stateLock.Lock()
	if c.state != ConnectorStateStarted {
		c.stateLock.Unlock()
		c.logger.Infof("Skipping stop() because connector is not running\n")
		return nil
	}
	c.state = ConnectorStateStopped
	tailers := c.tailers
	c.stateLock.Unlock()

	c.logger.Infof("connector stopping\n")
	defer c.logger.Infof("connector stopped\n")

	for _, tailer := range tailers {
		tailer.Stop()
	}
	close(c.finChan)
	c.waitGroup.Wait()

	ctx := context.Background()
	for _, target := range c.targets {
		if err := target.Sink.Commit(ctx); err != nil {
			c.logger.Errorf("error committing %v. err=%v\n", target.Name, err)
		}
		if err := target.Sink.Stop(); err != nil {
			c.logger.Errorf("error stopping %v. err=%v\n", target.Name, err)
		}
	}

	err := c.persister.Stop()
	if err != nil {
		c.logger.Errorf("error stopping checkpoint persister. err=%v\n", err)
	}

	for _, source := range c.sources {
		if closeErr := source.Close(ctx); closeErr != nil {
			c.logger.Warnf("error closing source %v. err=%v\n", source.Name(), closeErr)
		}
	}
	return err
}

// Statuses returns the status of every source, sorted by name.
func (c *Connector) Statuses() []SourceStatus {
	c.stateLock.RLock()
	tailers := c.tailers
	c.stateLock.RUnlock()

	c.statusLock.RLock()
	defer c.statusLock.RUnlock()

	out := make([]SourceStatus, 0, len(tailers))
	for _, tailer := range tailers {
		status := SourceStatus{Source: tailer.Name, State: tailer.State().String()}
		if ts, ok := c.store.Get(tailer.Name); ok {
			status.Checkpoint = ts
		}
		if err := tailer.Err(); err != nil {
			status.Error = err.Error()
		} else if last, ok := c.statuses[tailer.Name]; ok && last.Err != nil {
			status.Error = last.Err.Error()
		}
		stats := tailer.Stats()
		status.Processed, status.Skipped, status.Failed = stats.Processed, stats.Skipped, stats.Failed
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (c *Connector) Checkpoints() []checkpoint.Entry {
	return c.store.Snapshot()
}

// Healthy is false once any tailer failed.
func (c *Connector) Healthy() bool {
	for _, status := range c.Statuses() {
		if status.State == oplog.TailerStateFailed.String() {
			return false
		}
	}
	return true
}
