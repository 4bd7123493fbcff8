// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package oplog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/checkpoint"
	"github.com/couchbase/oplogConnector/chunked"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/sink"
	"github.com/couchbase/oplogConnector/utils"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

type TailerState int

const (
	TailerStateInitializing TailerState = iota
	TailerStateTailing      TailerState = iota
	TailerStateStopping     TailerState = iota
	TailerStateStopped      TailerState = iota
	TailerStateFailed       TailerState = iota
)

var tailerStateNames = []string{"INITIALIZING", "TAILING", "STOPPING", "STOPPED", "FAILED"}

func (s TailerState) String() string {
	if int(s) < len(tailerStateNames) {
		return tailerStateNames[s]
	}
	return fmt.Sprintf("TailerState(%d)", int(s))
}

func (s TailerState) IsTerminal() bool {
	return s == TailerStateStopped || s == TailerStateFailed
}

// Status is sent by a tailer on every state change.
type Status struct {
	Source     string
	State      TailerState
	Checkpoint base.Timestamp
	Err        error
}

// Checkpointer writes the checkpoint store to durable storage.
type Checkpointer interface {
	Save() error
}

type TailerOptions struct {
	// entries between two checkpoints; zero or negative checkpoints only when the log is drained
	BatchSize       int
	ContinueOnError bool
	// dump every in-scope collection when there is no checkpoint
	CollectionDump bool
	Fields         []string
	// stop the targets' sinks when the tailer stops
	StopSinks bool
}

type TailerStats struct {
	Processed int64
	Skipped   int64
	Failed    int64
}

// Tailer replicates one source's log to the targets. Entries are applied
// strictly in log order; the checkpoint only covers entries every target
// has been asked to apply.
type Tailer struct {
	Name         string
	source       Source
	translator   *namespace.Translator
	projection   *document.Projection
	targets      []*sink.Target
	store        *checkpoint.Store
	checkpointer Checkpointer
	options      TailerOptions
	statusChan   chan Status
	errChan      chan error
	logger       *zap.SugaredLogger

	alive     atomic.Bool
	stateLock sync.RWMutex
	state     TailerState
	started   bool
	lastErr   error
	finChan   chan bool
	doneChan  chan bool
	stopOnce  sync.Once

	// owned by the tailing goroutine
	lastTs      base.Timestamp
	hasTs       bool
	persistedTs base.Timestamp
	persisted   bool
	uncommitted int

	processedCnt metrics.Counter
	skippedCnt   metrics.Counter
	failedCnt    metrics.Counter
}

func NewTailer(source Source, translator *namespace.Translator, targets []*sink.Target, store *checkpoint.Store,
	checkpointer Checkpointer, options TailerOptions, statusChan chan Status, errChan chan error,
	logger *zap.SugaredLogger) *Tailer {
	if logger == nil {
		logger = base.NewNopLogger()
	}
	if translator == nil {
		translator, _ = namespace.NewTranslator(nil, nil, logger)
	}
	return &Tailer{
		Name:         source.Name(),
		source:       source,
		translator:   translator,
		projection:   document.NewProjection(options.Fields),
		targets:      targets,
		store:        store,
		checkpointer: checkpointer,
		options:      options,
		statusChan:   statusChan,
		errChan:      errChan,
		logger:       logger,
		state:        TailerStateInitializing,
		finChan:      make(chan bool),
		doneChan:     make(chan bool),
		processedCnt: metrics.NewCounter(),
		skippedCnt:   metrics.NewCounter(),
		failedCnt:    metrics.NewCounter(),
	}
}

func (t *Tailer) Start(ctx context.Context) error {
	t.stateLock.Lock()
	defer t.stateLock.Unlock()
	if t.started {
		return fmt.Errorf("tailer %v has already been started", t.Name)
	}
	t.started = true
	t.alive.Store(true)
	go t.run(ctx)
	return nil
}

// Stop asks the tailer to finish the entry in flight, write its checkpoint
// and stop, then waits for it. It is idempotent.
func (t *Tailer) Stop() {
	t.stopOnce.Do(func() {
		t.logger.Infof("tailer %v stopping\n", t.Name)
		t.alive.Store(false)
		close(t.finChan)

		t.stateLock.Lock()
		if !t.started {
			t.started = true
			t.state = TailerStateStopped
			close(t.doneChan)
		}
		t.stateLock.Unlock()
	})
	t.Join()
}

// Join waits for the tailer to reach STOPPED or FAILED.
func (t *Tailer) Join() {
	t.stateLock.RLock()
	started := t.started
	t.stateLock.RUnlock()
	if started {
		<-t.doneChan
	}
}

// Done is closed once the tailer reached STOPPED or FAILED.
func (t *Tailer) Done() <-chan bool {
	return t.doneChan
}

func (t *Tailer) State() TailerState {
	t.stateLock.RLock()
	defer t.stateLock.RUnlock()
	return t.state
}

func (t *Tailer) Err() error {
	t.stateLock.RLock()
	defer t.stateLock.RUnlock()
	return t.lastErr
}

func (t *Tailer) Stats() TailerStats {
	return TailerStats{
		Processed: t.processedCnt.Count(),
		Skipped:   t.skippedCnt.Count(),
		Failed:    t.failedCnt.Count(),
	}
}

func (t *Tailer) setState(state TailerState, err error) {
	t.stateLock.Lock()
	t.state = state
	if err != nil {
		t.lastErr = err
	}
	t.stateLock.Unlock()

	ts, _ := t.store.Get(t.Name)
	t.logger.Infof("tailer %v is %v at checkpoint %v\n", t.Name, state, ts)
	if t.statusChan == nil {
		return
	}
	select {
	case t.statusChan <- Status{Source: t.Name, State: state, Checkpoint: ts, Err: err}:
	default:
		t.logger.Warnf("status channel is full, dropped %v status of %v\n", state, t.Name)
	}
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.doneChan)

	t.setState(TailerStateInitializing, nil)
	cursor, err := t.initialize(ctx)
	if err != nil {
		if errors.Is(err, base.ErrTailerStopped) {
			t.shutdown()
			return
		}
		t.fail(err)
		return
	}
	t.setState(TailerStateTailing, nil)

	statsTicker := time.NewTicker(base.StatsReportInterval * time.Second)
	defer statsTicker.Stop()

	resumed := false
	for t.alive.Load() && ctx.Err() == nil {
		select {
		case <-statsTicker.C:
			t.reportStats()
		default:
		}

		entry, err := cursor.TryNext(ctx)
		if err == nil {
			// the position is readable again
			resumed = false
		}
		if err != nil {
			cursor.Close(ctx)
			if errors.Is(err, base.ErrCursorInvalidated) && !resumed {
				resumed = true
				t.logger.Warnf("tailer %v lost its cursor, resuming after %v. err=%v\n", t.Name, t.lastTs, err)
				t.commitCheckpoint()
				cursor, err = t.openCursor(ctx, t.lastTs)
				if err == nil {
					continue
				}
			}
			t.fail(err)
			return
		}

		if entry == nil {
			t.commitCheckpoint()
			t.waitForEntries(ctx)
			continue
		}

		if err = t.processEntry(ctx, entry); err != nil {
			cursor.Close(ctx)
			t.fail(err)
			return
		}
		t.advance(entry.Timestamp)
	}

	cursor.Close(ctx)
	t.shutdown()
}

func (t *Tailer) waitForEntries(ctx context.Context) {
	timer := time.NewTimer(base.DrainedLogPollInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.finChan:
	case <-ctx.Done():
	}
}

func (t *Tailer) shutdown() {
	t.setState(TailerStateStopping, nil)
	t.commitCheckpoint()
	if t.options.StopSinks {
		for _, target := range t.targets {
			if err := target.Sink.Stop(); err != nil {
				t.logger.Errorf("tailer %v error stopping %v. err=%v\n", t.Name, target.Name, err)
			}
		}
	}
	t.reportStats()
	t.setState(TailerStateStopped, nil)
}

// fail records what was applied so far and moves to FAILED.
func (t *Tailer) fail(err error) {
	t.commitCheckpoint()
	t.logger.Errorf("tailer %v failed. err=%v\n", t.Name, err)
	t.setState(TailerStateFailed, err)
	utils.AddToErrorChan(t.errChan, fmt.Errorf("tailer %v: %w", t.Name, err))
}

func (t *Tailer) advance(ts base.Timestamp) {
	t.lastTs = ts
	t.hasTs = true
	t.uncommitted++
	if t.options.BatchSize > 0 && t.uncommitted >= t.options.BatchSize {
		t.commitCheckpoint()
	}
}

// commitCheckpoint publishes lastTs to the store and persists it. A failed
// write is logged; the store keeps the position for the next attempt.
func (t *Tailer) commitCheckpoint() {
	if !t.hasTs {
		return
	}
	t.uncommitted = 0
	if t.persisted && t.persistedTs == t.lastTs {
		return
	}
	t.store.Set(t.Name, t.lastTs)
	if t.checkpointer == nil {
		t.persistedTs, t.persisted = t.lastTs, true
		return
	}
	if err := t.checkpointer.Save(); err != nil {
		t.logger.Errorf("tailer %v could not persist checkpoint %v. err=%v\n", t.Name, t.lastTs, err)
		return
	}
	t.persistedTs, t.persisted = t.lastTs, true
}

func (t *Tailer) initialize(ctx context.Context) (Cursor, error) {
	// zero is the position of an empty log, not a resumable one
	if ts, ok := t.store.Get(t.Name); ok && ts != 0 {
		t.logger.Infof("tailer %v resuming after checkpoint %v\n", t.Name, ts)
		t.lastTs, t.hasTs = ts, true
		t.persistedTs, t.persisted = ts, true
		return t.openCursor(ctx, ts)
	}

	latest, err := t.source.LatestTimestamp(ctx)
	if err != nil {
		return nil, err
	}
	if t.options.CollectionDump {
		t.logger.Infof("tailer %v has no checkpoint, dumping collections as of %v\n", t.Name, latest)
		if err = t.dump(ctx, latest); err != nil {
			return nil, err
		}
	} else {
		t.logger.Warnf("tailer %v has no checkpoint and collection dump is disabled, starting at %v\n", t.Name, latest)
	}

	t.lastTs = latest
	if latest != 0 {
		t.hasTs = true
		t.commitCheckpoint()
	}
	return t.openCursor(ctx, latest)
}

func (t *Tailer) openCursor(ctx context.Context, after base.Timestamp) (Cursor, error) {
	var cursor Cursor
	openOp := func() error {
		c, err := t.source.Tail(ctx, after)
		if errors.Is(err, base.ErrCheckpointTooOld) {
			return &utils.PermanentError{Err: err}
		}
		if err != nil {
			return err
		}
		cursor = c
		return nil
	}
	err := utils.ExponentialBackoffExecutor(ctx, t.logger, t.Name+" open cursor", base.OpenCursorInitialWait,
		base.OpenCursorMaxRetries, base.OpenCursorBackoffFactor, base.OpenCursorMaxBackoff, openOp)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

func (t *Tailer) skip(e *LogEntry, reason string) {
	t.skippedCnt.Inc(1)
	t.logger.Debugf("tailer %v skipped %v: %v\n", t.Name, e, reason)
}

// fileNamespace is the <db>.<bucket> namespace of a .files entry.
func fileNamespace(ns string) string {
	return strings.TrimSuffix(ns, base.GridfsFilesSuffix)
}

func (t *Tailer) processEntry(ctx context.Context, e *LogEntry) error {
	if e.Op == base.OpNoop {
		t.skip(e, "no-op")
		return nil
	}
	if !t.translator.HasMapping() && namespace.IsInternal(e.Namespace) {
		t.skip(e, "internal namespace")
		return nil
	}
	if e.IsCommand() {
		return t.handleCommand(ctx, e)
	}
	if e.IsFileChunk() {
		t.skip(e, "file chunk")
		return nil
	}

	dest, ok := t.translator.MapNamespace(e.Namespace)
	if !ok {
		t.skip(e, "namespace out of scope")
		return nil
	}
	if e.IsFileMetadata() && e.Op == base.OpInsert {
		return t.insertFile(ctx, e, dest)
	}

	switch e.Op {
	case base.OpInsert:
		doc := t.projection.Document(e.Payload)
		return t.forEachTarget(ctx, e, func(target *sink.Target) error {
			return target.Sink.Upsert(ctx, doc.Clone(), dest, e.Timestamp)
		})

	case base.OpUpdate:
		id, ok := e.DocumentId()
		if !ok {
			return t.entryFailed(e, fmt.Errorf("%w: update without document id", base.ErrUpdateNotApplicable))
		}
		if e.IsFileMetadata() {
			dest = fileNamespace(dest)
		}
		if e.Refetch {
			return t.replaceFromSource(ctx, e, id, dest)
		}
		spec, ok := t.projection.Update(e.Payload)
		if !ok {
			t.skip(e, "no projected field changed")
			return nil
		}
		return t.forEachTarget(ctx, e, func(target *sink.Target) error {
			_, err := sink.Update(ctx, target.Sink, id, spec.Clone(), dest, e.Timestamp)
			return err
		})

	case base.OpDelete:
		id, ok := e.DocumentId()
		if !ok {
			return t.entryFailed(e, fmt.Errorf("%w: delete without document id", base.ErrInvalidCommand))
		}
		if e.IsFileMetadata() {
			dest = fileNamespace(dest)
		}
		return t.forEachTarget(ctx, e, func(target *sink.Target) error {
			return target.Sink.Remove(ctx, id, dest, e.Timestamp)
		})
	}

	t.skip(e, "unknown operation")
	return nil
}

func (t *Tailer) handleCommand(ctx context.Context, e *LogEntry) error {
	db, _ := namespace.Split(e.Namespace)
	cmd := e.Payload.Clone()
	if cmd == nil {
		cmd = document.Object{}
	}
	cmd[base.CmdDbKey] = document.String(db)
	t.translator.RewriteCommand(cmd)
	if len(cmd) == 0 {
		t.skip(e, "command suppressed")
		return nil
	}
	return t.forEachTarget(ctx, e, func(target *sink.Target) error {
		return sink.HandleCommand(ctx, target.Sink, cmd.Clone(), e.Timestamp, t.logger)
	})
}

// replaceFromSource writes the current version of the document at the
// source in place of an update that cannot be applied as a patch.
func (t *Tailer) replaceFromSource(ctx context.Context, e *LogEntry, id document.Value, dest string) error {
	doc, err := t.source.Lookup(ctx, e.Namespace, id)
	if errors.Is(err, base.ErrDocumentNotFound) {
		// removed since, a later delete entry follows
		t.skip(e, "document no longer exists at the source")
		return nil
	}
	if err != nil {
		return t.entryFailed(e, err)
	}
	doc = t.projection.Document(doc)
	return t.forEachTarget(ctx, e, func(target *sink.Target) error {
		return target.Sink.Upsert(ctx, doc.Clone(), dest, e.Timestamp)
	})
}

func (t *Tailer) insertFile(ctx context.Context, e *LogEntry, dest string) error {
	meta := t.projection.Document(e.Payload)
	fileNs := fileNamespace(dest)
	fileSource, ok := t.source.(FileSource)
	if !ok {
		return t.forEachTarget(ctx, e, func(target *sink.Target) error {
			return target.Sink.Upsert(ctx, meta.Clone(), fileNs, e.Timestamp)
		})
	}

	id, ok := e.DocumentId()
	if !ok {
		return t.entryFailed(e, fmt.Errorf("%w: file metadata without id", base.ErrObjectNotFound))
	}
	store, err := fileSource.ChunkStore(e.Namespace)
	if err != nil {
		return t.entryFailed(e, err)
	}
	_, content, err := chunked.ReadObject(ctx, store, id)
	if err != nil {
		return t.entryFailed(e, err)
	}

	return t.forEachTarget(ctx, e, func(target *sink.Target) error {
		if inserter, ok := target.Sink.(sink.FileInserter); ok {
			return inserter.InsertFile(ctx, meta.Clone(), bytes.NewReader(content), fileNs, e.Timestamp)
		}
		return target.Sink.Upsert(ctx, meta.Clone(), fileNs, e.Timestamp)
	})
}

// entryFailed applies the continue-on-error policy to an entry no target could take.
func (t *Tailer) entryFailed(e *LogEntry, err error) error {
	t.failedCnt.Inc(1)
	if !t.options.ContinueOnError {
		return fmt.Errorf("%v: %w", e, err)
	}
	t.logger.Errorf("tailer %v skipping %v. err=%v\n", t.Name, e, err)
	return nil
}

func (t *Tailer) forEachTarget(ctx context.Context, e *LogEntry, apply func(target *sink.Target) error) error {
	applied := 0
	for _, target := range t.targets {
		err := apply(target)
		if err == nil && target.CommitEachWrite() {
			err = target.Sink.Commit(ctx)
		}
		if err == nil {
			applied++
			continue
		}
		t.failedCnt.Inc(1)
		if !t.options.ContinueOnError {
			return fmt.Errorf("%v failed to apply %v: %w", target.Name, e, err)
		}
		t.logger.Errorf("tailer %v: %v failed to apply %v, skipping. err=%v\n", t.Name, target.Name, e, err)
	}
	if applied > 0 || len(t.targets) == 0 {
		t.processedCnt.Inc(1)
	}
	return nil
}

func (t *Tailer) dumpNamespaces(ctx context.Context) ([]string, error) {
	if t.translator.HasMapping() {
		namespaces := t.translator.Namespaces()
		sort.Strings(namespaces)
		return namespaces, nil
	}
	all, err := t.source.Namespaces(ctx)
	if err != nil {
		return nil, err
	}
	namespaces := make([]string, 0, len(all))
	for _, ns := range all {
		if namespace.IsInternal(ns) || strings.HasSuffix(ns, base.GridfsChunksSuffix) {
			continue
		}
		namespaces = append(namespaces, ns)
	}
	return namespaces, nil
}

// dump writes every in-scope document to the targets as of ts.
func (t *Tailer) dump(ctx context.Context, ts base.Timestamp) error {
	namespaces, err := t.dumpNamespaces(ctx)
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		if !t.alive.Load() {
			return base.ErrTailerStopped
		}
		dest, ok := t.translator.MapNamespace(ns)
		if !ok {
			continue
		}
		count, err := t.dumpCollection(ctx, ns, dest, ts)
		if errors.Is(err, base.ErrTailerStopped) {
			return err
		}
		if err != nil {
			t.failedCnt.Inc(1)
			if !t.options.ContinueOnError {
				return fmt.Errorf("dump of %v failed: %w", ns, err)
			}
			t.logger.Errorf("tailer %v failed to dump %v, continuing. err=%v\n", t.Name, ns, err)
			continue
		}
		t.logger.Infof("tailer %v dumped %v documents of %v\n", t.Name, count, ns)
	}
	return nil
}

func (t *Tailer) dumpCollection(ctx context.Context, ns, dest string, ts base.Timestamp) (int, error) {
	count := 0
	if strings.HasSuffix(ns, base.GridfsFilesSuffix) {
		err := t.source.Scan(ctx, ns, func(doc document.Object) error {
			count++
			return t.insertFile(ctx, &LogEntry{Timestamp: ts, Op: base.OpInsert, Namespace: ns, Payload: doc}, dest)
		})
		return count, err
	}

	batch := make([]document.Object, 0, base.DefaultMaxBulk)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		for _, target := range t.targets {
			if err := sink.BulkUpsert(ctx, target.Sink, batch, dest, ts); err != nil {
				return fmt.Errorf("%v: %w", target.Name, err)
			}
		}
		count += len(batch)
		batch = make([]document.Object, 0, base.DefaultMaxBulk)
		return nil
	}

	err := t.source.Scan(ctx, ns, func(doc document.Object) error {
		if !t.alive.Load() {
			return base.ErrTailerStopped
		}
		batch = append(batch, t.projection.Document(doc))
		if len(batch) >= base.DefaultMaxBulk {
			return flush()
		}
		return nil
	})
	if err != nil {
		return count, err
	}
	return count, flush()
}

func (t *Tailer) reportStats() {
	stats := t.Stats()
	ts, _ := t.store.Get(t.Name)
	t.logger.Infof("tailer %v processed=%v skipped=%v failed=%v checkpoint=%v\n",
		t.Name, stats.Processed, stats.Skipped, stats.Failed, ts)
}
