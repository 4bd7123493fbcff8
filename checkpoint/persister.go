// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/file"
	"github.com/couchbase/oplogConnector/utils"
	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"
)

// swapped by tests to simulate a crash between writing the temp file and replacing the primary
var renameFile = os.Rename

// Persister writes the Store to a checkpoint file, periodically and on
// demand, and restores it at startup. Only one save runs at a time.
//
// Save protocol: write the snapshot to a uniquely named temp file and sync
// it, link the current primary to <file>.backup, rename the temp file over
// the primary, sync the directory, then remove the backup. The primary is
// never truncated or removed before its replacement is complete.
type Persister struct {
	fileName string
	store    *Store
	factory  *file.Factory
	interval time.Duration
	logger   *zap.SugaredLogger

	saveLock  sync.Mutex
	stateLock sync.RWMutex
	started   bool
	stopped   bool
	finChan   chan bool
	waitGroup sync.WaitGroup

	savedCnt   metrics.Counter
	failedCnt  metrics.Counter
	corruptCnt metrics.Counter
}

func NewPersister(fileName string, store *Store, factory *file.Factory, interval time.Duration, logger *zap.SugaredLogger) *Persister {
	if factory == nil {
		factory = file.NewFactory(nil)
	}
	if logger == nil {
		logger = base.NewNopLogger()
	}
	return &Persister{
		fileName:   fileName,
		store:      store,
		factory:    factory,
		interval:   interval,
		logger:     logger,
		finChan:    make(chan bool),
		savedCnt:   metrics.NewCounter(),
		failedCnt:  metrics.NewCounter(),
		corruptCnt: metrics.NewCounter(),
	}
}

func (p *Persister) FileName() string {
	return p.fileName
}

func (p *Persister) backupFileName() string {
	return p.fileName + base.BackupFileSuffix
}

func (p *Persister) tempFilePrefix() string {
	return filepath.Base(p.fileName) + "."
}

// Start sweeps stale temp files, restores the store from disk and starts
// the periodic save routine when an interval is configured.
func (p *Persister) Start() error {
	removed, err := utils.CleanupTmpFiles(filepath.Dir(p.fileName), p.tempFilePrefix(), base.TempFileSuffix)
	if err != nil {
		p.logger.Warnf("error removing stale checkpoint temp files. err=%v\n", err)
	} else if removed > 0 {
		p.logger.Infof("removed %v stale checkpoint temp files\n", removed)
	}

	if _, err := p.Load(); err != nil {
		return err
	}

	p.stateLock.Lock()
	p.started = true
	p.stateLock.Unlock()

	if p.interval > 0 {
		p.waitGroup.Add(1)
		go p.periodicalCheckpointing()
	}
	return nil
}

// Stop ends the periodic routine and writes a final checkpoint. It is idempotent.
func (p *Persister) Stop() error {
	p.stateLock.Lock()
	if p.stopped {
		p.stateLock.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.stateLock.Unlock()

	p.logger.Infof("checkpoint persister stopping\n")
	defer p.logger.Infof("checkpoint persister stopped\n")

	close(p.finChan)
	p.waitGroup.Wait()

	if !started {
		return nil
	}
	return p.Save()
}

func (p *Persister) periodicalCheckpointing() {
	defer p.waitGroup.Done()
	p.logger.Infof("starting periodical checkpointing routine for %v every %v\n", p.fileName, p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// failures are counted and logged, the in-memory state is retried next tick
			p.Save()
		case <-p.finChan:
			return
		}
	}
}

// Load restores the store from the checkpoint file. It returns false when
// there is nothing to resume from; an empty or unparsable file is logged
// and treated that way. Only read failures are returned as errors.
func (p *Persister) Load() (bool, error) {
	data, err := p.factory.ReadFile(p.fileName)
	if errors.Is(err, fs.ErrNotExist) {
		data, err = p.factory.ReadFile(p.backupFileName())
		if errors.Is(err, fs.ErrNotExist) {
			p.logger.Infof("no checkpoint file %v, starting without checkpoints\n", p.fileName)
			return false, nil
		}
		if err == nil {
			p.logger.Warnf("checkpoint file %v is missing, recovering from %v\n", p.fileName, p.backupFileName())
		}
	}
	if err != nil {
		p.logger.Errorf("Error opening checkpoint file. err=%v\n", err)
		return false, err
	}

	entries, err := Unmarshal(data)
	if err != nil {
		p.corruptCnt.Inc(1)
		p.logger.Errorf("Error parsing checkpoint file %v, performing a full resync. err=%v\n", p.fileName, err)
		return false, nil
	}
	if len(entries) == 0 {
		p.logger.Infof("checkpoint file %v is empty, starting without checkpoints\n", p.fileName)
		return false, nil
	}

	p.store.Load(entries)
	p.logger.Infof("loaded %v checkpoints from %v\n", len(entries), p.fileName)
	return true, nil
}

func (p *Persister) Save() error {
	p.saveLock.Lock()
	defer p.saveLock.Unlock()

	err := p.saveLocked()
	if err != nil {
		p.failedCnt.Inc(1)
		p.logger.Errorf("error saving checkpoint %v. err=%v\n", p.fileName, err)
		return err
	}
	p.savedCnt.Inc(1)
	return nil
}

func (p *Persister) saveLocked() error {
	entries := p.store.Snapshot()
	value, err := Marshal(entries)
	if err != nil {
		return err
	}

	tmpName := fmt.Sprintf("%v.%v%v", p.fileName, uuid.NewString(), base.TempFileSuffix)
	if err = p.writeTemp(tmpName, value); err != nil {
		os.Remove(tmpName)
		return err
	}

	hasPrimary := false
	if _, err = os.Stat(p.fileName); err == nil {
		hasPrimary = true
		if err = p.linkBackup(); err != nil {
			os.Remove(tmpName)
			return err
		}
	}

	if err = renameFile(tmpName, p.fileName); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing %v: %w", p.fileName, err)
	}
	if err = utils.SyncDir(filepath.Dir(p.fileName)); err != nil {
		p.logger.Warnf("error syncing checkpoint directory. err=%v\n", err)
	}
	if hasPrimary {
		if err = os.Remove(p.backupFileName()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warnf("error removing checkpoint backup %v. err=%v\n", p.backupFileName(), err)
		}
	}

	p.logger.Debugf("saved %v checkpoints to %v\n", len(entries), p.fileName)
	return nil
}

func (p *Persister) writeTemp(tmpName string, value []byte) error {
	f, err := p.factory.OpenFile(tmpName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, base.FileModeOwnerOnly, file.WriteMode)
	if err != nil {
		return err
	}
	numOfBytes, err := f.Write(value)
	if err != nil {
		f.Close()
		return err
	}
	if numOfBytes != len(value) {
		f.Close()
		return fmt.Errorf("Incomplete write. expected=%v, actual=%v", len(value), numOfBytes)
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// the backup keeps the previous primary reachable while it is being replaced
func (p *Persister) linkBackup() error {
	backup := p.backupFileName()
	if err := os.Remove(backup); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Link(p.fileName, backup); err == nil {
		return nil
	}
	return utils.CopyFile(p.fileName, backup, base.FileModeOwnerOnly)
}

type Stats struct {
	Saved   int64
	Failed  int64
	Corrupt int64
}

func (p *Persister) Stats() Stats {
	return Stats{
		Saved:   p.savedCnt.Count(),
		Failed:  p.failedCnt.Count(),
		Corrupt: p.corruptCnt.Count(),
	}
}
