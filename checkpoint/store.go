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
	"sync"

	"github.com/couchbase/oplogConnector/base"
)

// Entry is one persisted position.
type Entry struct {
	SourceId  string
	Timestamp base.Timestamp
}

// Store maps a source identifier to the last applied log position. It is
// safe for concurrent use by every tailer and the persistence routine.
type Store struct {
	mtx       sync.RWMutex
	positions map[string]base.Timestamp
	// first-set order, kept so snapshots are stable
	order []string
}

func NewStore() *Store {
	return &Store{
		positions: make(map[string]base.Timestamp),
	}
}

func (s *Store) Get(sourceId string) (base.Timestamp, bool) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	ts, ok := s.positions[sourceId]
	return ts, ok
}

func (s *Store) Set(sourceId string, ts base.Timestamp) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if _, ok := s.positions[sourceId]; !ok {
		s.order = append(s.order, sourceId)
	}
	s.positions[sourceId] = ts
}

func (s *Store) Snapshot() []Entry {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	entries := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, Entry{SourceId: id, Timestamp: s.positions[id]})
	}
	return entries
}

// Load replaces the whole in-memory state with entries.
func (s *Store) Load(entries []Entry) {
	positions := make(map[string]base.Timestamp, len(entries))
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := positions[e.SourceId]; !ok {
			order = append(order, e.SourceId)
		}
		positions[e.SourceId] = e.Timestamp
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()
	s.positions = positions
	s.order = order
}

func (s *Store) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.positions)
}
