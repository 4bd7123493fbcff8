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
	"fmt"
	"sync"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/stretchr/testify/assert"
)

func TestStoreSetGet(t *testing.T) {
	assert := assert.New(t)
	store := NewStore()

	_, ok := store.Get("shard0")
	assert.False(ok)

	store.Set("shard0", base.NewTimestamp(10, 1))
	store.Set("shard1", base.NewTimestamp(5, 0))
	store.Set("shard0", base.NewTimestamp(11, 2))

	ts, ok := store.Get("shard0")
	assert.True(ok)
	assert.Equal(base.NewTimestamp(11, 2), ts)
	assert.Equal(2, store.Len())

	// first-set order survives an overwrite
	assert.Equal([]Entry{
		{SourceId: "shard0", Timestamp: base.NewTimestamp(11, 2)},
		{SourceId: "shard1", Timestamp: base.NewTimestamp(5, 0)},
	}, store.Snapshot())
}

func TestStoreLoadReplaces(t *testing.T) {
	assert := assert.New(t)
	store := NewStore()
	store.Set("old", 1)

	store.Load([]Entry{{SourceId: "a", Timestamp: 3}, {SourceId: "b", Timestamp: 4}, {SourceId: "a", Timestamp: 5}})

	_, ok := store.Get("old")
	assert.False(ok)
	ts, _ := store.Get("a")
	assert.Equal(base.Timestamp(5), ts)
	assert.Equal([]Entry{{SourceId: "a", Timestamp: 5}, {SourceId: "b", Timestamp: 4}}, store.Snapshot())
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("shard%v", i)
			for n := 1; n <= 200; n++ {
				store.Set(id, base.Timestamp(n))
				store.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, store.Len())
	for _, e := range store.Snapshot() {
		assert.Equal(t, base.Timestamp(200), e.Timestamp)
	}
}
