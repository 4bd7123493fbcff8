// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialBackoffExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after retries", func(t *testing.T) {
		attempts := 0
		err := ExponentialBackoffExecutor(ctx, nil, "op", time.Millisecond, 3, 2, 4*time.Millisecond, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		sentinel := errors.New("always")
		err := ExponentialBackoffExecutor(ctx, nil, "op", time.Millisecond, 2, 2, time.Millisecond, func() error {
			attempts++
			return sentinel
		})
		assert.True(t, errors.Is(err, sentinel))
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		attempts := 0
		sentinel := errors.New("fatal")
		err := ExponentialBackoffExecutor(ctx, nil, "op", time.Millisecond, 5, 2, time.Millisecond, func() error {
			attempts++
			return &PermanentError{Err: sentinel}
		})
		assert.Equal(t, sentinel, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := ExponentialBackoffExecutor(cancelled, nil, "op", time.Hour, 5, 2, time.Hour, func() error {
			return errors.New("transient")
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestAddToErrorChanDoesNotBlock(t *testing.T) {
	errChan := make(chan error, 1)
	AddToErrorChan(errChan, errors.New("first"))
	AddToErrorChan(errChan, errors.New("second"))
	assert.EqualError(t, <-errChan, "first")
}

func TestCopyFileAndCleanup(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "oplog.timestamp")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0600))

	dst := filepath.Join(dir, "oplog.timestamp.backup")
	require.NoError(t, CopyFile(src, dst, 0600))
	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
	assert.NoError(t, SyncDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "oplog.timestamp.a.tmp"), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "oplog.timestamp.b.tmp"), nil, 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.tmp"), nil, 0600))

	removed, err := CleanupTmpFiles(dir, "oplog.timestamp.", ".tmp")
	assert.NoError(t, err)
	assert.Equal(t, 2, removed)
	_, err = os.Stat(filepath.Join(dir, "other.tmp"))
	assert.NoError(t, err)

	removed, err = CleanupTmpFiles(filepath.Join(dir, "missing"), "x", ".tmp")
	assert.NoError(t, err)
	assert.Equal(t, 0, removed)
}
