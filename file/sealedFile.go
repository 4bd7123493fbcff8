// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package file

import (
	"fmt"
	"io"

	"github.com/couchbase/oplogConnector/encryption"
)

var _ File = (*SealedFile)(nil)

func (s *SealedFile) Read(b []byte) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.loadLocked(); err != nil {
		return 0, err
	}
	if s.offset >= len(s.buf) {
		return 0, io.EOF
	}
	n := copy(b, s.buf[s.offset:])
	s.offset += n
	return n, nil
}

func (s *SealedFile) ReadAll() ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	s.offset = len(s.buf)
	return append([]byte(nil), s.buf...), nil
}

func (s *SealedFile) loadLocked() error {
	if s.loaded {
		return nil
	}
	if s.mode != ReadMode {
		return fmt.Errorf("file %v is not open for reading", s.name)
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek error: %w", err)
	}
	blob, err := io.ReadAll(s.file)
	if err != nil {
		return err
	}
	if len(blob) > 0 {
		s.buf, err = s.sealer.Open(blob)
		if err != nil {
			return fmt.Errorf("%v: %w", s.name, err)
		}
	}
	s.loaded = true
	return nil
}

func (s *SealedFile) Write(b []byte) (int, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.mode != WriteMode {
		return 0, fmt.Errorf("file %v is not open for writing", s.name)
	}
	if s.flushed {
		return 0, fmt.Errorf("file %v has already been sealed", s.name)
	}
	s.buf = append(s.buf, b...)
	s.dirty = true
	return len(b), nil
}

// Sync seals the buffered plaintext and writes it out. A sealed file can
// only be flushed once.
func (s *SealedFile) Sync() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.flushLocked()
}

func (s *SealedFile) flushLocked() error {
	if s.mode != WriteMode || s.flushed {
		return nil
	}
	blob, err := s.sealer.Seal(s.buf)
	encryption.ZeroBytes(s.buf)
	if err != nil {
		return err
	}
	n, err := s.file.Write(blob)
	if err != nil {
		return err
	}
	if n != len(blob) {
		return fmt.Errorf("Incomplete write. expected=%v, actual=%v", len(blob), n)
	}
	s.flushed = true
	s.dirty = false
	return s.file.Sync()
}

func (s *SealedFile) Close() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var flushErr error
	if s.dirty {
		flushErr = s.flushLocked()
	}
	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

func (s *SealedFile) Name() string {
	return s.name
}

func (s *SealedFile) Suffix() string {
	return encryption.EncSuffix
}
