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
	"io"
	"os"
	"sync"

	"github.com/couchbase/oplogConnector/encryption"
)

type FileMode int

const (
	ReadMode FileMode = iota
	WriteMode
)

type File interface {
	io.ReadWriteCloser
	// ReadAll reads and returns the entire file contents.
	ReadAll() ([]byte, error)

	// Sync makes everything written so far durable.
	Sync() error

	Name() string

	// Suffix returns the file extension/suffix (".enc" for sealed files, "" for plain)
	Suffix() string
}

type PlainFile struct {
	file *os.File
	name string
}

// SealedFile holds the whole plaintext in memory. Writes are sealed and
// flushed as one blob on Sync or Close; reads open the blob on first use.
type SealedFile struct {
	mtx    sync.Mutex
	file   *os.File
	name   string
	sealer *encryption.Sealer
	mode   FileMode

	buf     []byte
	offset  int
	loaded  bool
	dirty   bool
	flushed bool
}
