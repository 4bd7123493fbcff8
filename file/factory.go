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
	"os"

	"github.com/couchbase/oplogConnector/encryption"
)

// Factory opens plain files, or sealed files when a sealer is configured.
type Factory struct {
	sealer *encryption.Sealer
}

func NewFactory(sealer *encryption.Sealer) *Factory {
	return &Factory{sealer: sealer}
}

func (f *Factory) IsEncrypted() bool {
	return f != nil && f.sealer != nil
}

func (f *Factory) GetSuffix() string {
	if f.IsEncrypted() {
		return encryption.EncSuffix
	}
	return ""
}

func (f *Factory) OpenFile(path string, flag int, perm os.FileMode, mode FileMode) (File, error) {
	fd, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, err
	}
	if !f.IsEncrypted() {
		return &PlainFile{file: fd, name: path}, nil
	}
	if mode == WriteMode && flag&os.O_TRUNC == 0 {
		fd.Close()
		return nil, fmt.Errorf("sealed file %v must be opened with O_TRUNC for writing", path)
	}
	return &SealedFile{file: fd, name: path, sealer: f.sealer, mode: mode}, nil
}

// ReadFile returns the plaintext content of path.
func (f *Factory) ReadFile(path string) ([]byte, error) {
	fd, err := f.OpenFile(path, os.O_RDONLY, 0, ReadMode)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	return fd.ReadAll()
}
