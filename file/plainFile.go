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
)

var _ File = (*PlainFile)(nil)

func (p *PlainFile) Read(b []byte) (int, error) {
	return p.file.Read(b)
}

func (p *PlainFile) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

func (p *PlainFile) Sync() error {
	return p.file.Sync()
}

func (p *PlainFile) Close() error {
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

func (p *PlainFile) Name() string {
	return p.name
}

func (p *PlainFile) Suffix() string {
	return ""
}

func (p *PlainFile) ReadAll() ([]byte, error) {
	if p.file == nil {
		return nil, fmt.Errorf("file descriptor is nil")
	}
	if _, err := p.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek error: %w", err)
	}
	return io.ReadAll(p.file)
}
