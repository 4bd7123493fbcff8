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

	"go.uber.org/zap/zapcore"
)

type stdoutTeeWriter struct {
	file *os.File
}

func (w *stdoutTeeWriter) Write(p []byte) (int, error) {
	// Write to stdout first (ignore errors - logging shouldn't fail due to stdout)
	_, _ = os.Stdout.Write(p)
	return w.file.Write(p)
}

func (w *stdoutTeeWriter) Sync() error {
	return w.file.Sync()
}

// NewLogWriter appends log output to fileName and echoes it on stdout.
// The returned callback closes the file.
func NewLogWriter(fileName string) (zapcore.WriteSyncer, func() error, error) {
	fd, err := os.OpenFile(fileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", fileName, err)
	}
	return &stdoutTeeWriter{file: fd}, fd.Close, nil
}
