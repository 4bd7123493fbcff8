// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package base

import "errors"

var (
	ErrUpdateNotApplicable = errors.New("update is not applicable to document")
	ErrObjectNotFound      = errors.New("segmented object not found")
	ErrCorruptObject       = errors.New("segmented object is truncated")
	ErrCursorInvalidated   = errors.New("log cursor invalidated")
	ErrCheckpointTooOld    = errors.New("checkpoint is no longer available in the log")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidCommand      = errors.New("invalid oplog command")
	ErrDocumentNotFound    = errors.New("document not found")
	ErrNotSupported        = errors.New("operation not supported by sink")
	ErrTailerStopped       = errors.New("tailer has been stopped")
)
