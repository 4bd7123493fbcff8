// Copyright (c) 2018 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package base

import (
	"time"
)

const FileModeReadWrite = 0666
const FileModeOwnerOnly = 0600
const DefaultOplogFileName = "oplog.timestamp"
const BackupFileSuffix = ".backup"
const TempFileSuffix = ".tmp"

// -1 means the checkpoint is only written after the log has been drained
const DefaultBatchSize = -1

// max number of documents handed to a single bulk upsert during collection dump
const DefaultMaxBulk = 500
const DefaultUniqueKey = "_id"

// seconds between two runs of the periodic checkpoint persistence routine
const DefaultCheckpointInterval = 1

// seconds between two status reports of a tailer
const StatsReportInterval = 10

const DefaultStatusAddress = ""

// reserved document fields
const TimestampField = "_ts"
const NamespaceField = "ns"
const IdField = "_id"
const GridfsIdField = "gridfs_id"

// oplog entry fields
const (
	OplogTimestampKey = "ts"
	OplogOpKey        = "op"
	OplogNamespaceKey = "ns"
	OplogObjectKey    = "o"
	OplogObject2Key   = "o2"
)

// command names found in oplog command entries
const (
	CmdCreate           = "create"
	CmdDrop             = "drop"
	CmdDropDatabase     = "dropDatabase"
	CmdRenameCollection = "renameCollection"
	CmdRenameTo         = "to"
	CmdDropTarget       = "dropTarget"
	CmdDbKey            = "db"
)

const AdminDatabase = "admin"
const LocalDatabase = "local"
const ConfigDatabase = "config"
const CommandCollection = "$cmd"
const SystemCollectionPrefix = "system."
const GridfsFilesSuffix = ".files"
const GridfsChunksSuffix = ".chunks"
const NamespaceDelimiter = "."

// update operators
const SetOperator = "$set"
const UnsetOperator = "$unset"

// how long a tailer waits before polling a drained log again
var DrainedLogPollInterval = 500 * time.Millisecond

// retries when (re)opening a cursor on the source
const OpenCursorMaxRetries = 5
const OpenCursorInitialWait = 200 * time.Millisecond
const OpenCursorBackoffFactor = 2
const OpenCursorMaxBackoff = 5 * time.Second

const StatusChanSize = 100
