// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.


package main

import "time"

const ProgramName = "oplogConnector"

// read before prompting on the terminal when checkpoint encryption is enabled
const PassphraseEnvVar = "OPLOG_CONNECTOR_PASSPHRASE"

// exit codes
const (
	ExitOK          = 0
	ExitConfigError = 1
	ExitRunError    = 2
)

// time allowed for connecting to every source and target at startup
var StartupTimeout = 30 * time.Second
