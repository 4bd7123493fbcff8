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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/couchbase/oplogConnector/base"
)

// Marshal renders entries as the flat array [id0, ts0, id1, ts1, ...].
func Marshal(entries []Entry) ([]byte, error) {
	flat := make([]interface{}, 0, 2*len(entries))
	for _, e := range entries {
		flat = append(flat, e.SourceId, uint64(e.Timestamp))
	}
	return json.Marshal(flat)
}

// Unmarshal parses the flat array format. Empty input yields no entries.
func Unmarshal(data []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var flat []interface{}
	if err := decoder.Decode(&flat); err != nil {
		return nil, err
	}
	if decoder.More() {
		return nil, fmt.Errorf("trailing data after checkpoint array")
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("checkpoint array has odd length %v", len(flat))
	}

	entries := make([]Entry, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		id, ok := flat[i].(string)
		if !ok {
			return nil, fmt.Errorf("checkpoint entry %v: source id %v is not a string", i/2, flat[i])
		}
		num, ok := flat[i+1].(json.Number)
		if !ok {
			return nil, fmt.Errorf("checkpoint entry %v: timestamp %v is not a number", i/2, flat[i+1])
		}
		ts, err := strconv.ParseUint(num.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("checkpoint entry %v: %w", i/2, err)
		}
		entries = append(entries, Entry{SourceId: id, Timestamp: base.Timestamp(ts)})
	}
	return entries, nil
}
