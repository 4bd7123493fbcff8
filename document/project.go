// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package document

import (
	"strings"

	"github.com/couchbase/oplogConnector/base"
)

// Projection keeps a configured set of top level fields. The identity,
// timestamp and namespace fields are always kept. An empty projection keeps everything.
type Projection struct {
	fields map[string]bool
}

func NewProjection(fields []string) *Projection {
	p := &Projection{}
	if len(fields) == 0 {
		return p
	}
	p.fields = map[string]bool{
		base.IdField:        true,
		base.TimestampField: true,
		base.NamespaceField: true,
	}
	for _, f := range fields {
		p.fields[topLevel(f)] = true
	}
	return p
}

func topLevel(path string) string {
	if i := strings.Index(path, PathDelimiter); i >= 0 {
		return path[:i]
	}
	return path
}

func (p *Projection) Enabled() bool {
	return p != nil && len(p.fields) > 0
}

func (p *Projection) Document(doc Object) Object {
	if !p.Enabled() {
		return doc
	}
	out := make(Object, len(p.fields))
	for k, v := range doc {
		if p.fields[topLevel(k)] {
			out[k] = v
		}
	}
	return out
}

// Update filters a patch. ok is false when nothing of the patch survives.
func (p *Projection) Update(spec Object) (Object, bool) {
	if !p.Enabled() {
		return spec, true
	}
	if IsReplacement(spec) {
		return p.Document(spec), true
	}

	out := Object{}
	for _, op := range []string{base.SetOperator, base.UnsetOperator} {
		raw, ok := spec[op]
		if !ok {
			continue
		}
		switch t := raw.(type) {
		case Object:
			kept := Object{}
			for path, v := range t {
				if p.fields[topLevel(path)] {
					kept[path] = v
				}
			}
			if len(kept) > 0 {
				out[op] = kept
			}
		case Array:
			kept := Array{}
			for _, e := range t {
				if s, ok := e.(String); ok && p.fields[topLevel(string(s))] {
					kept = append(kept, e)
				}
			}
			if len(kept) > 0 {
				out[op] = kept
			}
		default:
			out[op] = raw
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}
