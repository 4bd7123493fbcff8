// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package mongo

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
)

const (
	versionField = "$v"
	diffField    = "diff"
)

// ErrNeedsPostImage is returned for array diffs that $set/$unset paths
// cannot express: an element written at an index the array may not have
// yet (appends) and resizes. The updated document has to be read back.
var ErrNeedsPostImage = errors.New("array diff needs the updated document")

// NormalizeUpdate turns the o field of an update entry into either a
// replacement document or a $set/$unset patch. Servers from 5.0 on log
// updates as $v:2 diffs, which are flattened into dotted paths here.
func NormalizeUpdate(o document.Object) (document.Object, error) {
	version, hasVersion := o[versionField]
	if !hasVersion {
		return o, nil
	}
	v, _ := numeric(version)
	if v != 2 {
		out := o.Clone()
		delete(out, versionField)
		return out, nil
	}

	diff, ok := o[diffField].(document.Object)
	if !ok {
		return nil, fmt.Errorf("%w: $v:2 update without a diff", base.ErrUpdateNotApplicable)
	}
	set := document.Object{}
	var unset []string
	if err := flattenDiff(diff, "", set, &unset); err != nil {
		return nil, err
	}
	return document.NewUpdateSpec(set, unset...), nil
}

// A diff holds "u" (updated fields), "i" (inserted fields), "d" (deleted
// fields) and one "s<field>" sub diff per modified sub document. Array
// diffs carry "a": true, "u<index>" and "s<index>" entries and may
// resize the array through "l". Only "s<index>" maps onto a path.
func flattenDiff(diff document.Object, prefix string, set document.Object, unset *[]string) error {
	if diff.Truthy("a") {
		return flattenArrayDiff(diff, prefix, set, unset)
	}
	for _, key := range diff.SortedKeys() {
		value := diff[key]
		switch {
		case key == "u" || key == "i":
			fields, ok := value.(document.Object)
			if !ok {
				return diffError(prefix, key)
			}
			for field, v := range fields {
				set[prefix+field] = document.Clone(v)
			}
		case key == "d":
			fields, ok := value.(document.Object)
			if !ok {
				return diffError(prefix, key)
			}
			for _, field := range fields.SortedKeys() {
				*unset = append(*unset, prefix+field)
			}
		case strings.HasPrefix(key, "s") && len(key) > 1:
			sub, ok := value.(document.Object)
			if !ok {
				return diffError(prefix, key)
			}
			if err := flattenDiff(sub, prefix+key[1:]+base.NamespaceDelimiter, set, unset); err != nil {
				return err
			}
		default:
			return diffError(prefix, key)
		}
	}
	return nil
}

func flattenArrayDiff(diff document.Object, prefix string, set document.Object, unset *[]string) error {
	for _, key := range diff.SortedKeys() {
		value := diff[key]
		switch {
		case key == "a":
		case key == "l":
			return fmt.Errorf("%w: array resize at %q", ErrNeedsPostImage, strings.TrimSuffix(prefix, "."))
		case strings.HasPrefix(key, "u") && isIndex(key[1:]):
			return fmt.Errorf("%w: array element %v written at %q", ErrNeedsPostImage, key[1:], strings.TrimSuffix(prefix, "."))
		case strings.HasPrefix(key, "s") && isIndex(key[1:]):
			sub, ok := value.(document.Object)
			if !ok {
				return diffError(prefix, key)
			}
			if err := flattenDiff(sub, prefix+key[1:]+base.NamespaceDelimiter, set, unset); err != nil {
				return err
			}
		default:
			return diffError(prefix, key)
		}
	}
	return nil
}

func isIndex(s string) bool {
	n, err := strconv.Atoi(s)
	return err == nil && n >= 0
}

func diffError(prefix, key string) error {
	return fmt.Errorf("%w: unexpected diff entry %q at %q", base.ErrUpdateNotApplicable, key, strings.TrimSuffix(prefix, "."))
}
