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
	"fmt"

	"github.com/couchbase/oplogConnector/base"
)

// NewUpdateSpec builds a sparse patch. A nil set and no unset paths yields
// an empty patch, not a replacement.
func NewUpdateSpec(set Object, unset ...string) Object {
	spec := Object{}
	if set == nil {
		set = Object{}
	}
	spec[base.SetOperator] = set
	if len(unset) > 0 {
		paths := Object{}
		for _, p := range unset {
			paths[p] = Int(1)
		}
		spec[base.UnsetOperator] = paths
	}
	return spec
}

func IsReplacement(spec Object) bool {
	_, hasSet := spec[base.SetOperator]
	_, hasUnset := spec[base.UnsetOperator]
	return !hasSet && !hasUnset
}

// ApplyUpdate applies spec to doc and returns the result. doc is never
// modified; on failure the returned error wraps base.ErrUpdateNotApplicable.
//
// A spec without $set and $unset replaces the document, keeping the
// original _ts and ns fields.
func ApplyUpdate(doc Object, spec Object) (Object, error) {
	if IsReplacement(spec) {
		result := spec.Clone()
		if result == nil {
			result = Object{}
		}
		for _, key := range []string{base.TimestampField, base.NamespaceField} {
			if v, ok := doc[key]; ok {
				result[key] = Clone(v)
			}
		}
		return result, nil
	}

	setPaths, err := setEntries(spec)
	if err != nil {
		return nil, err
	}
	unsetPaths, err := unsetEntries(spec)
	if err != nil {
		return nil, err
	}

	var result Value = doc.Clone()
	if result.(Object) == nil {
		result = Object{}
	}

	for _, path := range setPaths.SortedKeys() {
		result, err = setPath(result, SplitPath(path), Clone(setPaths[path]))
		if err != nil {
			return nil, fmt.Errorf("cannot set %q: %w", path, err)
		}
	}
	for _, path := range unsetPaths {
		result, err = unsetPath(result, SplitPath(path))
		if err != nil {
			return nil, fmt.Errorf("cannot unset %q: %w", path, err)
		}
	}
	return result.(Object), nil
}

func setEntries(spec Object) (Object, error) {
	raw, ok := spec[base.SetOperator]
	if !ok {
		return Object{}, nil
	}
	set, ok := raw.(Object)
	if !ok {
		return nil, fmt.Errorf("%w: %v must be a mapping, got %T", base.ErrUpdateNotApplicable, base.SetOperator, raw)
	}
	return set, nil
}

// $unset is either a mapping whose keys are paths or a list of paths
func unsetEntries(spec Object) ([]string, error) {
	raw, ok := spec[base.UnsetOperator]
	if !ok {
		return nil, nil
	}
	switch t := raw.(type) {
	case Object:
		return t.SortedKeys(), nil
	case Array:
		paths := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(String)
			if !ok {
				return nil, fmt.Errorf("%w: %v entries must be strings, got %T", base.ErrUpdateNotApplicable, base.UnsetOperator, e)
			}
			paths = append(paths, string(s))
		}
		return paths, nil
	}
	return nil, fmt.Errorf("%w: %v must be a mapping or list, got %T", base.ErrUpdateNotApplicable, base.UnsetOperator, raw)
}
