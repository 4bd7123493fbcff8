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
	"strconv"
	"strings"

	"github.com/couchbase/oplogConnector/base"
)

const PathDelimiter = "."

func SplitPath(path string) []string {
	return strings.Split(path, PathDelimiter)
}

// sequence containers are addressed by integer segments, no padding
func arrayIndex(arr Array, segment string) (int, error) {
	idx, err := strconv.Atoi(segment)
	if err != nil {
		return 0, fmt.Errorf("%w: segment %q is not an index", base.ErrUpdateNotApplicable, segment)
	}
	if idx < 0 || idx >= len(arr) {
		return 0, fmt.Errorf("%w: index %v out of range [0, %v)", base.ErrUpdateNotApplicable, idx, len(arr))
	}
	return idx, nil
}

func typeMismatch(v Value, segment string) error {
	return fmt.Errorf("%w: cannot descend into %T at %q", base.ErrUpdateNotApplicable, v, segment)
}

// Lookup walks path from v without modifying anything.
func Lookup(v Value, path []string) (Value, bool) {
	cur := v
	for _, segment := range path {
		switch c := cur.(type) {
		case Object:
			next, ok := c[segment]
			if !ok {
				return nil, false
			}
			cur = next
		case Array:
			idx, err := arrayIndex(c, segment)
			if err != nil {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// setPath assigns val at path below v, creating missing intermediate
// mappings. It returns the possibly replaced container.
func setPath(v Value, path []string, val Value) (Value, error) {
	segment := path[0]
	rest := path[1:]
	switch c := v.(type) {
	case Object:
		if len(rest) == 0 {
			c[segment] = val
			return c, nil
		}
		child, ok := c[segment]
		if !ok {
			child = Object{}
		}
		newChild, err := setPath(child, rest, val)
		if err != nil {
			return nil, err
		}
		c[segment] = newChild
		return c, nil
	case Array:
		idx, err := arrayIndex(c, segment)
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			c[idx] = val
			return c, nil
		}
		newChild, err := setPath(c[idx], rest, val)
		if err != nil {
			return nil, err
		}
		c[idx] = newChild
		return c, nil
	}
	return nil, typeMismatch(v, segment)
}

// unsetPath removes the last segment of path below v. Nothing is created on the way.
func unsetPath(v Value, path []string) (Value, error) {
	segment := path[0]
	rest := path[1:]
	switch c := v.(type) {
	case Object:
		child, ok := c[segment]
		if !ok {
			return nil, fmt.Errorf("%w: no field %q", base.ErrUpdateNotApplicable, segment)
		}
		if len(rest) == 0 {
			delete(c, segment)
			return c, nil
		}
		newChild, err := unsetPath(child, rest)
		if err != nil {
			return nil, err
		}
		c[segment] = newChild
		return c, nil
	case Array:
		idx, err := arrayIndex(c, segment)
		if err != nil {
			return nil, err
		}
		if len(rest) == 0 {
			out := make(Array, 0, len(c)-1)
			out = append(out, c[:idx]...)
			return append(out, c[idx+1:]...), nil
		}
		newChild, err := unsetPath(c[idx], rest)
		if err != nil {
			return nil, err
		}
		c[idx] = newChild
		return c, nil
	}
	return nil, typeMismatch(v, segment)
}
