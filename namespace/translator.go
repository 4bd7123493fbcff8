// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package namespace

import (
	"fmt"
	"strings"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"go.uber.org/zap"
)

// Translator maps source namespaces to destination namespaces and rewrites
// DDL commands accordingly. It is immutable once built.
type Translator struct {
	namespaceSet map[string]bool
	destMapping  map[string]string
	dbMapping    map[string]string
	dbBijection  bool
	logger       *zap.SugaredLogger
}

// NewTranslator validates the include and destination lists and derives the
// database mapping. An empty include list means identity mapping for all
// namespaces; an empty destination list means identity mapping for the
// included ones.
func NewTranslator(include, dest []string, logger *zap.SugaredLogger) (*Translator, error) {
	if err := ValidateMapping(include, dest); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = base.NewNopLogger()
	}

	t := &Translator{
		namespaceSet: make(map[string]bool, len(include)),
		destMapping:  make(map[string]string, len(dest)),
		dbMapping:    make(map[string]string),
		logger:       logger,
	}
	for i, ns := range include {
		t.namespaceSet[ns] = true
		if len(dest) > 0 {
			t.destMapping[ns] = dest[i]
		}
	}

	pairs := 0
	for _, ns := range include {
		mapped, _ := t.MapNamespace(ns)
		srcDb, _ := Split(ns)
		destDb, _ := Split(mapped)
		t.dbMapping[srcDb] = destDb
		pairs++
	}

	// surjective: no two configured namespaces share a source database
	// injective: no two source databases land on the same destination database
	destDbs := make(map[string]bool, len(t.dbMapping))
	for _, destDb := range t.dbMapping {
		destDbs[destDb] = true
	}
	surjective := len(t.dbMapping) == pairs
	injective := len(destDbs) == len(t.dbMapping)
	t.dbBijection = surjective && injective

	return t, nil
}

// ValidateMapping checks the include and destination namespace lists.
func ValidateMapping(include, dest []string) error {
	if err := checkNamespaces("namespace set", include); err != nil {
		return err
	}
	if len(dest) == 0 {
		return nil
	}
	if err := checkNamespaces("destination namespace set", dest); err != nil {
		return err
	}
	if len(include) != len(dest) {
		return fmt.Errorf("%w: destination namespace set has %v entries, namespace set has %v",
			base.ErrInvalidConfig, len(dest), len(include))
	}
	return nil
}

func checkNamespaces(name string, list []string) error {
	seen := make(map[string]bool, len(list))
	for _, ns := range list {
		if seen[ns] {
			return fmt.Errorf("%w: %v contains duplicate %q", base.ErrInvalidConfig, name, ns)
		}
		seen[ns] = true
		db, coll := Split(ns)
		if db == "" || coll == "" {
			return fmt.Errorf("%w: %v entry %q is not of the form db.collection", base.ErrInvalidConfig, name, ns)
		}
	}
	return nil
}

// Split separates a namespace on its first delimiter.
func Split(ns string) (db, coll string) {
	idx := strings.Index(ns, base.NamespaceDelimiter)
	if idx < 0 {
		return ns, ""
	}
	return ns[:idx], ns[idx+1:]
}

func Join(db, coll string) string {
	return db + base.NamespaceDelimiter + coll
}

func (t *Translator) HasMapping() bool {
	return len(t.namespaceSet) > 0
}

func (t *Translator) Namespaces() []string {
	out := make([]string, 0, len(t.namespaceSet))
	for ns := range t.namespaceSet {
		out = append(out, ns)
	}
	return out
}

// MapNamespace returns the destination of ns, or false when ns is out of scope.
func (t *Translator) MapNamespace(ns string) (string, bool) {
	if len(t.namespaceSet) == 0 {
		return ns, true
	}
	if !t.namespaceSet[ns] {
		return "", false
	}
	if dest, ok := t.destMapping[ns]; ok {
		return dest, true
	}
	return ns, true
}

func (t *Translator) MapDatabase(db string) (string, bool) {
	if len(t.dbMapping) == 0 {
		return db, true
	}
	dest, ok := t.dbMapping[db]
	return dest, ok
}

func (t *Translator) DatabaseBijection() bool {
	return t.dbBijection
}

// IsInternal reports namespaces that are never replicated when no explicit
// namespace set is configured.
func IsInternal(ns string) bool {
	db, coll := Split(ns)
	if db == base.LocalDatabase || db == base.ConfigDatabase {
		return true
	}
	return strings.HasPrefix(coll, base.SystemCollectionPrefix)
}

// RewriteDatabaseCommand rewrites the db field of a database scoped command.
// When the database mapping is not a bijection or the database is out of
// scope the command is cleared.
func (t *Translator) RewriteDatabaseCommand(cmd document.Object, commandKey string) {
	if !cmd.Truthy(commandKey) {
		return
	}
	db, _ := cmd.GetString(base.CmdDbKey)
	if !t.dbBijection {
		t.logger.Warnf("Skipping replication of %v command on %v since the database mapping is not bijective\n", commandKey, db)
		cmd.Clear()
		return
	}
	dest, ok := t.MapDatabase(db)
	if !ok {
		t.logger.Warnf("Skipping replication of %v command since %v isn't in the namespace set\n", commandKey, db)
		cmd.Clear()
		return
	}
	cmd[base.CmdDbKey] = document.String(dest)
}

// RewriteCollectionCommand maps db.<targetField> and writes both parts back.
func (t *Translator) RewriteCollectionCommand(cmd document.Object, commandKey, targetField string) {
	if !cmd.Truthy(commandKey) {
		return
	}
	db, _ := cmd.GetString(base.CmdDbKey)
	coll, _ := cmd.GetString(targetField)
	ns := Join(db, coll)
	dest, ok := t.MapNamespace(ns)
	if !ok {
		t.logger.Warnf("Skipping replication of %v command since %v isn't in the namespace set\n", commandKey, ns)
		cmd.Clear()
		return
	}
	destDb, destColl := Split(dest)
	cmd[base.CmdDbKey] = document.String(destDb)
	cmd[targetField] = document.String(destColl)
}

// RewriteRenameCommand maps the full namespaces held by sourceField and
// destField. Either side being out of scope clears the command.
func (t *Translator) RewriteRenameCommand(cmd document.Object, sourceField, destField string) {
	if !cmd.Truthy(sourceField) {
		return
	}
	src, _ := cmd.GetString(sourceField)
	dst, _ := cmd.GetString(destField)
	mappedSrc, srcOk := t.MapNamespace(src)
	mappedDst, dstOk := t.MapNamespace(dst)
	if !srcOk || !dstOk {
		t.logger.Warnf("Skipping replication of %v command from %v to %v since a namespace isn't in the namespace set\n",
			sourceField, src, dst)
		cmd.Clear()
		return
	}
	cmd[sourceField] = document.String(mappedSrc)
	cmd[destField] = document.String(mappedDst)
}

// RewriteCommand applies every command rewrite to cmd in place. cmd must
// carry the source database in its db field. An empty result means the
// command is suppressed.
func (t *Translator) RewriteCommand(cmd document.Object) {
	t.RewriteDatabaseCommand(cmd, base.CmdDropDatabase)
	t.RewriteCollectionCommand(cmd, base.CmdCreate, base.CmdCreate)
	t.RewriteCollectionCommand(cmd, base.CmdDrop, base.CmdDrop)
	t.RewriteRenameCommand(cmd, base.CmdRenameCollection, base.CmdRenameTo)
}
