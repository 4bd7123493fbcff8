// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"go.uber.org/zap"
)

// BulkUpsert uses the sink's own bulk write when it has one, or upserts
// documents one by one.
func BulkUpsert(ctx context.Context, s Sink, docs []document.Object, ns string, ts base.Timestamp) error {
	if bulk, ok := s.(BulkUpserter); ok {
		return bulk.BulkUpsert(ctx, docs, ns, ts)
	}
	for _, doc := range docs {
		if err := s.Upsert(ctx, doc, ns, ts); err != nil {
			return err
		}
	}
	return nil
}

func ApplyUpdate(s Sink, doc, spec document.Object) (document.Object, error) {
	if updater, ok := s.(Updater); ok {
		return updater.ApplyUpdate(doc, spec)
	}
	return document.ApplyUpdate(doc, spec)
}

func AcceptsPatches(s Sink) bool {
	_, ok := s.(Patcher)
	return ok
}

// Update applies spec to the document identified by id. Patchers get the
// spec as is; other sinks get a read, a merge and a full upsert.
func Update(ctx context.Context, s Sink, id document.Value, spec document.Object, ns string, ts base.Timestamp) (document.Object, error) {
	if patcher, ok := s.(Patcher); ok {
		return patcher.Patch(ctx, id, spec, ns, ts)
	}

	current, err := s.Get(ctx, ns, id)
	if err != nil {
		if errors.Is(err, base.ErrDocumentNotFound) {
			return nil, fmt.Errorf("%w: %v in %v: %v", base.ErrUpdateNotApplicable, document.Key(id), ns, err)
		}
		return nil, err
	}

	updated, err := ApplyUpdate(s, current, spec)
	if err != nil {
		return nil, err
	}
	delete(updated, base.TimestampField)
	delete(updated, base.NamespaceField)
	if _, ok := updated[base.IdField]; !ok {
		updated[base.IdField] = id
	}
	if err = s.Upsert(ctx, updated, ns, ts); err != nil {
		return nil, err
	}
	return updated, nil
}

// HandleCommand routes a command document, which carries its database in
// the db field, to the sink's CommandHandler, or else to its CommandHooks.
// Sinks with neither get the logging defaults of DefaultCommandHooks.
func HandleCommand(ctx context.Context, s Sink, cmd document.Object, ts base.Timestamp, logger *zap.SugaredLogger) error {
	if handler, ok := s.(CommandHandler); ok {
		return handler.HandleCommand(ctx, cmd, ts)
	}

	hooks, ok := s.(CommandHooks)
	if !ok {
		hooks = &DefaultCommandHooks{Logger: logger, SinkName: fmt.Sprintf("%T", s)}
	}

	db, ok := cmd.GetString(base.CmdDbKey)
	if !ok || db == "" {
		return fmt.Errorf("%w: missing %v field", base.ErrInvalidCommand, base.CmdDbKey)
	}

	if db == base.AdminDatabase {
		if !cmd.Truthy(base.CmdRenameCollection) {
			return nil
		}
		from, _ := cmd.GetString(base.CmdRenameCollection)
		to, _ := cmd.GetString(base.CmdRenameTo)
		if cmd.Truthy(base.CmdDropTarget) {
			if err := hooks.DropCollection(ctx, to); err != nil {
				return err
			}
		}
		return hooks.RenameCollection(ctx, from, to)
	}

	if cmd.Truthy(base.CmdDropDatabase) {
		if err := hooks.DropDatabase(ctx, db); err != nil {
			return err
		}
	}
	if cmd.Truthy(base.CmdCreate) {
		coll, _ := cmd.GetString(base.CmdCreate)
		if err := hooks.CreateCollection(ctx, namespace.Join(db, coll)); err != nil {
			return err
		}
	}
	if cmd.Truthy(base.CmdDrop) {
		coll, _ := cmd.GetString(base.CmdDrop)
		if err := hooks.DropCollection(ctx, namespace.Join(db, coll)); err != nil {
			return err
		}
	}
	return nil
}

// DefaultCommandHooks only log. Sinks embed it and override what they support.
type DefaultCommandHooks struct {
	Logger   *zap.SugaredLogger
	SinkName string
}

func (d *DefaultCommandHooks) warn(command, target string) {
	if d.Logger == nil {
		return
	}
	d.Logger.Warnf("%v does not support replication of the %v command, skipping %v\n", d.SinkName, command, target)
}

func (d *DefaultCommandHooks) CreateCollection(ctx context.Context, ns string) error {
	d.warn("create collection", ns)
	return nil
}

func (d *DefaultCommandHooks) DropCollection(ctx context.Context, ns string) error {
	d.warn("drop collection", ns)
	return nil
}

func (d *DefaultCommandHooks) RenameCollection(ctx context.Context, from, to string) error {
	d.warn("rename collection", from+" -> "+to)
	return nil
}

func (d *DefaultCommandHooks) DropDatabase(ctx context.Context, db string) error {
	d.warn("drop database", db)
	return nil
}
