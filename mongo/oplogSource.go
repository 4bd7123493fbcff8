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
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/chunked"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/oplog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	OplogDatabase   = "local"
	OplogCollection = "oplog.rs"

	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxAwaitTime   = time.Second
)

// server error codes meaning a cursor lost its place in the oplog
const (
	cursorNotFoundCode     = 43
	cappedPositionLostCode = 136
	historyLostCode        = 286
)

// OplogSource tails the oplog of one replica set.
type OplogSource struct {
	name         string
	client       *driver.Client
	oplog        *driver.Collection
	maxAwaitTime time.Duration
	logger       *zap.SugaredLogger
}

func NewOplogSource(ctx context.Context, name, url string, logger *zap.SugaredLogger) (*OplogSource, error) {
	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	client, err := driver.Connect(connectCtx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to %v: %w", name, err)
	}
	if err = client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("unable to reach %v: %w", name, err)
	}
	logger.Infof("Connected to oplog source %v\n", name)

	return &OplogSource{
		name:         name,
		client:       client,
		oplog:        client.Database(OplogDatabase).Collection(OplogCollection),
		maxAwaitTime: DefaultMaxAwaitTime,
		logger:       logger,
	}, nil
}

func (s *OplogSource) Name() string {
	return s.name
}

func (s *OplogSource) Tail(ctx context.Context, after base.Timestamp) (oplog.Cursor, error) {
	cur, err := s.openCursor(ctx, after)
	if err != nil {
		return nil, err
	}
	return &oplogCursor{source: s, cur: cur, lastTs: after}, nil
}

func (s *OplogSource) openCursor(ctx context.Context, after base.Timestamp) (*driver.Cursor, error) {
	oldest, err := s.edgeTimestamp(ctx, 1)
	if err != nil {
		return nil, err
	}
	if after != 0 && after < oldest {
		return nil, fmt.Errorf("%w: %v is older than %v on %v", base.ErrCheckpointTooOld, after, oldest, s.name)
	}

	filter := bson.D{{Key: base.OplogTimestampKey, Value: bson.D{{Key: "$gt", Value: FromTimestamp(after)}}}}
	opts := options.Find().
		SetCursorType(options.TailableAwait).
		SetMaxAwaitTime(s.maxAwaitTime).
		SetNoCursorTimeout(true)
	return s.oplog.Find(ctx, filter, opts)
}

// edgeTimestamp reads the oldest (direction 1) or newest (-1) entry's timestamp.
func (s *OplogSource) edgeTimestamp(ctx context.Context, direction int) (base.Timestamp, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "$natural", Value: direction}}).
		SetProjection(bson.D{{Key: base.OplogTimestampKey, Value: 1}})

	var holder struct {
		Ts primitive.Timestamp `bson:"ts"`
	}
	err := s.oplog.FindOne(ctx, bson.D{}, opts).Decode(&holder)
	if errors.Is(err, driver.ErrNoDocuments) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("reading oplog of %v: %w", s.name, err)
	}
	return ToTimestamp(holder.Ts), nil
}

func (s *OplogSource) LatestTimestamp(ctx context.Context) (base.Timestamp, error) {
	return s.edgeTimestamp(ctx, -1)
}

func (s *OplogSource) Namespaces(ctx context.Context) ([]string, error) {
	dbs, err := s.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	var namespaces []string
	for _, db := range dbs {
		colls, err := s.client.Database(db).ListCollectionNames(ctx, bson.D{{Key: "type", Value: "collection"}})
		if err != nil {
			return nil, fmt.Errorf("listing collections of %v: %w", db, err)
		}
		for _, coll := range colls {
			namespaces = append(namespaces, namespace.Join(db, coll))
		}
	}
	return namespaces, nil
}

func (s *OplogSource) Scan(ctx context.Context, ns string, fn func(doc document.Object) error) error {
	db, coll := namespace.Split(ns)
	cur, err := s.client.Database(db).Collection(coll).Find(ctx, bson.D{})
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var raw bson.D
		if err = cur.Decode(&raw); err != nil {
			return fmt.Errorf("decoding document of %v: %w", ns, err)
		}
		if err = fn(ObjectFromBSON(raw)); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (s *OplogSource) Lookup(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	db, coll := namespace.Split(ns)
	var raw bson.D
	err := s.client.Database(db).Collection(coll).FindOne(ctx, bson.D{{Key: base.IdField, Value: ToBSON(id)}}).Decode(&raw)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrDocumentNotFound, document.Key(id), ns)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up %v in %v: %w", document.Key(id), ns, err)
	}
	return ObjectFromBSON(raw), nil
}

func (s *OplogSource) ChunkStore(filesNs string) (chunked.ChunkStore, error) {
	db, coll := namespace.Split(filesNs)
	if !strings.HasSuffix(coll, base.GridfsFilesSuffix) {
		return nil, fmt.Errorf("%v is not a files namespace", filesNs)
	}
	return NewGridFSStore(s.client.Database(db), strings.TrimSuffix(coll, base.GridfsFilesSuffix)), nil
}

func (s *OplogSource) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

type oplogCursor struct {
	source *OplogSource
	cur    *driver.Cursor
	lastTs base.Timestamp
}

func (c *oplogCursor) TryNext(ctx context.Context) (*oplog.LogEntry, error) {
	if c.cur.TryNext(ctx) {
		var raw rawEntry
		if err := c.cur.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decoding oplog entry of %v: %w", c.source.name, err)
		}
		entry, err := raw.toLogEntry()
		if err != nil {
			return nil, err
		}
		c.lastTs = entry.Timestamp
		return entry, nil
	}

	if err := c.cur.Err(); err != nil {
		if isPositionLost(err) {
			return nil, fmt.Errorf("%w: %v", base.ErrCursorInvalidated, err)
		}
		return nil, err
	}
	if c.cur.ID() == 0 {
		// the server closed an exhausted cursor, reopen it where it stopped
		c.cur.Close(ctx)
		cur, err := c.source.openCursor(ctx, c.lastTs)
		if err != nil {
			return nil, err
		}
		c.cur = cur
	}
	return nil, nil
}

func (c *oplogCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func isPositionLost(err error) bool {
	var serverErr driver.ServerError
	if !errors.As(err, &serverErr) {
		return false
	}
	return serverErr.HasErrorCode(cappedPositionLostCode) ||
		serverErr.HasErrorCode(cursorNotFoundCode) ||
		serverErr.HasErrorCode(historyLostCode)
}

// rawEntry is an oplog document as stored in local.oplog.rs
type rawEntry struct {
	Ts primitive.Timestamp `bson:"ts"`
	Op string              `bson:"op"`
	Ns string              `bson:"ns"`
	O  bson.D              `bson:"o"`
	O2 bson.D              `bson:"o2,omitempty"`
}

func (r *rawEntry) toLogEntry() (*oplog.LogEntry, error) {
	entry := &oplog.LogEntry{
		Timestamp: ToTimestamp(r.Ts),
		Op:        base.OpType(r.Op),
		Namespace: r.Ns,
		Payload:   ObjectFromBSON(r.O),
	}
	switch entry.Op {
	case base.OpInsert, base.OpDelete, base.OpCommand, base.OpNoop:
	case base.OpUpdate:
		entry.UpdatePayload = ObjectFromBSON(r.O2)
		payload, err := NormalizeUpdate(entry.Payload)
		switch {
		case errors.Is(err, ErrNeedsPostImage):
			entry.Refetch = true
		case err != nil:
			return nil, fmt.Errorf("update at %v on %v: %w", entry.Timestamp, r.Ns, err)
		default:
			entry.Payload = payload
		}
	default:
		return nil, fmt.Errorf("unknown oplog operation %q at %v", r.Op, entry.Timestamp)
	}
	return entry, nil
}
