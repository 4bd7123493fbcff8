// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package couchbaseSink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/sink"
	"go.uber.org/zap"
)

const Name = "couchbase"

const (
	ArgBucket   = "bucket"
	ArgUsername = "username"
	ArgPassword = "password"
)

const defaultConnectTimeout = 10 * time.Second

// Options configure the Couchbase sink. A source namespace db.coll lands in
// scope db, collection coll of Bucket.
type Options struct {
	ConnStr        string
	Bucket         string
	Username       string
	Password       string
	UniqueKey      string
	ConnectTimeout time.Duration
}

// OptionsFromArgs builds Options from a docManager entry.
func OptionsFromArgs(targetURL, uniqueKey string, args map[string]string) (Options, error) {
	opts := Options{
		ConnStr:   targetURL,
		Bucket:    args[ArgBucket],
		Username:  args[ArgUsername],
		Password:  args[ArgPassword],
		UniqueKey: uniqueKey,
	}
	if opts.ConnStr == "" {
		return opts, fmt.Errorf("%w: couchbase sink requires a targetURL", base.ErrInvalidConfig)
	}
	if opts.Bucket == "" {
		return opts, fmt.Errorf("%w: couchbase sink requires the %v argument", base.ErrInvalidConfig, ArgBucket)
	}
	return opts, nil
}

type Sink struct {
	opts    Options
	cluster *gocb.Cluster
	bucket  *gocb.Bucket
	logger  *zap.SugaredLogger

	// namespaces written through this sink, searched by Search and GetLastDocument
	namespaces sync.Map

	stopOnce sync.Once
}

func Open(opts Options, logger *zap.SugaredLogger) (*Sink, error) {
	if logger == nil {
		logger = base.NewNopLogger()
	}
	if opts.UniqueKey == "" {
		opts.UniqueKey = base.DefaultUniqueKey
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}

	cluster, err := gocb.Connect(opts.ConnStr, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		logger.Errorf("Error connecting to cluster %v. err=%v\n", opts.ConnStr, err)
		return nil, err
	}

	bucket := cluster.Bucket(opts.Bucket)
	if err = bucket.WaitUntilReady(opts.ConnectTimeout, nil); err != nil {
		logger.Errorf("Error opening bucket %v. err=%v\n", opts.Bucket, err)
		cluster.Close(nil)
		return nil, err
	}

	logger.Infof("couchbase sink connected to bucket %v on %v\n", opts.Bucket, opts.ConnStr)
	return &Sink{
		opts:    opts,
		cluster: cluster,
		bucket:  bucket,
		logger:  logger,
	}, nil
}

func (s *Sink) collection(ns string) *gocb.Collection {
	db, coll := namespace.Split(ns)
	return s.bucket.Scope(db).Collection(coll)
}

// DocumentKey renders a document id as a Couchbase key. String ids are used as is.
func DocumentKey(id document.Value) string {
	if str, ok := id.(document.String); ok {
		return string(str)
	}
	return document.Key(id)
}

// Keyspace is the quoted bucket.scope.collection path of ns.
func Keyspace(bucket, ns string) string {
	db, coll := namespace.Split(ns)
	return fmt.Sprintf("`%v`.`%v`.`%v`", escapeIdentifier(bucket), escapeIdentifier(db), escapeIdentifier(coll))
}

func escapeIdentifier(name string) string {
	return strings.ReplaceAll(name, "`", "``")
}

// Body is the stored form of doc: replication metadata included and the id
// moved under the unique key.
func Body(doc document.Object, uniqueKey, ns string, ts base.Timestamp) document.Object {
	body := doc.Clone()
	if uniqueKey != "" && uniqueKey != base.IdField {
		if id, ok := body[base.IdField]; ok {
			delete(body, base.IdField)
			body[uniqueKey] = id
		}
	}
	body[base.TimestampField] = document.Int(int64(ts))
	body[base.NamespaceField] = document.String(ns)
	return body
}

func (s *Sink) fromBody(body document.Object) document.Object {
	if s.opts.UniqueKey != base.IdField {
		if id, ok := body[s.opts.UniqueKey]; ok {
			delete(body, s.opts.UniqueKey)
			body[base.IdField] = id
		}
	}
	return body
}

func (s *Sink) Upsert(ctx context.Context, doc document.Object, ns string, ts base.Timestamp) error {
	id, ok := doc[base.IdField]
	if !ok {
		return fmt.Errorf("document for %v has no %v", ns, base.IdField)
	}
	_, err := s.collection(ns).Upsert(DocumentKey(id), Body(doc, s.opts.UniqueKey, ns, ts), &gocb.UpsertOptions{Context: ctx})
	if err != nil {
		return err
	}
	s.namespaces.Store(ns, struct{}{})
	return nil
}

func (s *Sink) Remove(ctx context.Context, id document.Value, ns string, ts base.Timestamp) error {
	_, err := s.collection(ns).Remove(DocumentKey(id), &gocb.RemoveOptions{Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		return nil
	}
	return err
}

func (s *Sink) Get(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	res, err := s.collection(ns).Get(DocumentKey(id), &gocb.GetOptions{Context: ctx})
	if errors.Is(err, gocb.ErrDocumentNotFound) {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrDocumentNotFound, document.Key(id), ns)
	}
	if err != nil {
		return nil, err
	}
	var body document.Object
	if err = res.Content(&body); err != nil {
		return nil, err
	}
	return s.fromBody(body), nil
}

func (s *Sink) query(ctx context.Context, statement string, params ...interface{}) ([]document.Object, error) {
	result, err := s.cluster.Query(statement, &gocb.QueryOptions{
		Context:              ctx,
		PositionalParameters: params,
		ScanConsistency:      gocb.QueryScanConsistencyRequestPlus,
	})
	if err != nil {
		return nil, err
	}
	var out []document.Object
	for result.Next() {
		var row document.Object
		if err = result.Row(&row); err != nil {
			result.Close()
			return nil, err
		}
		out = append(out, s.fromBody(row))
	}
	return out, result.Err()
}

func (s *Sink) knownNamespaces() []string {
	var out []string
	s.namespaces.Range(func(key, _ interface{}) bool {
		out = append(out, key.(string))
		return true
	})
	return out
}

func (s *Sink) Search(ctx context.Context, start, end base.Timestamp) ([]document.Object, error) {
	var out []document.Object
	for _, ns := range s.knownNamespaces() {
		statement := fmt.Sprintf("SELECT RAW d FROM %v AS d WHERE d.`%v` BETWEEN $1 AND $2",
			Keyspace(s.opts.Bucket, ns), base.TimestampField)
		docs, err := s.query(ctx, statement, int64(start), int64(end))
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

func (s *Sink) GetLastDocument(ctx context.Context) (document.Object, error) {
	var last document.Object
	var lastTs int64
	for _, ns := range s.knownNamespaces() {
		statement := fmt.Sprintf("SELECT RAW d FROM %v AS d WHERE d.`%v` IS VALUED ORDER BY d.`%v` DESC LIMIT 1",
			Keyspace(s.opts.Bucket, ns), base.TimestampField, base.TimestampField)
		docs, err := s.query(ctx, statement)
		if err != nil {
			return nil, err
		}
		if len(docs) == 0 {
			continue
		}
		ts, _ := docs[0][base.TimestampField].(document.Int)
		if last == nil || int64(ts) > lastTs {
			last, lastTs = docs[0], int64(ts)
		}
	}
	return last, nil
}

// Commit is a no-op, KV writes are durable once acknowledged.
func (s *Sink) Commit(ctx context.Context) error {
	return nil
}

func (s *Sink) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Infof("couchbase sink stopping\n")
		err = s.cluster.Close(nil)
	})
	return err
}

func (s *Sink) CreateCollection(ctx context.Context, ns string) error {
	db, coll := namespace.Split(ns)
	mgr := s.bucket.Collections()
	err := mgr.CreateScope(db, &gocb.CreateScopeOptions{Context: ctx})
	if err != nil && !errors.Is(err, gocb.ErrScopeExists) {
		return err
	}
	err = mgr.CreateCollection(gocb.CollectionSpec{ScopeName: db, Name: coll}, &gocb.CreateCollectionOptions{Context: ctx})
	if err != nil && !errors.Is(err, gocb.ErrCollectionExists) {
		return err
	}
	return nil
}

func (s *Sink) DropCollection(ctx context.Context, ns string) error {
	db, coll := namespace.Split(ns)
	err := s.bucket.Collections().DropCollection(gocb.CollectionSpec{ScopeName: db, Name: coll},
		&gocb.DropCollectionOptions{Context: ctx})
	if err != nil && !errors.Is(err, gocb.ErrCollectionNotFound) && !errors.Is(err, gocb.ErrScopeNotFound) {
		return err
	}
	s.namespaces.Delete(ns)
	return nil
}

// RenameCollection copies every document of from into to, rewriting ns,
// then drops from. Couchbase has no collection rename.
func (s *Sink) RenameCollection(ctx context.Context, from, to string) error {
	if err := s.CreateCollection(ctx, to); err != nil {
		return err
	}
	statement := fmt.Sprintf("UPSERT INTO %v (KEY k, VALUE v) SELECT META(d).id AS k, OBJECT_PUT(d, \"%v\", $1) AS v FROM %v AS d",
		Keyspace(s.opts.Bucket, to), base.NamespaceField, Keyspace(s.opts.Bucket, from))
	if _, err := s.query(ctx, statement, to); err != nil {
		return err
	}
	s.namespaces.Store(to, struct{}{})
	return s.DropCollection(ctx, from)
}

func (s *Sink) DropDatabase(ctx context.Context, db string) error {
	err := s.bucket.Collections().DropScope(db, &gocb.DropScopeOptions{Context: ctx})
	if err != nil && !errors.Is(err, gocb.ErrScopeNotFound) {
		return err
	}
	for _, ns := range s.knownNamespaces() {
		if nsDb, _ := namespace.Split(ns); nsDb == db {
			s.namespaces.Delete(ns)
		}
	}
	return nil
}

var (
	_ sink.Sink         = (*Sink)(nil)
	_ sink.CommandHooks = (*Sink)(nil)
)
