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
	"io"
	"strings"
	"sync"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"go.mongodb.org/mongo-driver/bson"
	driver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const SinkName = "mongo"

// MetaDatabase holds one collection per replicated namespace, recording
// when each document was last written.
const MetaDatabase = "__mongo_connector"

const namespaceNotFoundCode = 26

// metaRecord is the metadata kept for every replicated document.
type metaRecord struct {
	Id       interface{} `bson:"_id"`
	Ts       int64       `bson:"_ts"`
	Ns       string      `bson:"ns"`
	GridfsId interface{} `bson:"gridfs_id,omitempty"`
}

func (m *metaRecord) object() document.Object {
	obj := document.Object{
		base.IdField:        FromBSON(m.Id),
		base.TimestampField: document.Int(m.Ts),
		base.NamespaceField: document.String(m.Ns),
	}
	if m.GridfsId != nil {
		obj[base.GridfsIdField] = FromBSON(m.GridfsId)
	}
	return obj
}

// Sink replicates into another MongoDB deployment. Documents keep their
// _id; the write timestamp and namespace live in MetaDatabase.
type Sink struct {
	client *driver.Client
	logger *zap.SugaredLogger

	stopOnce sync.Once
}

func OpenSink(ctx context.Context, url string, logger *zap.SugaredLogger) (*Sink, error) {
	if logger == nil {
		logger = base.NewNopLogger()
	}
	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	client, err := driver.Connect(connectCtx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("unable to connect to mongo sink: %w", err)
	}
	if err = client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("unable to reach mongo sink: %w", err)
	}
	logger.Infof("mongo sink connected\n")
	return &Sink{client: client, logger: logger}, nil
}

func (s *Sink) collection(ns string) *driver.Collection {
	db, coll := namespace.Split(ns)
	return s.client.Database(db).Collection(coll)
}

func (s *Sink) metaCollection(ns string) *driver.Collection {
	return s.client.Database(MetaDatabase).Collection(ns)
}

func byId(id interface{}) bson.D {
	return bson.D{{Key: base.IdField, Value: id}}
}

func (s *Sink) saveMeta(ctx context.Context, record *metaRecord) error {
	_, err := s.metaCollection(record.Ns).ReplaceOne(ctx, byId(record.Id), record, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving metadata of %v: %w", record.Ns, err)
	}
	return nil
}

func (s *Sink) Upsert(ctx context.Context, doc document.Object, ns string, ts base.Timestamp) error {
	id, ok := doc[base.IdField]
	if !ok {
		return fmt.Errorf("document for %v has no %v", ns, base.IdField)
	}
	body := ObjectToBSON(doc)
	delete(body, base.TimestampField)
	delete(body, base.NamespaceField)

	if err := s.saveMeta(ctx, &metaRecord{Id: ToBSON(id), Ts: int64(ts), Ns: ns}); err != nil {
		return err
	}
	_, err := s.collection(ns).ReplaceOne(ctx, byId(ToBSON(id)), body, options.Replace().SetUpsert(true))
	return err
}

func (s *Sink) BulkUpsert(ctx context.Context, docs []document.Object, ns string, ts base.Timestamp) error {
	if len(docs) == 0 {
		return nil
	}
	metaModels := make([]driver.WriteModel, 0, len(docs))
	models := make([]driver.WriteModel, 0, len(docs))
	for _, doc := range docs {
		id, ok := doc[base.IdField]
		if !ok {
			return fmt.Errorf("document for %v has no %v", ns, base.IdField)
		}
		body := ObjectToBSON(doc)
		delete(body, base.TimestampField)
		delete(body, base.NamespaceField)
		metaModels = append(metaModels, driver.NewReplaceOneModel().
			SetFilter(byId(ToBSON(id))).
			SetReplacement(&metaRecord{Id: ToBSON(id), Ts: int64(ts), Ns: ns}).
			SetUpsert(true))
		models = append(models, driver.NewReplaceOneModel().
			SetFilter(byId(ToBSON(id))).
			SetReplacement(body).
			SetUpsert(true))
	}
	if _, err := s.metaCollection(ns).BulkWrite(ctx, metaModels); err != nil {
		return fmt.Errorf("saving metadata of %v: %w", ns, err)
	}
	_, err := s.collection(ns).BulkWrite(ctx, models)
	return err
}

// Patch hands the update operators to the server and returns the result.
func (s *Sink) Patch(ctx context.Context, id document.Value, spec document.Object, ns string, ts base.Timestamp) (document.Object, error) {
	var result *driver.SingleResult
	if document.IsReplacement(spec) {
		replacement := ObjectToBSON(spec)
		delete(replacement, base.TimestampField)
		delete(replacement, base.NamespaceField)
		result = s.collection(ns).FindOneAndReplace(ctx, byId(ToBSON(id)), replacement,
			options.FindOneAndReplace().SetReturnDocument(options.After))
	} else {
		result = s.collection(ns).FindOneAndUpdate(ctx, byId(ToBSON(id)), ObjectToBSON(spec),
			options.FindOneAndUpdate().SetReturnDocument(options.After))
	}

	var raw bson.D
	err := result.Decode(&raw)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %v not found in %v", base.ErrUpdateNotApplicable, document.Key(id), ns)
	} else if err != nil {
		return nil, err
	}
	if err = s.saveMeta(ctx, &metaRecord{Id: ToBSON(id), Ts: int64(ts), Ns: ns}); err != nil {
		return nil, err
	}

	updated := ObjectFromBSON(raw)
	updated[base.TimestampField] = document.Int(ts)
	updated[base.NamespaceField] = document.String(ns)
	return updated, nil
}

func (s *Sink) Remove(ctx context.Context, id document.Value, ns string, ts base.Timestamp) error {
	var record metaRecord
	err := s.metaCollection(ns).FindOneAndDelete(ctx, byId(ToBSON(id))).Decode(&record)
	if err != nil && !errors.Is(err, driver.ErrNoDocuments) {
		return fmt.Errorf("removing metadata of %v: %w", ns, err)
	}

	if record.GridfsId != nil {
		bucket, err := s.bucket(ns)
		if err != nil {
			return err
		}
		err = bucket.Delete(record.GridfsId)
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil
		}
		return err
	}
	_, err = s.collection(ns).DeleteOne(ctx, byId(ToBSON(id)))
	return err
}

func (s *Sink) bucket(ns string) (*gridfs.Bucket, error) {
	db, coll := namespace.Split(ns)
	return gridfs.NewBucket(s.client.Database(db), options.GridFSBucket().SetName(coll))
}

// InsertFile uploads content into the GridFS bucket named after ns.
func (s *Sink) InsertFile(ctx context.Context, meta document.Object, content io.Reader, ns string, ts base.Timestamp) error {
	id, ok := meta[base.IdField]
	if !ok {
		return fmt.Errorf("file metadata for %v has no %v", ns, base.IdField)
	}
	bucket, err := s.bucket(ns)
	if err != nil {
		return err
	}
	filename, _ := meta.GetString("filename")
	fileId, err := bucket.UploadFromStream(filename, content)
	if err != nil {
		return fmt.Errorf("uploading %v to %v: %w", filename, ns, err)
	}
	return s.saveMeta(ctx, &metaRecord{Id: ToBSON(id), Ts: int64(ts), Ns: ns, GridfsId: fileId})
}

func (s *Sink) Get(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	var raw bson.D
	err := s.collection(ns).FindOne(ctx, byId(ToBSON(id))).Decode(&raw)
	if errors.Is(err, driver.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrDocumentNotFound, document.Key(id), ns)
	} else if err != nil {
		return nil, err
	}
	doc := ObjectFromBSON(raw)

	var record metaRecord
	err = s.metaCollection(ns).FindOne(ctx, byId(ToBSON(id))).Decode(&record)
	if err != nil && !errors.Is(err, driver.ErrNoDocuments) {
		return nil, err
	} else if err == nil {
		doc[base.TimestampField] = document.Int(record.Ts)
	}
	doc[base.NamespaceField] = document.String(ns)
	return doc, nil
}

// withContent returns the replicated document behind a metadata record,
// or the record itself for files and documents removed since.
func (s *Sink) withContent(ctx context.Context, record *metaRecord) (document.Object, error) {
	if record.GridfsId != nil {
		return record.object(), nil
	}
	var raw bson.D
	err := s.collection(record.Ns).FindOne(ctx, byId(record.Id)).Decode(&raw)
	if errors.Is(err, driver.ErrNoDocuments) {
		return record.object(), nil
	} else if err != nil {
		return nil, err
	}
	doc := ObjectFromBSON(raw)
	doc[base.TimestampField] = document.Int(record.Ts)
	doc[base.NamespaceField] = document.String(record.Ns)
	return doc, nil
}

func (s *Sink) metaNamespaces(ctx context.Context) ([]string, error) {
	return s.client.Database(MetaDatabase).ListCollectionNames(ctx, bson.D{})
}

func (s *Sink) Search(ctx context.Context, start, end base.Timestamp) ([]document.Object, error) {
	namespaces, err := s.metaNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	filter := bson.D{{Key: base.TimestampField, Value: bson.D{
		{Key: "$gte", Value: int64(start)},
		{Key: "$lte", Value: int64(end)},
	}}}

	var docs []document.Object
	for _, ns := range namespaces {
		cur, err := s.metaCollection(ns).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: base.TimestampField, Value: 1}}))
		if err != nil {
			return nil, err
		}
		var records []metaRecord
		if err = cur.All(ctx, &records); err != nil {
			return nil, err
		}
		for i := range records {
			doc, err := s.withContent(ctx, &records[i])
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func (s *Sink) GetLastDocument(ctx context.Context) (document.Object, error) {
	namespaces, err := s.metaNamespaces(ctx)
	if err != nil {
		return nil, err
	}
	var last *metaRecord
	opts := options.FindOne().SetSort(bson.D{{Key: base.TimestampField, Value: -1}})
	for _, ns := range namespaces {
		var record metaRecord
		err = s.metaCollection(ns).FindOne(ctx, bson.D{}, opts).Decode(&record)
		if errors.Is(err, driver.ErrNoDocuments) {
			continue
		} else if err != nil {
			return nil, err
		}
		if last == nil || record.Ts > last.Ts {
			last = &record
		}
	}
	if last == nil {
		return nil, nil
	}
	return s.withContent(ctx, last)
}

// Commit is a no-op, every write is acknowledged by the server.
func (s *Sink) Commit(ctx context.Context) error {
	return nil
}

func (s *Sink) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Infof("mongo sink stopped. Drop the %v database once this target is no longer replicated to\n", MetaDatabase)
		err = s.client.Disconnect(context.Background())
	})
	return err
}

func (s *Sink) CreateCollection(ctx context.Context, ns string) error {
	db, coll := namespace.Split(ns)
	return ignoreCode(s.client.Database(db).CreateCollection(ctx, coll), namespaceExistsCode)
}

func (s *Sink) DropCollection(ctx context.Context, ns string) error {
	if err := s.collection(ns).Drop(ctx); err != nil {
		return err
	}
	return s.metaCollection(ns).Drop(ctx)
}

func (s *Sink) RenameCollection(ctx context.Context, from, to string) error {
	admin := s.client.Database(base.AdminDatabase)
	rename := func(from, to string) error {
		return admin.RunCommand(ctx, bson.D{
			{Key: base.CmdRenameCollection, Value: from},
			{Key: base.CmdRenameTo, Value: to},
		}).Err()
	}
	if err := rename(from, to); err != nil {
		return fmt.Errorf("renaming %v to %v: %w", from, to, err)
	}

	err := rename(namespace.Join(MetaDatabase, from), namespace.Join(MetaDatabase, to))
	if err = ignoreCode(err, namespaceNotFoundCode); err != nil {
		return fmt.Errorf("renaming metadata of %v: %w", from, err)
	}
	_, err = s.metaCollection(to).UpdateMany(ctx, bson.D{},
		bson.D{{Key: base.SetOperator, Value: bson.D{{Key: base.NamespaceField, Value: to}}}})
	return err
}

func (s *Sink) DropDatabase(ctx context.Context, db string) error {
	if err := s.client.Database(db).Drop(ctx); err != nil {
		return err
	}
	namespaces, err := s.metaNamespaces(ctx)
	if err != nil {
		return err
	}
	for _, ns := range namespaces {
		if strings.HasPrefix(ns, db+base.NamespaceDelimiter) {
			if err = s.metaCollection(ns).Drop(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

const namespaceExistsCode = 48

func ignoreCode(err error, code int) error {
	var serverErr driver.ServerError
	if errors.As(err, &serverErr) && serverErr.HasErrorCode(code) {
		return nil
	}
	return err
}
