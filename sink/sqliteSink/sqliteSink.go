// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package sqliteSink

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/couchbase/oplogConnector/namespace"
	"github.com/couchbase/oplogConnector/sink"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const Name = "sqlite"

//go:embed schema.sql
var schemaSQL string

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Sink stores replicated documents in a SQLite database, one row per
// (namespace, document id) with a zstd compressed JSON body. Writes
// accumulate in a transaction that Commit closes.
type Sink struct {
	db        *sql.DB
	uniqueKey string
	logger    *zap.SugaredLogger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	// guards tx; the single connection is either in tx or idle
	mtx     sync.Mutex
	tx      *sql.Tx
	stopped bool
}

func Open(path, uniqueKey string, logger *zap.SugaredLogger) (*Sink, error) {
	if uniqueKey == "" {
		uniqueKey = base.DefaultUniqueKey
	}
	if logger == nil {
		logger = base.NewNopLogger()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err = db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, err
	}

	logger.Infof("sqlite sink opened %v\n", path)
	return &Sink{
		db:        db,
		uniqueKey: uniqueKey,
		logger:    logger,
		encoder:   encoder,
		decoder:   decoder,
	}, nil
}

// txLocked returns the open transaction, starting one if needed. Caller holds mtx.
func (s *Sink) txLocked(ctx context.Context) (*sql.Tx, error) {
	if s.stopped {
		return nil, fmt.Errorf("sqlite sink is stopped")
	}
	if s.tx != nil {
		return s.tx, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	s.tx = tx
	return tx, nil
}

// the stored body carries the document id under the unique key
func (s *Sink) encode(doc document.Object) ([]byte, error) {
	body := doc.Clone()
	delete(body, base.TimestampField)
	delete(body, base.NamespaceField)
	if s.uniqueKey != base.IdField {
		if id, ok := body[base.IdField]; ok {
			delete(body, base.IdField)
			body[s.uniqueKey] = id
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return s.encoder.EncodeAll(raw, nil), nil
}

func (s *Sink) decode(blob []byte, ns string, ts int64) (document.Object, error) {
	raw, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, err
	}
	var doc document.Object
	if err = json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if s.uniqueKey != base.IdField {
		if id, ok := doc[s.uniqueKey]; ok {
			delete(doc, s.uniqueKey)
			doc[base.IdField] = id
		}
	}
	doc[base.TimestampField] = document.Int(ts)
	doc[base.NamespaceField] = document.String(ns)
	return doc, nil
}

func (s *Sink) upsertLocked(ctx context.Context, tx *sql.Tx, doc document.Object, ns string, ts base.Timestamp) error {
	id, ok := doc[base.IdField]
	if !ok {
		return fmt.Errorf("document for %v has no %v", ns, base.IdField)
	}
	body, err := s.encode(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (ns, doc_key, ts, body) VALUES (?, ?, ?, ?)
		 ON CONFLICT (ns, doc_key) DO UPDATE SET ts = excluded.ts, body = excluded.body`,
		ns, document.Key(id), int64(ts), body)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO collections (ns) VALUES (?)`, ns)
	return err
}

func (s *Sink) Upsert(ctx context.Context, doc document.Object, ns string, ts base.Timestamp) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return err
	}
	return s.upsertLocked(ctx, tx, doc, ns, ts)
}

func (s *Sink) BulkUpsert(ctx context.Context, docs []document.Object, ns string, ts base.Timestamp) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err = s.upsertLocked(ctx, tx, doc, ns, ts); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Remove(ctx context.Context, id document.Value, ns string, ts base.Timestamp) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM documents WHERE ns = ? AND doc_key = ?`, ns, document.Key(id))
	return err
}

// InsertFile stores the file content as a binary field of its metadata document.
func (s *Sink) InsertFile(ctx context.Context, meta document.Object, content io.Reader, ns string, ts base.Timestamp) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	doc := meta.Clone()
	doc["content"] = document.Binary(data)
	return s.Upsert(ctx, doc, ns, ts)
}

func (s *Sink) Get(ctx context.Context, ns string, id document.Value) (document.Object, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return nil, err
	}
	var ts int64
	var blob []byte
	err = tx.QueryRowContext(ctx, `SELECT ts, body FROM documents WHERE ns = ? AND doc_key = ?`, ns, document.Key(id)).
		Scan(&ts, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %v in %v", base.ErrDocumentNotFound, document.Key(id), ns)
	}
	if err != nil {
		return nil, err
	}
	return s.decode(blob, ns, ts)
}

func (s *Sink) query(ctx context.Context, query string, args ...interface{}) ([]document.Object, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []document.Object
	for rows.Next() {
		var ns string
		var ts int64
		var blob []byte
		if err = rows.Scan(&ns, &ts, &blob); err != nil {
			return nil, err
		}
		doc, err := s.decode(blob, ns, ts)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *Sink) Search(ctx context.Context, start, end base.Timestamp) ([]document.Object, error) {
	return s.query(ctx, `SELECT ns, ts, body FROM documents WHERE ts >= ? AND ts <= ? ORDER BY ts`, int64(start), int64(end))
}

func (s *Sink) GetLastDocument(ctx context.Context) (document.Object, error) {
	docs, err := s.query(ctx, `SELECT ns, ts, body FROM documents ORDER BY ts DESC LIMIT 1`)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

func (s *Sink) Commit(ctx context.Context) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.commitLocked()
}

func (s *Sink) commitLocked() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

func (s *Sink) Stop() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.stopped {
		return nil
	}
	err := s.commitLocked()
	if err != nil {
		s.logger.Errorf("error committing sqlite sink on stop. err=%v\n", err)
	}
	s.stopped = true
	s.encoder.Close()
	s.decoder.Close()
	if closeErr := s.db.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (s *Sink) exec(ctx context.Context, query string, args ...interface{}) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (s *Sink) CreateCollection(ctx context.Context, ns string) error {
	return s.exec(ctx, `INSERT OR IGNORE INTO collections (ns) VALUES (?)`, ns)
}

func (s *Sink) DropCollection(ctx context.Context, ns string) error {
	if err := s.exec(ctx, `DELETE FROM documents WHERE ns = ?`, ns); err != nil {
		return err
	}
	return s.exec(ctx, `DELETE FROM collections WHERE ns = ?`, ns)
}

func (s *Sink) RenameCollection(ctx context.Context, from, to string) error {
	if err := s.exec(ctx, `DELETE FROM documents WHERE ns = ?`, to); err != nil {
		return err
	}
	if err := s.exec(ctx, `UPDATE documents SET ns = ? WHERE ns = ?`, to, from); err != nil {
		return err
	}
	if err := s.exec(ctx, `DELETE FROM collections WHERE ns = ?`, from); err != nil {
		return err
	}
	return s.exec(ctx, `INSERT OR IGNORE INTO collections (ns) VALUES (?)`, to)
}

func (s *Sink) DropDatabase(ctx context.Context, db string) error {
	prefix := namespace.Join(db, "")
	if err := s.exec(ctx, `DELETE FROM documents WHERE substr(ns, 1, length(?)) = ?`, prefix, prefix); err != nil {
		return err
	}
	return s.exec(ctx, `DELETE FROM collections WHERE substr(ns, 1, length(?)) = ?`, prefix, prefix)
}

// Collections lists the known namespaces.
func (s *Sink) Collections(ctx context.Context) ([]string, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	tx, err := s.txLocked(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `SELECT ns FROM collections ORDER BY ns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ns string
		if err = rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

var (
	_ sink.Sink         = (*Sink)(nil)
	_ sink.BulkUpserter = (*Sink)(nil)
	_ sink.CommandHooks = (*Sink)(nil)
	_ sink.FileInserter = (*Sink)(nil)
)
