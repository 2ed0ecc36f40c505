// SPDX-License-Identifier: GPL-2.0-only

package store

import (
	"database/sql"
	"encoding/json"

	"github.com/efficientgo/core/errors"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	// Pure-Go SQLite driver, registered for database/sql.
	_ "modernc.org/sqlite"
)

// SQLiteDocStore keeps each document as a JSON blob in a single table.
// Saves are upserts inside the driver's implicit transaction, which gives
// the load→mutate→atomic-replace semantics the typed stores rely on.
type SQLiteDocStore struct {
	db     *sql.DB
	logger log.Logger
}

// OpenSQLite opens or creates the document database at path. Use
// ":memory:" for tests.
func OpenSQLite(path string, logger log.Logger) (*SQLiteDocStore, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open document store")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to reach document store")
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		name TEXT PRIMARY KEY,
		body BLOB NOT NULL
	)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize document store schema")
	}
	return &SQLiteDocStore{db: db, logger: logger}, nil
}

func (s *SQLiteDocStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteDocStore) Load(name string) map[string]interface{} {
	var body []byte
	err := s.db.QueryRow(`SELECT body FROM documents WHERE name = ?`, name).Scan(&body)
	if err == sql.ErrNoRows {
		return map[string]interface{}{}
	}
	if err != nil {
		_ = level.Warn(s.logger).Log("msg", "failed to load document, treating as empty", "doc", name, "err", err)
		return map[string]interface{}{}
	}
	doc := map[string]interface{}{}
	if err := json.Unmarshal(body, &doc); err != nil {
		_ = level.Warn(s.logger).Log("msg", "corrupt document, treating as empty", "doc", name, "err", err)
		return map[string]interface{}{}
	}
	return doc
}

func (s *SQLiteDocStore) Save(name string, doc map[string]interface{}) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to encode document %s", name)
	}
	_, err = s.db.Exec(
		`INSERT INTO documents (name, body) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET body = excluded.body`,
		name, body,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save document %s", name)
	}
	return nil
}
