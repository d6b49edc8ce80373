package ps

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/evoludigit/pggit/core"
)

// sqliteStore keeps everything in one sqlite database. It is the backend of
// choice when the outbox must be strictly transactional: a head advance and
// its events commit or roll back together.
type sqliteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	kind    TEXT NOT NULL,
	hash    TEXT NOT NULL,
	content BLOB NOT NULL,
	PRIMARY KEY (kind, hash)
);
CREATE TABLE IF NOT EXISTS refs (
	name       TEXT PRIMARY KEY,
	head       TEXT NOT NULL,
	created_at TEXT NOT NULL,
	created_by TEXT NOT NULL,
	meta       TEXT
);
CREATE TABLE IF NOT EXISTS attempts (
	id     TEXT PRIMARY KEY,
	record TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	branch      TEXT NOT NULL DEFAULT '',
	commit_hash TEXT NOT NULL DEFAULT '',
	attempt_id  TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	at          TEXT NOT NULL,
	meta        TEXT
);
`

func newSQLiteStore(path string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases coherent and lets sqlite's
	// own locking serialize writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) putObject(kind string, hash core.Hash, content []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO objects (kind, hash, content) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		kind, hash.String(), content)
	return err
}

func (s *sqliteStore) getObject(kind string, hash core.Hash) ([]byte, bool, error) {
	var content []byte
	err := s.db.QueryRow(
		`SELECT content FROM objects WHERE kind = ? AND hash = ?`,
		kind, hash.String()).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return content, true, nil
}

func (s *sqliteStore) PutBlob(hash core.Hash, content []byte) error {
	return s.putObject("blob", hash, content)
}

func (s *sqliteStore) GetBlob(hash core.Hash) ([]byte, bool, error) {
	return s.getObject("blob", hash)
}

func (s *sqliteStore) PutTree(hash core.Hash, encoded []byte) error {
	return s.putObject("tree", hash, encoded)
}

func (s *sqliteStore) GetTree(hash core.Hash) ([]byte, bool, error) {
	return s.getObject("tree", hash)
}

func (s *sqliteStore) PutCommit(hash core.Hash, encoded []byte) error {
	return s.putObject("commit", hash, encoded)
}

func (s *sqliteStore) GetCommit(hash core.Hash) ([]byte, bool, error) {
	return s.getObject("commit", hash)
}

func marshalMeta(meta map[string]string) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func unmarshalMeta(raw sql.NullString) (map[string]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw.String), &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *sqliteStore) CreateRef(branch core.Branch) error {
	meta, err := marshalMeta(branch.Meta)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO refs (name, head, created_at, created_by, meta) VALUES (?, ?, ?, ?, ?)`,
		branch.Name, branch.Head.String(),
		branch.CreatedAt.UTC().Format(time.RFC3339Nano), branch.CreatedBy, meta)
	if err != nil {
		var exists int
		if s.db.QueryRow(`SELECT 1 FROM refs WHERE name = ?`, branch.Name).Scan(&exists) == nil {
			return core.ErrDuplicateBranch
		}
		return err
	}
	return nil
}

func scanBranch(row interface{ Scan(...any) error }) (core.Branch, error) {
	var branch core.Branch
	var head, createdAt string
	var meta sql.NullString
	if err := row.Scan(&branch.Name, &head, &createdAt, &branch.CreatedBy, &meta); err != nil {
		return core.Branch{}, err
	}
	branch.Head = core.Hash(head)
	when, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return core.Branch{}, fmt.Errorf("ref %q: bad created_at: %w", branch.Name, err)
	}
	branch.CreatedAt = when
	branch.Meta, err = unmarshalMeta(meta)
	return branch, err
}

func (s *sqliteStore) GetRef(name string) (core.Branch, bool, error) {
	row := s.db.QueryRow(
		`SELECT name, head, created_at, created_by, meta FROM refs WHERE name = ?`, name)
	branch, err := scanBranch(row)
	if err == sql.ErrNoRows {
		return core.Branch{}, false, nil
	}
	if err != nil {
		return core.Branch{}, false, err
	}
	return branch, true, nil
}

func (s *sqliteStore) ListRefs() ([]core.Branch, error) {
	rows, err := s.db.Query(
		`SELECT name, head, created_at, created_by, meta FROM refs ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []core.Branch
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	return branches, rows.Err()
}

func (s *sqliteStore) insertEvents(tx *sql.Tx, events []core.Event) error {
	for _, e := range events {
		meta, err := marshalMeta(e.Meta)
		if err != nil {
			return err
		}
		_, err = tx.Exec(
			`INSERT INTO events (kind, branch, commit_hash, attempt_id, author, at, meta)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(e.Kind), e.Branch, e.Commit.String(), e.AttemptID, e.Author,
			e.When.UTC().Format(time.RFC3339Nano), meta)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) AdvanceRef(name string, expected, next core.Hash, events []core.Event) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE refs SET head = ? WHERE name = ? AND head = ?`,
		next.String(), name, expected.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var actual string
		err := tx.QueryRow(`SELECT head FROM refs WHERE name = ?`, name).Scan(&actual)
		if err == sql.ErrNoRows {
			return core.ErrBranchNotFound
		}
		if err != nil {
			return err
		}
		return &core.ConcurrentModificationError{
			Branch: name, Expected: expected, Actual: core.Hash(actual),
		}
	}

	if err := s.insertEvents(tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteRef(name string) error {
	res, err := s.db.Exec(`DELETE FROM refs WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrBranchNotFound
	}
	return nil
}

func (s *sqliteStore) PutAttempt(attempt core.MergeAttempt, events []core.Event) error {
	record, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO attempts (id, record) VALUES (?, ?)
		 ON CONFLICT (id) DO UPDATE SET record = excluded.record`,
		attempt.ID, string(record))
	if err != nil {
		return err
	}
	if err := s.insertEvents(tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetAttempt(id string) (core.MergeAttempt, bool, error) {
	var record string
	err := s.db.QueryRow(`SELECT record FROM attempts WHERE id = ?`, id).Scan(&record)
	if err == sql.ErrNoRows {
		return core.MergeAttempt{}, false, nil
	}
	if err != nil {
		return core.MergeAttempt{}, false, err
	}
	var attempt core.MergeAttempt
	if err := json.Unmarshal([]byte(record), &attempt); err != nil {
		return core.MergeAttempt{}, false, fmt.Errorf("corrupt attempt %q: %w", id, err)
	}
	return attempt, true, nil
}

func (s *sqliteStore) ListAttempts() ([]core.MergeAttempt, error) {
	rows, err := s.db.Query(`SELECT record FROM attempts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []core.MergeAttempt
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, err
		}
		var attempt core.MergeAttempt
		if err := json.Unmarshal([]byte(record), &attempt); err != nil {
			return nil, fmt.Errorf("corrupt attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, rows.Err()
}

func (s *sqliteStore) DeleteAttempt(id string) error {
	_, err := s.db.Exec(`DELETE FROM attempts WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) AppendEvents(events []core.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.insertEvents(tx, events); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Events(afterSeq uint64, limit int) ([]core.Event, error) {
	query := `SELECT seq, kind, branch, commit_hash, attempt_id, author, at, meta
	          FROM events WHERE seq > ? ORDER BY seq`
	args := []any{afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var e core.Event
		var kind, commit, at string
		var meta sql.NullString
		if err := rows.Scan(&e.Seq, &kind, &e.Branch, &commit, &e.AttemptID, &e.Author, &at, &meta); err != nil {
			return nil, err
		}
		e.Kind = core.EventKind(kind)
		e.Commit = core.Hash(commit)
		when, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("event %d: bad timestamp: %w", e.Seq, err)
		}
		e.When = when
		if e.Meta, err = unmarshalMeta(meta); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *sqliteStore) listHashes(kind string) ([]core.Hash, error) {
	rows, err := s.db.Query(`SELECT hash FROM objects WHERE kind = ?`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []core.Hash
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, core.Hash(h))
	}
	return hashes, rows.Err()
}

func (s *sqliteStore) ListBlobHashes() ([]core.Hash, error)   { return s.listHashes("blob") }
func (s *sqliteStore) ListTreeHashes() ([]core.Hash, error)   { return s.listHashes("tree") }
func (s *sqliteStore) ListCommitHashes() ([]core.Hash, error) { return s.listHashes("commit") }

func (s *sqliteStore) DeleteObjects(blobs, trees, commits []core.Hash) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	remove := func(kind string, hashes []core.Hash) error {
		for _, h := range hashes {
			if _, err := tx.Exec(`DELETE FROM objects WHERE kind = ? AND hash = ?`, kind, h.String()); err != nil {
				return err
			}
		}
		return nil
	}
	if err := remove("blob", blobs); err != nil {
		return err
	}
	if err := remove("tree", trees); err != nil {
		return err
	}
	if err := remove("commit", commits); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
