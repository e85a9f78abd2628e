package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT    NOT NULL,
	generation INTEGER NOT NULL,
	user_id    TEXT    NOT NULL,
	channel_id TEXT    NOT NULL,
	thread_id  TEXT    NOT NULL DEFAULT '',
	status     TEXT    NOT NULL,
	archived   INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	data       TEXT    NOT NULL,
	PRIMARY KEY (id, generation)
);
CREATE INDEX IF NOT EXISTS sessions_live ON sessions (archived, updated_at);
`

// SQLStore persists sessions in SQLite. Each row holds one generation of a
// session; the live generation has archived = 0.
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenSQLStore opens (and creates if needed) a SQLite database at path.
func OpenSQLStore(ctx context.Context, path string, ttl time.Duration) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreFailure, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %v", ErrStoreFailure, err)
	}

	return &SQLStore{db: db, ttl: ttl}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetOrCreate returns the live session for key, creating or renewing it as needed.
func (s *SQLStore) GetOrCreate(ctx context.Context, key model.SessionKey, now time.Time) (*model.ConversationSession, error) {
	id := key.ID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ? AND archived = 0`, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, storeErr("load session", err)
	case !sess.ExpiredAt(now, s.ttl):
		return sess, nil
	default:
		if err := archiveTx(ctx, tx, sess); err != nil {
			return nil, err
		}
	}

	var lastGen int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(generation), 0) FROM sessions WHERE id = ?`, id).Scan(&lastGen); err != nil {
		return nil, storeErr("read generation", err)
	}

	fresh := model.NewSession(key, lastGen+1, now)
	if err := insertTx(ctx, tx, fresh); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit", err)
	}
	return fresh, nil
}

// Get returns the live session with the given ID.
func (s *SQLStore) Get(ctx context.Context, id string) (*model.ConversationSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ? AND archived = 0`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}
	return sess, nil
}

// Save writes the session's current generation.
func (s *SQLStore) Save(ctx context.Context, sess *model.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return storeErr("encode session", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, generation, user_id, channel_id, thread_id, status, archived, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (id, generation) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at,
			data = excluded.data
		WHERE sessions.archived = 0`,
		sess.ID, sess.Generation, sess.UserID, sess.ChannelID, sess.ThreadID,
		string(sess.Status), sess.UpdatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return storeErr("save session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("save session", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %w: %s generation %d", ErrStoreFailure, ErrArchived, sess.ID, sess.Generation)
	}
	return nil
}

// Stale returns the keys of live sessions idle past the inactivity window.
func (s *SQLStore) Stale(ctx context.Context, now time.Time) ([]model.SessionKey, error) {
	if s.ttl <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, channel_id, thread_id FROM sessions WHERE archived = 0 AND updated_at < ?`,
		now.Add(-s.ttl).UnixNano(),
	)
	if err != nil {
		return nil, storeErr("query stale sessions", err)
	}
	defer rows.Close()

	var keys []model.SessionKey
	for rows.Next() {
		var k model.SessionKey
		if err := rows.Scan(&k.UserID, &k.ChannelID, &k.ThreadID); err != nil {
			return nil, storeErr("query stale sessions", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query stale sessions", err)
	}
	return keys, nil
}

// Expire archives the live session for key if it is idle at now.
func (s *SQLStore) Expire(ctx context.Context, key model.SessionKey, now time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ? AND archived = 0`, key.ID()))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, storeErr("load session", err)
	case !sess.ExpiredAt(now, s.ttl):
		return false, nil
	}

	if err := archiveTx(ctx, tx, sess); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, storeErr("commit", err)
	}
	return true, nil
}

// ExpireStale archives every live session idle past the inactivity window.
func (s *SQLStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT data FROM sessions WHERE archived = 0 AND updated_at < ?`, now.Add(-s.ttl).UnixNano())
	if err != nil {
		return 0, storeErr("query stale sessions", err)
	}
	var stale []*model.ConversationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return 0, storeErr("decode session", err)
		}
		stale = append(stale, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, storeErr("query stale sessions", err)
	}
	rows.Close()

	for _, sess := range stale {
		if err := archiveTx(ctx, tx, sess); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit", err)
	}
	return len(stale), nil
}

// Archive returns the expired generations retained for a session ID, oldest first.
func (s *SQLStore) Archive(ctx context.Context, id string) ([]*model.ConversationSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM sessions WHERE id = ? AND archived = 1 ORDER BY generation`, id)
	if err != nil {
		return nil, storeErr("query archive", err)
	}
	defer rows.Close()

	var out []*model.ConversationSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("decode session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query archive", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*model.ConversationSession, error) {
	var data string
	if err := row.Scan(&data); err != nil {
		return nil, err
	}
	var sess model.ConversationSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, err
	}
	if sess.History == nil {
		sess.History = []model.MessageContext{}
	}
	return &sess, nil
}

func archiveTx(ctx context.Context, tx *sql.Tx, sess *model.ConversationSession) error {
	archived := sess.Clone()
	archived.Status = model.SessionExpired
	archived.ActiveWorkflow = nil

	data, err := json.Marshal(archived)
	if err != nil {
		return storeErr("encode session", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE sessions SET archived = 1, status = ?, data = ? WHERE id = ? AND generation = ?`,
		string(model.SessionExpired), string(data), sess.ID, sess.Generation,
	)
	if err != nil {
		return storeErr("archive session", err)
	}
	return nil
}

func insertTx(ctx context.Context, tx *sql.Tx, sess *model.ConversationSession) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return storeErr("encode session", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, generation, user_id, channel_id, thread_id, status, archived, updated_at, data)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		sess.ID, sess.Generation, sess.UserID, sess.ChannelID, sess.ThreadID,
		string(sess.Status), sess.UpdatedAt.UnixNano(), string(data),
	)
	if err != nil {
		return storeErr("insert session", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", ErrStoreFailure, op, err)
}
