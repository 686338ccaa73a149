// Package sqlstore keeps conversations in a SQLite database.
package sqlstore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	"github.com/go-go-golems/forkchat/pkg/persistence"
	"github.com/pkg/errors"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	nodes      INTEGER NOT NULL DEFAULT 0,
	tree       TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
`

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to set %s", p)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetConversation(ctx context.Context, id string) (*persistence.Conversation, error) {
	var text string
	var updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT tree, updated_at FROM conversations WHERE id = ?", id,
	).Scan(&text, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(persistence.ErrNotFound, "conversation %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load conversation %s", id)
	}
	tree, err := conversation.Deserialize(text)
	if err != nil {
		return nil, errors.Wrapf(err, "conversation %s", id)
	}
	return &persistence.Conversation{
		ID:        id,
		Tree:      tree,
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}

func (s *Store) SaveConversation(ctx context.Context, id string, tree *conversation.Tree) error {
	if id == "" {
		return errors.New("conversation id is empty")
	}
	text, err := conversation.Serialize(tree)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, nodes, tree, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			nodes = excluded.nodes,
			tree = excluded.tree,
			updated_at = excluded.updated_at`,
		id, persistence.Title(tree), tree.Len(), text, s.now().UnixMilli(),
	)
	return errors.Wrapf(err, "failed to save conversation %s", id)
}

func (s *Store) ListConversations(ctx context.Context) ([]persistence.Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, nodes, updated_at FROM conversations ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	ret := []persistence.Summary{}
	for rows.Next() {
		var sum persistence.Summary
		var updated int64
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Nodes, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		sum.UpdatedAt = time.UnixMilli(updated).UTC()
		ret = append(ret, sum)
	}
	return ret, errors.Wrap(rows.Err(), "failed to list conversations")
}

func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete conversation %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrapf(err, "failed to delete conversation %s", id)
	}
	if n == 0 {
		return errors.Wrapf(persistence.ErrNotFound, "conversation %s", id)
	}
	return nil
}

var _ persistence.RemoteStore = (*Store)(nil)
