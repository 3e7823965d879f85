package convstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/oakmere/chatvault/pkg/chat"
)

// SQLiteConversationStore keeps one JSON document per conversation row.
type SQLiteConversationStore struct {
	db *sql.DB
}

var _ ConversationStore = &SQLiteConversationStore{}

func NewSQLiteConversationStore(dsn string) (*SQLiteConversationStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteConversationStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteConversationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteConversationStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
		  conv_id TEXT PRIMARY KEY,
		  updated_at_ms INTEGER NOT NULL,
		  doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_updated
		  ON conversations(updated_at_ms DESC, conv_id ASC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite conversation store: migrate")
		}
	}
	return nil
}

func (s *SQLiteConversationStore) LoadAll(ctx context.Context) ([]*chat.Conversation, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("sqlite conversation store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_json
		FROM conversations
		ORDER BY updated_at_ms DESC, conv_id ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: query")
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*chat.Conversation, 0, 64)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.Wrap(err, "sqlite conversation store: scan")
		}
		var doc chat.Conversation
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, errors.Wrapf(ErrCorrupt, "decode conversation: %v", err)
		}
		if doc.ID == "" {
			return nil, errors.Wrap(ErrCorrupt, "conversation without id")
		}
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: iterate")
	}
	return docs, nil
}

func (s *SQLiteConversationStore) Save(ctx context.Context, doc *chat.Conversation) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	if doc == nil {
		return errors.New("sqlite conversation store: doc is nil")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return errors.New("sqlite conversation store: doc id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: marshal")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (conv_id, updated_at_ms, doc_json)
		VALUES (?, ?, ?)
		ON CONFLICT(conv_id) DO UPDATE SET
		  updated_at_ms = excluded.updated_at_ms,
		  doc_json = excluded.doc_json
	`, doc.ID, doc.UpdatedAt.UnixMilli(), string(raw))
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: upsert")
	}
	return nil
}

func (s *SQLiteConversationStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("sqlite conversation store: id is empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conv_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite conversation store: delete")
	}
	return nil
}

func (s *SQLiteConversationStore) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite conversation store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return errors.Wrap(err, "sqlite conversation store: clear")
	}
	return nil
}

// SQLiteConvDSNForFile builds a DSN for a file-backed store.
func SQLiteConvDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite conversation store: empty path")
	}
	// WAL for concurrent readers + writer. busy_timeout to avoid transient SQLITE_BUSY.
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
