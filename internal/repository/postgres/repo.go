package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/taskboard/taskchat/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	chat_id     TEXT NOT NULL,
	client_id   TEXT,
	author_id   TEXT NOT NULL,
	body        TEXT NOT NULL,
	created_at  BIGINT NOT NULL,
	attachments JSONB NOT NULL DEFAULT '[]'
);
CREATE UNIQUE INDEX IF NOT EXISTS chat_messages_client_idx
	ON chat_messages (chat_id, client_id) WHERE client_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS chat_messages_chat_idx
	ON chat_messages (chat_id, created_at, seq);
`

type Repository struct {
	DB *sql.DB
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func Open(dsn string) (*Repository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	return &Repository{DB: db}, nil
}

func (r *Repository) getter(tx *sql.Tx) queryable {
	if tx != nil {
		return tx
	}
	return r.DB
}

// Migrate creates the schema if it does not exist.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate chat_messages: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.DB.Close()
}

func (r *Repository) ListMessages(ctx context.Context, chatID domain.ChatID) ([]domain.Message, error) {
	rows, err := r.getter(nil).QueryContext(ctx, `
		SELECT id, COALESCE(client_id, ''), author_id, body, created_at, attachments
		FROM chat_messages
		WHERE chat_id = $1
		ORDER BY created_at, seq
	`, chatID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *Repository) InsertMessage(ctx context.Context, chatID domain.ChatID, msg domain.Message) (domain.Message, bool, error) {
	atts, err := json.Marshal(msg.Attachments)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("encode attachments: %w", err)
	}
	if msg.Attachments == nil {
		atts = []byte("[]")
	}

	var clientID interface{}
	if msg.ClientID != "" {
		clientID = msg.ClientID
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, false, err
	}
	defer tx.Rollback()

	q := r.getter(tx)
	res, err := q.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, client_id, author_id, body, created_at, attachments)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chat_id, client_id) WHERE client_id IS NOT NULL DO NOTHING
	`, msg.ID, chatID.String(), clientID, msg.AuthorID, msg.Body, msg.CreatedAt, atts)
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return domain.Message{}, false, err
	}
	if n == 1 {
		if err := tx.Commit(); err != nil {
			return domain.Message{}, false, err
		}
		return msg, true, nil
	}

	row := q.QueryRowContext(ctx, `
		SELECT id, COALESCE(client_id, ''), author_id, body, created_at, attachments
		FROM chat_messages
		WHERE chat_id = $1 AND client_id = $2
	`, chatID.String(), msg.ClientID)
	existing, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, false, fmt.Errorf("insert message %s: conflict without a row", msg.ClientID)
		}
		return domain.Message{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, false, err
	}
	return existing, false, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(s scanner) (domain.Message, error) {
	var (
		m    domain.Message
		atts []byte
	)
	if err := s.Scan(&m.ID, &m.ClientID, &m.AuthorID, &m.Body, &m.CreatedAt, &atts); err != nil {
		return domain.Message{}, err
	}
	if len(atts) > 0 {
		if err := json.Unmarshal(atts, &m.Attachments); err != nil {
			return domain.Message{}, fmt.Errorf("decode attachments of %s: %w", m.ID, err)
		}
		if len(m.Attachments) == 0 {
			m.Attachments = nil
		}
	}
	return m, nil
}
