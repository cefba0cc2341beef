package db

import (
	"context"
	"database/sql"

	"github.com/RichardoC/langchain-chat/internal/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// The exchange log is an operator record of relay calls. Conversations are
// never restored from it.
const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id TEXT PRIMARY KEY,
    question TEXT NOT NULL,
    answer TEXT NOT NULL DEFAULT '',
    status INTEGER NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS exchanges_created_at ON exchanges(created_at);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open exchange log")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create exchange log schema")
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// RecordExchange stores one relay call and fills in CreatedAt.
func (db *Database) RecordExchange(ctx context.Context, ex *models.Exchange) error {
	query := `
        INSERT INTO exchanges (id, question, answer, status, error, created_at)
        VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING created_at`

	err := db.db.QueryRowContext(ctx, query, ex.ID, ex.Question, ex.Answer, ex.Status, ex.Error).
		Scan(&ex.CreatedAt)
	return errors.Wrap(err, "failed to record exchange")
}

// RecentExchanges returns up to limit exchanges, newest first.
func (db *Database) RecentExchanges(ctx context.Context, limit int) ([]models.Exchange, error) {
	query := `
        SELECT id, question, answer, status, error, created_at
        FROM exchanges
        ORDER BY created_at DESC, rowid DESC
        LIMIT ?`

	rows, err := db.db.QueryContext(ctx, query, limit)
	if err != nil {
		return []models.Exchange{}, errors.Wrap(err, "failed to query exchanges")
	}
	defer rows.Close()

	exchanges := make([]models.Exchange, 0)
	for rows.Next() {
		var ex models.Exchange
		if err := rows.Scan(&ex.ID, &ex.Question, &ex.Answer, &ex.Status, &ex.Error, &ex.CreatedAt); err != nil {
			return []models.Exchange{}, errors.Wrap(err, "failed to scan exchange")
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, errors.Wrap(rows.Err(), "failed to iterate exchanges")
}
