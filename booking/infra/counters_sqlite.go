package infra

import (
	"context"
	"database/sql"
	"errors"

	"bus-booking/booking/domain"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteCounterStore guarda os contadores numa linha da tabela counters.
//
// Cada incremento é um único upsert "f = f + excluded.f", atômico no SQLite,
// sem leitura prévia.
type SQLiteCounterStore struct {
	db *sql.DB
}

// OpenSQLiteCounterStore abre (ou cria) o banco em path e inicializa o schema.
func OpenSQLiteCounterStore(path string) (*SQLiteCounterStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteCounterStore{db: db}
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQLiteCounterStore(db *sql.DB) *SQLiteCounterStore {
	return &SQLiteCounterStore{db: db}
}

func (s *SQLiteCounterStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS counters (
		id TEXT PRIMARY KEY,
		requests INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		success INTEGER NOT NULL DEFAULT 0
	);
	`)
	return err
}

func (s *SQLiteCounterStore) Increment(ctx context.Context, delta domain.Counters) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	if delta.IsZero() {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (id, requests, processed, success)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			requests = requests + excluded.requests,
			processed = processed + excluded.processed,
			success = success + excluded.success
	`, domain.CounterKey, delta.Requests, delta.Processed, delta.Success)
	return err
}

func (s *SQLiteCounterStore) Read(ctx context.Context) (domain.Counters, error) {
	var c domain.Counters
	err := s.db.QueryRowContext(ctx,
		"SELECT processed, success, requests FROM counters WHERE id = ?", domain.CounterKey,
	).Scan(&c.Processed, &c.Success, &c.Requests)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Counters{}, nil
	}
	return c, err
}

func (s *SQLiteCounterStore) Close() error { return s.db.Close() }
