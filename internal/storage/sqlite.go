package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/price-monitor-bot/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS monitor_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	first_run        INTEGER NOT NULL,
	daily_min        REAL    NOT NULL,
	last_report_date TEXT    NOT NULL,
	updated_at       TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStorage keeps the state in a single-row table
type SQLiteStorage struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Save(state *types.MonitorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO monitor_state (id, first_run, daily_min, last_report_date, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			first_run = excluded.first_run,
			daily_min = excluded.daily_min,
			last_report_date = excluded.last_report_date,
			updated_at = excluded.updated_at`,
		state.FirstRun, state.DailyMin, state.LastReportDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert state: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) Load() (*types.MonitorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state types.MonitorState
	err := s.db.QueryRow("SELECT first_run, daily_min, last_report_date FROM monitor_state WHERE id = 1").
		Scan(&state.FirstRun, &state.DailyMin, &state.LastReportDate)
	if errors.Is(err, sql.ErrNoRows) {
		return &types.MonitorState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}

	return &state, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
