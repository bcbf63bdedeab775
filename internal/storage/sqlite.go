package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eventgreen/notifybot/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// Storage owns the notification config table and the fire-record ledger.
// Both survive restarts; the ledger is what makes duplicate triggers safe.
type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS notification_configs (
			user_id INTEGER PRIMARY KEY,
			hour INTEGER NOT NULL,
			minute INTEGER NOT NULL,
			timezone TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS fire_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			local_date TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, local_date)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_records_user_id ON fire_records(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_fire_records_local_date ON fire_records(local_date)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// UpsertConfig creates or replaces a user's notification settings.
// Invalid input is rejected before anything is written.
func (s *Storage) UpsertConfig(c *domain.NotificationConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO notification_configs (user_id, hour, minute, timezone, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			hour = excluded.hour,
			minute = excluded.minute,
			timezone = excluded.timezone,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP`,
		c.UserID, c.Time.Hour, c.Time.Minute, c.Timezone, c.Enabled)
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	return nil
}

// DisableConfig flips the enabled flag off; the config itself is kept.
func (s *Storage) DisableConfig(userID int64) error {
	res, err := s.db.Exec(
		`UPDATE notification_configs SET enabled = 0, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		userID)
	if err != nil {
		return fmt.Errorf("disable config: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("disable config: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) GetConfig(userID int64) (*domain.NotificationConfig, error) {
	row := s.db.QueryRow(`
		SELECT user_id, hour, minute, timezone, enabled, created_at, updated_at
		FROM notification_configs WHERE user_id = ?`, userID)
	return scanConfig(row)
}

func (s *Storage) ListEnabledConfigs() ([]*domain.NotificationConfig, error) {
	rows, err := s.db.Query(`
		SELECT user_id, hour, minute, timezone, enabled, created_at, updated_at
		FROM notification_configs WHERE enabled = 1 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled configs: %w", err)
	}
	defer rows.Close()

	var configs []*domain.NotificationConfig
	for rows.Next() {
		c, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (*domain.NotificationConfig, error) {
	var c domain.NotificationConfig
	err := row.Scan(&c.UserID, &c.Time.Hour, &c.Time.Minute, &c.Timezone, &c.Enabled, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan config: %w", err)
	}
	return &c, nil
}

// RecordFireAttempt is the idempotency gate: it inserts a pending fire
// record for (user, local date) only if none exists yet. Exactly one of
// any number of concurrent callers for the same key gets acquired=true,
// the rest see acquired=false. The compare-and-insert on the unique
// (user_id, local_date) key is the sole serialization point preventing
// double sends.
func (s *Storage) RecordFireAttempt(userID int64, localDate string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO fire_records (user_id, local_date, status) VALUES (?, ?, ?)`,
		userID, localDate, domain.FirePending)
	if err != nil {
		return false, fmt.Errorf("record fire attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record fire attempt: %w", err)
	}
	return n == 1, nil
}

// MarkOutcome finalizes a fire record. It is off the critical path: the
// attempt row already exists, so duplicate triggers are blocked whether
// or not this update has happened yet.
func (s *Storage) MarkOutcome(userID int64, localDate string, status domain.FireStatus) error {
	res, err := s.db.Exec(
		`UPDATE fire_records SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = ? AND local_date = ?`,
		status, userID, localDate)
	if err != nil {
		return fmt.Errorf("mark outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outcome: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) LastFireRecord(userID int64) (*domain.FireRecord, error) {
	var r domain.FireRecord
	err := s.db.QueryRow(`
		SELECT user_id, local_date, status, created_at, updated_at
		FROM fire_records WHERE user_id = ? ORDER BY local_date DESC LIMIT 1`,
		userID).Scan(&r.UserID, &r.LocalDate, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("last fire record: %w", err)
	}
	return &r, nil
}

// PruneFireRecords drops ledger entries older than the given local date.
// Old entries have no scheduling meaning, they only grow the table.
func (s *Storage) PruneFireRecords(beforeDate string) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM fire_records WHERE local_date < ?`, beforeDate)
	if err != nil {
		return 0, fmt.Errorf("prune fire records: %w", err)
	}
	return res.RowsAffected()
}

// RetentionCutoff formats the prune boundary for a retention window in days.
func RetentionCutoff(now time.Time, days int) string {
	return now.AddDate(0, 0, -days).Format("2006-01-02")
}
