// Package journal keeps an audit trail of finished task runs in sqlite.
// Nothing is read back into the task registry.
package journal

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/Avis2912/magnus/internal/task"
)

// MemoryDSN keeps the journal for the lifetime of the process only.
const MemoryDSN = ":memory:"

type Entry struct {
	TaskID     string    `json:"task_id"`
	Prompt     string    `json:"prompt"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	StepCount  int       `json:"step_count"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to dsn and syncs the schema. An empty dsn means MemoryDSN.
func Open(dsn string) (*Store, error) {
	gdb, err := openSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := SyncSchema(gdb); err != nil {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return &Store{db: gdb, now: time.Now}, nil
}

func openSQLite(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = MemoryDSN
	}
	memory := dsn == MemoryDSN || strings.Contains(dsn, "mode=memory")
	if !memory && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, err
		}
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
	}, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// A private in-memory database lives on a single connection.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if !memory {
		if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
			return nil, err
		}
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

func SyncSchema(db *gorm.DB) error {
	if db == nil {
		return errors.New("db is required")
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_run_records_finished_at ON run_records(finished_at DESC);`).Error
}

// Record stores the outcome of a finished task. Recording the same task
// again overwrites the earlier row.
func (s *Store) Record(t task.Task) error {
	if s == nil || s.db == nil {
		return errors.New("journal is not initialized")
	}
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("task id is required")
	}
	row := RunRecord{
		TaskID:     t.ID,
		Prompt:     t.Prompt,
		Status:     string(t.Status),
		Reason:     t.Reason,
		StepCount:  len(t.Steps),
		CreatedAt:  t.CreatedAt.UTC().UnixMilli(),
		FinishedAt: s.now().UTC().UnixMilli(),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}},
		UpdateAll: true,
	}).Create(&row).Error
}

// List returns the most recently finished runs first.
func (s *Store) List(limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("journal is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows := make([]RunRecord, 0, limit)
	if err := s.db.Order("finished_at DESC").Order("task_id").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, Entry{
			TaskID:     row.TaskID,
			Prompt:     row.Prompt,
			Status:     row.Status,
			Reason:     row.Reason,
			StepCount:  row.StepCount,
			CreatedAt:  time.UnixMilli(row.CreatedAt).UTC(),
			FinishedAt: time.UnixMilli(row.FinishedAt).UTC(),
		})
	}
	return out, nil
}

// Hook returns a terminal-task observer for task.Registry.OnTerminal.
func (s *Store) Hook(lg *slog.Logger) func(task.Task) {
	if lg == nil {
		lg = slog.Default()
	}
	return func(t task.Task) {
		if err := s.Record(t); err != nil {
			lg.Warn("journal record failed", "module", "journal", "task", t.ID, "err", err)
		}
	}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
