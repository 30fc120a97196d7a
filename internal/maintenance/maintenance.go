// Package maintenance keeps the configuration database compact and its
// query planner statistics fresh.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"
)

// DefaultInterval is how often serve runs Optimize.
const DefaultInterval = 24 * time.Hour

// Status holds database size information.
type Status struct {
	DBFileSize  int64 `json:"dbFileSize"`
	WALFileSize int64 `json:"walFileSize"`
	PageCount   int64 `json:"pageCount"`
	PageSize    int64 `json:"pageSize"`
}

// Service provides database maintenance operations.
type Service struct {
	db     *sql.DB
	fs     afero.Fs
	dbPath string
	logger *slog.Logger
}

// NewService creates a maintenance service. fs is used only to stat the
// database and WAL files.
func NewService(db *sql.DB, fs afero.Fs, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		fs:     fs,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns current database size information.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := s.fs.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := s.fs.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, fmt.Errorf("reading page_count: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, fmt.Errorf("reading page_size: %w", err)
	}

	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Debug("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Debug("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	s.logger.Info("optimize complete")
	return nil
}

// Vacuum runs VACUUM to rebuild the database file.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// StartScheduler runs Optimize on a fixed interval until the context is canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started",
		slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}
