// Package backup snapshots the configuration database with VACUUM INTO and
// prunes old snapshots.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	filePrefix = "smack-"
	fileSuffix = ".db"
	stampFmt   = "20060102-150405.000"
)

// DefaultRetention is how many snapshots Prune keeps when none is configured.
const DefaultRetention = 7

// filePattern matches snapshot filenames: smack-YYYYMMDD-HHMMSS.mmm.db
var filePattern = regexp.MustCompile(`^smack-\d{8}-\d{6}\.\d{3}\.db$`)

// Info describes a snapshot file.
type Info struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// Service writes and prunes snapshots in one directory. The directory lives
// on the local disk because SQLite writes the snapshot itself.
type Service struct {
	db        *sql.DB
	dir       string
	retention int
	logger    *slog.Logger
}

// NewService creates a backup service. A retention below 1 uses
// DefaultRetention.
func NewService(db *sql.DB, dir string, retention int, logger *slog.Logger) *Service {
	if retention < 1 {
		retention = DefaultRetention
	}
	return &Service{
		db:        db,
		dir:       dir,
		retention: retention,
		logger:    logger.With(slog.String("component", "backup")),
	}
}

// Dir returns the snapshot directory.
func (s *Service) Dir() string {
	return s.dir
}

// Backup writes a new snapshot and returns its description.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	now := time.Now().UTC()
	filename := filePrefix + now.Format(stampFmt) + fileSuffix
	dest := filepath.Join(s.dir, filename)

	s.logger.Debug("starting backup", slog.String("dest", dest))

	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return nil, fmt.Errorf("VACUUM INTO: %w", err)
	}

	fi, err := os.Stat(dest)
	if err != nil {
		return nil, fmt.Errorf("stat backup file: %w", err)
	}

	s.logger.Info("backup complete",
		slog.String("filename", filename),
		slog.Int64("size", fi.Size()))

	return &Info{Filename: filename, Size: fi.Size(), CreatedAt: now}, nil
}

// List returns all snapshots, newest first. A missing directory is empty.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() || !filePattern.MatchString(entry.Name()) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}

		stamp := strings.TrimSuffix(strings.TrimPrefix(entry.Name(), filePrefix), fileSuffix)
		ts, err := time.Parse(stampFmt, stamp)
		if err != nil {
			ts = fi.ModTime()
		}

		out = append(out, Info{Filename: entry.Name(), Size: fi.Size(), CreatedAt: ts})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Prune deletes the snapshots beyond the retention count and reports how
// many were removed.
func (s *Service) Prune() (int, error) {
	snapshots, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= s.retention {
		return 0, nil
	}

	removed := 0
	for _, b := range snapshots[s.retention:] {
		if err := os.Remove(filepath.Join(s.dir, b.Filename)); err != nil {
			s.logger.Warn("failed to remove old backup",
				slog.String("filename", b.Filename),
				slog.Any("error", err))
			continue
		}
		removed++
		s.logger.Info("pruned old backup", slog.String("filename", b.Filename))
	}
	return removed, nil
}

// IsValidFilename reports whether filename looks like a snapshot and has no
// path components.
func IsValidFilename(filename string) bool {
	if strings.ContainsAny(filename, `/\`) || strings.Contains(filename, "..") {
		return false
	}
	return filePattern.MatchString(filename)
}
