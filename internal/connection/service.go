package connection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sydlexius/smack/internal/encryption"
)

const serverColumns = `id, name, server_url, encrypted_api_key, remote_user_id, created_at, updated_at`

// Service persists remote server records. API keys are encrypted at rest.
type Service struct {
	db        *sql.DB
	encryptor *encryption.Encryptor
}

// NewService creates a remote server store.
func NewService(db *sql.DB, enc *encryption.Encryptor) *Service {
	return &Service{db: db, encryptor: enc}
}

// NewID returns a fresh record id: 32 lowercase hex characters.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Create inserts a new record, assigning an id when none is set.
func (s *Service) Create(ctx context.Context, srv *Server) error {
	if err := srv.Validate(); err != nil {
		return fmt.Errorf("validating server: %w", err)
	}

	if srv.ID == "" {
		srv.ID = NewID()
	}
	now := time.Now().UTC()
	srv.CreatedAt = now
	srv.UpdatedAt = now

	encKey, err := s.encryptor.Encrypt(srv.APIKey)
	if err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO remote_servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		srv.ID, srv.Name, srv.ServerURL, encKey, srv.RemoteUserID,
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	return nil
}

// GetByID retrieves a record by id, ignoring case, with the API key decrypted.
// NOCASE folds ASCII only; generated ids are lowercase hex.
func (s *Service) GetByID(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+`
		FROM remote_servers WHERE id = ? COLLATE NOCASE
	`, id)
	srv, err := s.scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting server: %w", err)
	}
	return srv, nil
}

// List returns all records ordered by name.
func (s *Service) List(ctx context.Context) ([]Server, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+serverColumns+`
		FROM remote_servers ORDER BY name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var servers []Server
	for rows.Next() {
		srv, err := s.scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}

// FindByURLAndName returns the record with the given server URL and name, or
// nil when there is none.
func (s *Service) FindByURLAndName(ctx context.Context, serverURL, name string) (*Server, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+serverColumns+`
		FROM remote_servers WHERE server_url = ? AND name = ?
		ORDER BY created_at LIMIT 1
	`, serverURL, name)
	srv, err := s.scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding server: %w", err)
	}
	return srv, nil
}

// Update overwrites the mutable fields of an existing record. The id is only
// used for lookup and never rewritten.
func (s *Service) Update(ctx context.Context, srv *Server) error {
	if err := srv.Validate(); err != nil {
		return fmt.Errorf("validating server: %w", err)
	}
	srv.UpdatedAt = time.Now().UTC()

	encKey, err := s.encryptor.Encrypt(srv.APIKey)
	if err != nil {
		return fmt.Errorf("encrypting api key: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE remote_servers SET
			name = ?, server_url = ?, encrypted_api_key = ?, remote_user_id = ?, updated_at = ?
		WHERE id = ? COLLATE NOCASE
	`,
		srv.Name, srv.ServerURL, encKey, srv.RemoteUserID,
		srv.UpdatedAt.Format(time.RFC3339),
		srv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating server: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, srv.ID)
	}
	return nil
}

// Delete removes a record by id.
func (s *Service) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM remote_servers WHERE id = ? COLLATE NOCASE`, id)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ClearCredentials blanks every stored API key, leaving all records
// unconfigured. Used when the encryption key has been lost.
func (s *Service) ClearCredentials(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx,
		`UPDATE remote_servers SET encrypted_api_key = '', updated_at = ? WHERE encrypted_api_key <> ''`, now)
	if err != nil {
		return 0, fmt.Errorf("clearing api keys: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *Service) scanServer(row interface{ Scan(...any) error }) (*Server, error) {
	var srv Server
	var encKey string
	var createdAt, updatedAt string

	err := row.Scan(
		&srv.ID, &srv.Name, &srv.ServerURL, &encKey, &srv.RemoteUserID,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	apiKey, err := s.encryptor.Decrypt(encKey)
	if err != nil {
		return nil, fmt.Errorf("decrypting api key for server %s: %w", srv.ID, err)
	}
	srv.APIKey = apiKey
	srv.CreatedAt = parseTime(createdAt)
	srv.UpdatedAt = parseTime(updatedAt)

	return &srv, nil
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
