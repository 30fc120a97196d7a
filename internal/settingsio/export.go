// Package settingsio moves remote server records between instances as a
// passphrase-encrypted export file.
package settingsio

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/pbkdf2"

	"github.com/sydlexius/smack/internal/connection"
	"github.com/sydlexius/smack/internal/filesystem"
	"github.com/sydlexius/smack/internal/version"
)

// FormatVersion identifies the envelope layout written by Export.
const FormatVersion = "1.0"

// pbkdf2Iterations is the OWASP-recommended iteration count for PBKDF2-SHA256.
var pbkdf2Iterations = 600_000

// ErrEmptyPassphrase is returned when export or import is attempted without a passphrase.
var ErrEmptyPassphrase = errors.New("passphrase is required")

// Envelope is the outer JSON wrapper for an exported settings file.
type Envelope struct {
	Version    string `json:"version"`
	AppVersion string `json:"app_version"`
	CreatedAt  string `json:"created_at"`
	Salt       string `json:"salt"` // base64-encoded PBKDF2 salt
	Data       string `json:"data"` // base64-encoded nonce+ciphertext
}

// Payload is the decrypted inner content of an export.
type Payload struct {
	Servers []ServerExport `json:"servers"`
}

// ServerExport is a remote server record with its API key in the clear.
// Record ids are instance-local and are not exported.
type ServerExport struct {
	Name         string `json:"name"`
	ServerURL    string `json:"server_url"`
	APIKey       string `json:"api_key"`
	RemoteUserID string `json:"remote_user_id"`
}

// ImportResult summarizes what was imported.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ServerRepository is the subset of the remote server store used here.
type ServerRepository interface {
	List(ctx context.Context) ([]connection.Server, error)
	FindByURLAndName(ctx context.Context, serverURL, name string) (*connection.Server, error)
	Create(ctx context.Context, srv *connection.Server) error
	Update(ctx context.Context, srv *connection.Server) error
}

// Service handles settings export and import.
type Service struct {
	servers ServerRepository
}

// NewService creates a settings export/import service.
func NewService(servers ServerRepository) *Service {
	return &Service{servers: servers}
}

// Export collects every remote server record, encrypts the set with the
// given passphrase, and returns an Envelope. The passphrase is stretched
// with PBKDF2 into an AES-256-GCM key, so exports do not depend on the
// instance encryption key.
func (s *Service) Export(ctx context.Context, passphrase string) (*Envelope, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}

	servers, err := s.servers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing servers: %w", err)
	}

	payload := Payload{Servers: make([]ServerExport, 0, len(servers))}
	for _, srv := range servers {
		payload.Servers = append(payload.Servers, ServerExport{
			Name:         srv.Name,
			ServerURL:    srv.ServerURL,
			APIKey:       srv.APIKey,
			RemoteUserID: srv.RemoteUserID,
		})
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	data, salt, err := encryptWithPassphrase(payloadJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	return &Envelope{
		Version:    FormatVersion,
		AppVersion: version.Version,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		Salt:       salt,
		Data:       data,
	}, nil
}

// Import decrypts an Envelope and upserts its records. A record matches an
// existing one when both server URL and name are equal; matches are
// updated in place and keep their id.
func (s *Service) Import(ctx context.Context, env *Envelope, passphrase string) (*ImportResult, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if env.Data == "" {
		return nil, fmt.Errorf("empty export data")
	}
	if env.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported export version %q", env.Version)
	}

	plaintext, err := decryptWithPassphrase(env.Data, env.Salt, passphrase)
	if err != nil {
		return nil, fmt.Errorf("decrypting export data: %w", err)
	}

	var payload Payload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("parsing export payload: %w", err)
	}

	result := &ImportResult{}
	for _, se := range payload.Servers {
		existing, err := s.servers.FindByURLAndName(ctx, se.ServerURL, se.Name)
		if err != nil {
			return nil, fmt.Errorf("looking up server %q: %w", se.Name, err)
		}
		if existing != nil {
			existing.APIKey = se.APIKey
			existing.RemoteUserID = se.RemoteUserID
			if err := s.servers.Update(ctx, existing); err != nil {
				return nil, fmt.Errorf("updating server %q: %w", se.Name, err)
			}
			result.Updated++
			continue
		}

		srv := &connection.Server{
			Name:         se.Name,
			ServerURL:    se.ServerURL,
			APIKey:       se.APIKey,
			RemoteUserID: se.RemoteUserID,
		}
		if err := s.servers.Create(ctx, srv); err != nil {
			return nil, fmt.Errorf("creating server %q: %w", se.Name, err)
		}
		result.Created++
	}

	return result, nil
}

// WriteFile stores env as indented JSON at path, readable only by the owner.
func WriteFile(fs afero.Fs, path string, env *Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	if err := filesystem.WriteFileAtomic(fs, path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadFile loads an Envelope written by WriteFile.
func ReadFile(fs afero.Fs, path string) (*Envelope, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &env, nil
}

// deriveKey uses PBKDF2-SHA256 to derive a 32-byte AES-256 key from a
// passphrase and salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, 32, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// encryptWithPassphrase encrypts plaintext using a passphrase-derived
// AES-256-GCM key. Returns base64-encoded ciphertext and salt.
func encryptWithPassphrase(plaintext []byte, passphrase string) (data, salt string, err error) {
	saltBytes := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, saltBytes); err != nil {
		return "", "", fmt.Errorf("generating salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, saltBytes))
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext),
		base64.StdEncoding.EncodeToString(saltBytes),
		nil
}

// decryptWithPassphrase reverses encryptWithPassphrase.
func decryptWithPassphrase(data, salt, passphrase string) ([]byte, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}

	gcm, err := newGCM(deriveKey(passphrase, saltBytes))
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decoding ciphertext: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting (wrong passphrase?): %w", err)
	}

	return plaintext, nil
}
