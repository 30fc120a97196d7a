package connection

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no remote server matches the requested id.
var ErrNotFound = errors.New("remote server not found")

// Server is a stored connection profile for one remote media server. ServerURL
// and APIKey may be empty; such a record is kept but cannot be browsed.
type Server struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ServerURL    string    `json:"server_url"`
	APIKey       string    `json:"api_key,omitempty"`
	RemoteUserID string    `json:"remote_user_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Configured reports whether both the server URL and API key are set.
func (s *Server) Configured() bool {
	return strings.TrimSpace(s.ServerURL) != "" && strings.TrimSpace(s.APIKey) != ""
}

// Validate checks the fields the store requires. URL syntax is not checked
// here; the remote client rejects unusable URLs at call time.
func (s *Server) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}
