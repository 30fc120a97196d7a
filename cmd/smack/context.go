package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/sydlexius/smack/internal/config"
	"github.com/sydlexius/smack/internal/connection"
	"github.com/sydlexius/smack/internal/database"
	"github.com/sydlexius/smack/internal/encryption"
	"github.com/sydlexius/smack/internal/logging"
)

type commandContext struct {
	configFlag *string
	fs         afero.Fs

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		fs:         afero.NewOsFs(),
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// newLogger builds the logging manager for a command. Log output goes to
// stderr so command output on stdout stays clean.
func (c *commandContext) newLogger(stderr io.Writer) (*logging.Manager, *slog.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, nil, err
	}
	mgr, logger := logging.NewManager(logging.FromConfig(cfg.Logging), logging.WithConsole(stderr))
	return mgr, logger, nil
}

// store is an open configuration database and the server store on top of it.
type store struct {
	db      *sql.DB
	servers *connection.Service
}

func (s *store) Close() error {
	return s.db.Close()
}

// openStore opens and migrates the database and resolves the encryption key.
func (c *commandContext) openStore(logger *slog.Logger) (*store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	key, err := encryption.ResolveKey(c.fs, cfg.Encryption.Key, filepath.Dir(cfg.Database.Path), logger)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("resolving encryption key: %w", err)
	}
	enc, _, err := encryption.NewEncryptor(key)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	return &store{db: db, servers: connection.NewService(db, enc)}, nil
}

// withStore runs fn with a logger and an open store, closing both afterwards.
func (c *commandContext) withStore(stderr io.Writer, fn func(*store, *slog.Logger) error) error {
	mgr, logger, err := c.newLogger(stderr)
	if err != nil {
		return err
	}
	defer mgr.Close() //nolint:errcheck

	st, err := c.openStore(logger)
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck

	return fn(st, logger)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
