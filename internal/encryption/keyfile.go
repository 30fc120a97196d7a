package encryption

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/sydlexius/smack/internal/filesystem"
)

// KeyFileName is the name of the key file kept next to the database.
const KeyFileName = "encryption.key"

// ResolveKey picks the encryption key to use. Priority: explicit key (from
// config or SMACK_ENCRYPTION_KEY) > key file in dataDir > newly generated key,
// which is then written to the key file.
func ResolveKey(fs afero.Fs, explicit, dataDir string, logger *slog.Logger) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	keyFile := filepath.Join(dataDir, KeyFileName)

	data, err := afero.ReadFile(fs, keyFile)
	switch {
	case err == nil:
		if key := strings.TrimSpace(string(data)); key != "" {
			logger.Debug("loaded encryption key from file", slog.String("path", keyFile))
			return key, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("reading key file: %w", err)
	}

	_, key, err := NewEncryptor("")
	if err != nil {
		return "", err
	}

	if err := fs.MkdirAll(dataDir, 0o750); err != nil {
		logger.Warn("could not create data directory for encryption key",
			slog.String("path", dataDir), slog.Any("error", err))
		return key, nil
	}
	if err := filesystem.WriteFileAtomic(fs, keyFile, []byte(key+"\n"), 0o600); err != nil {
		logger.Warn("could not save encryption key to file",
			slog.String("path", keyFile), slog.Any("error", err))
		return key, nil
	}

	logger.Warn("generated new encryption key -- back up this file", slog.String("path", keyFile))
	return key, nil
}
