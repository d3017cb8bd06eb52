package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var ErrEmptyPassword = errors.New("password must not be empty")

// FileStore holds the server password and persists it to a single file.
// With an empty path the password lives in memory only.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	password string
	logger   zerolog.Logger
}

// Open loads the password from path. When the file does not exist the
// fallback value is used until SetPassword is called.
func Open(path, fallback string, logger zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:     path,
		password: fallback,
		logger:   logger.With().Str("service", "credential").Logger(),
	}
	if path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Debug().Str("path", path).Msg("no stored credential, using configured password")
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read credential file: %w", err)
	}
	s.password = strings.TrimRight(string(raw), "\r\n")
	return s, nil
}

func (s *FileStore) Password() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.password
}

// SetPassword replaces the stored password and writes it to disk.
func (s *FileStore) SetPassword(password string) error {
	if password == "" {
		return ErrEmptyPassword
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := writeFile(s.path, password); err != nil {
			return err
		}
	}
	s.password = password
	s.logger.Info().Msg("password updated")
	return nil
}

func writeFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod credential file: %w", err)
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credential file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
