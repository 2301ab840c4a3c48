// Package credentials persists the chat session between runs.
package credentials

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"termchat/internal/session"
	"termchat/internal/user"
)

// FileStore keeps the token pair and user identity in one YAML file,
// readable only by its owner.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ session.CredentialStore = (*FileStore)(nil)

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

// Load returns nil, nil when no credentials were saved.
func (s *FileStore) Load() (*session.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Save(tokens session.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.read()
	if err != nil {
		return err
	}
	if creds == nil {
		creds = &session.Credentials{}
	}
	creds.Tokens = tokens
	return s.write(creds)
}

func (s *FileStore) SaveUser(u user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.read()
	if err != nil {
		return err
	}
	if creds == nil {
		creds = &session.Credentials{}
	}
	creds.User = u
	return s.write(creds)
}

// Delete removes the file. A missing file is not an error.
func (s *FileStore) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove credentials %s: %w", s.path, err)
	}
	return nil
}

func (s *FileStore) read() (*session.Credentials, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials %s: %w", s.path, err)
	}

	var creds session.Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials %s: %w", s.path, err)
	}
	return &creds, nil
}

// write replaces the file atomically through a temp file in the same dir.
func (s *FileStore) write(creds *session.Credentials) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials dir: %w", err)
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to create temp credentials: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod credentials: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	return nil
}
