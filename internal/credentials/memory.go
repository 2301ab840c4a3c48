package credentials

import (
	"sync"

	"termchat/internal/session"
	"termchat/internal/user"
)

// Memory keeps credentials for the life of the process. Used by the load
// tester and tests.
type Memory struct {
	mu      sync.Mutex
	creds   *session.Credentials
	deletes int
}

var _ session.CredentialStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load() (*session.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return nil, nil
	}
	c := *m.creds
	return &c, nil
}

func (m *Memory) Save(tokens session.TokenPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		m.creds = &session.Credentials{}
	}
	m.creds.Tokens = tokens
	return nil
}

func (m *Memory) SaveUser(u user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		m.creds = &session.Credentials{}
	}
	m.creds.User = u
	return nil
}

func (m *Memory) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	m.deletes++
	return nil
}

// Deletes counts Delete calls.
func (m *Memory) Deletes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes
}
