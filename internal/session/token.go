package session

import "termchat/internal/user"

// TokenPair is replaced wholesale on login and refresh, never mutated.
type TokenPair struct {
	AccessToken  string `yaml:"access_token"`
	RefreshToken string `yaml:"refresh_token"`
}

// Credentials is what a CredentialStore persists between runs.
type Credentials struct {
	Tokens TokenPair `yaml:"tokens"`
	User   user.User `yaml:"user"`
}

// CredentialStore persists the session. Load returns nil when nothing is stored.
type CredentialStore interface {
	Load() (*Credentials, error)
	Save(tokens TokenPair) error
	SaveUser(u user.User) error
	Delete() error
}
