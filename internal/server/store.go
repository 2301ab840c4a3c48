package server

import (
	"context"
	"errors"

	"termchat/internal/chat"
	"termchat/internal/user"
)

// searchLimit caps user search results.
const searchLimit = 10

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already taken")
	ErrNotMember     = errors.New("not a member of this chat")
)

// Account is a user as the backend stores it.
type Account struct {
	ID           string
	Username     string
	PasswordHash string
}

func (a Account) User() user.User {
	return user.User{ID: a.ID, Username: a.Username}
}

// Store is the persistence the backend needs. Chat records are always
// rendered for a viewer: a message is read for the viewer when the viewer
// sent it or read the chat after it was sent.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (Account, error)
	UserByUsername(ctx context.Context, username string) (Account, error)
	UsersByIDs(ctx context.Context, ids []string) ([]user.User, error)
	SearchUsers(ctx context.Context, query string) ([]user.User, error)

	// ChatsFor lists the viewer's chats; a non-empty name filters on the chat
	// name, or the other member's username for direct chats.
	ChatsFor(ctx context.Context, viewerID, name string) ([]chat.ChatRecord, error)
	Chat(ctx context.Context, chatID int, viewerID string) (chat.ChatRecord, error)
	// DirectChat finds the unnamed chat between exactly a and b.
	DirectChat(ctx context.Context, a, b string) (int, bool, error)
	CreateChat(ctx context.Context, name *string, memberIDs []string) (int, error)
	Members(ctx context.Context, chatID int) ([]string, error)

	SaveMessage(ctx context.Context, chatID int, senderID, text string) (chat.MessageRecord, error)
	MarkRead(ctx context.Context, chatID int, userID string) error
}
