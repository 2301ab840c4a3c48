package server

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"termchat/internal/chat"
	"termchat/internal/user"
)

type memoryChat struct {
	id       int
	name     *string
	members  []string
	messages []chat.MessageRecord
	readAt   map[string]float64
}

func (c *memoryChat) hasMember(id string) bool {
	for _, m := range c.members {
		if m == id {
			return true
		}
	}
	return false
}

// MemoryStore keeps everything in process. It backs the dev server when no
// database is configured, and the tests.
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[string]Account
	byUsername map[string]string
	chats      map[int]*memoryChat
	nextChatID int
	now        func() time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[string]Account),
		byUsername: make(map[string]string),
		chats:      make(map[int]*memoryChat),
		nextChatID: 1,
		now:        time.Now,
	}
}

func (s *MemoryStore) CreateUser(_ context.Context, username, passwordHash string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[username]; ok {
		return Account{}, ErrUsernameTaken
	}
	a := Account{ID: uuid.NewString(), Username: username, PasswordHash: passwordHash}
	s.accounts[a.ID] = a
	s.byUsername[username] = a.ID
	return a, nil
}

func (s *MemoryStore) UserByUsername(_ context.Context, username string) (Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return Account{}, ErrNotFound
	}
	return s.accounts[id], nil
}

func (s *MemoryStore) UsersByIDs(_ context.Context, ids []string) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]user.User, 0, len(ids))
	for _, id := range ids {
		if a, ok := s.accounts[id]; ok {
			users = append(users, a.User())
		}
	}
	return users, nil
}

func (s *MemoryStore) SearchUsers(_ context.Context, query string) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	users := []user.User{}
	for _, a := range s.accounts {
		if strings.Contains(strings.ToLower(a.Username), q) {
			users = append(users, a.User())
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	if len(users) > searchLimit {
		users = users[:searchLimit]
	}
	return users, nil
}

func (s *MemoryStore) ChatsFor(_ context.Context, viewerID, name string) ([]chat.ChatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(name)
	records := []chat.ChatRecord{}
	for _, c := range s.chats {
		if !c.hasMember(viewerID) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(s.displayName(c, viewerID)), q) {
			continue
		}
		records = append(records, s.render(c, viewerID))
	}
	sort.Slice(records, func(i, j int) bool { return *records[i].ID < *records[j].ID })
	return records, nil
}

func (s *MemoryStore) Chat(_ context.Context, chatID int, viewerID string) (chat.ChatRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.ChatRecord{}, ErrNotFound
	}
	if !c.hasMember(viewerID) {
		return chat.ChatRecord{}, ErrNotMember
	}
	return s.render(c, viewerID), nil
}

func (s *MemoryStore) DirectChat(_ context.Context, a, b string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.chats {
		if c.name == nil && len(c.members) == 2 && c.hasMember(a) && c.hasMember(b) {
			return c.id, true, nil
		}
	}
	return 0, false, nil
}

func (s *MemoryStore) CreateChat(_ context.Context, name *string, memberIDs []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range memberIDs {
		if _, ok := s.accounts[id]; !ok {
			return 0, ErrNotFound
		}
	}
	c := &memoryChat{
		id:      s.nextChatID,
		name:    name,
		members: append([]string(nil), memberIDs...),
		readAt:  make(map[string]float64),
	}
	s.chats[c.id] = c
	s.nextChatID++
	return c.id, nil
}

func (s *MemoryStore) Members(_ context.Context, chatID int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[chatID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]string(nil), c.members...), nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, chatID int, senderID, text string) (chat.MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return chat.MessageRecord{}, ErrNotFound
	}
	if !c.hasMember(senderID) {
		return chat.MessageRecord{}, ErrNotMember
	}
	m := chat.MessageRecord{
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		CreatedAt: epoch(s.now()),
	}
	c.messages = append(c.messages, m)
	c.readAt[senderID] = m.CreatedAt
	return m, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, chatID int, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	if !c.hasMember(userID) {
		return ErrNotMember
	}
	c.readAt[userID] = epoch(s.now())
	return nil
}

func (s *MemoryStore) displayName(c *memoryChat, viewerID string) string {
	if c.name != nil {
		return *c.name
	}
	for _, id := range c.members {
		if id != viewerID {
			return s.accounts[id].Username
		}
	}
	return ""
}

func (s *MemoryStore) render(c *memoryChat, viewerID string) chat.ChatRecord {
	id := c.id
	record := chat.ChatRecord{
		ID:        &id,
		Name:      c.name,
		MemberIDs: append([]string(nil), c.members...),
		Messages:  make([]chat.MessageRecord, 0, len(c.messages)),
	}
	readAt := c.readAt[viewerID]
	for _, m := range c.messages {
		m.IsRead = m.SenderID == viewerID || m.CreatedAt <= readAt
		record.Messages = append(record.Messages, m)
	}
	return record
}

func epoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}
