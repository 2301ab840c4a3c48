// Package app ties the session client, the chat builder and the chat
// manager together behind the operations the terminal UI drives.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"termchat/internal/chat"
	"termchat/internal/user"
)

var (
	ErrNoChatLoaded = errors.New("no chat is open")
	ErrEmptyMessage = errors.New("message is empty")
)

// API is the part of the session client the service calls.
type API interface {
	GetChats(ctx context.Context) ([]chat.ChatRecord, error)
	GetChat(ctx context.Context, id int) (chat.ChatRecord, error)
	SearchChats(ctx context.Context, name string) ([]chat.ChatRecord, error)
	SearchUsers(ctx context.Context, username string) ([]user.User, error)
	BatchQueryUsers(ctx context.Context, ids []string) ([]user.User, error)
	CreateChat(ctx context.Context, newChat chat.NewChatRecord) (chat.ChatRecord, error)
	MarkChatAsRead(ctx context.Context, id int) error
	SendMessage(msg chat.OutgoingMessage) error
	ReceiveMessage() (chat.MessageRecord, bool, error)
}

// Service is owned by the event loop, like the Manager it wraps.
type Service struct {
	api       API
	current   user.User
	directory *user.Directory
	builder   *chat.Builder
	chats     *chat.Manager
	log       *zap.Logger
}

func NewService(api API, current user.User, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := user.NewDirectory(current)
	return &Service{
		api:       api,
		current:   current,
		directory: dir,
		builder:   chat.NewBuilder(dir, current),
		chats:     chat.NewManager(),
		log:       logger.Named("app"),
	}
}

func (s *Service) Chats() *chat.Manager { return s.chats }

func (s *Service) CurrentUser() user.User { return s.current }

// LoadChats fetches the chat list with its history into the manager.
func (s *Service) LoadChats(ctx context.Context) error {
	records, err := s.api.GetChats(ctx)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	if err := s.ensureUsers(ctx, records); err != nil {
		return err
	}

	chats := s.builder.BuildChats(records)
	// AddMessages counts unread entries itself; start from zero so history
	// is not counted twice.
	for i := range chats {
		chats[i].UnreadCount = 0
	}
	s.chats.AddChats(chats)
	s.chats.AddMessages(s.history(records, nil))

	s.log.Info("chats loaded", zap.Int("count", len(chats)))
	return nil
}

// Search fills the overlay with the chats matching query followed by
// direct chats with matching users. A user who already has a direct chat
// maps to that chat; the rest get a not-yet-created chat. An empty query
// clears the overlay.
func (s *Service) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		s.chats.ClearSearchResults()
		return nil
	}

	records, err := s.api.SearchChats(ctx, query)
	if err != nil {
		return fmt.Errorf("search chats: %w", err)
	}
	users, err := s.api.SearchUsers(ctx, query)
	if err != nil {
		return fmt.Errorf("search users: %w", err)
	}
	if err := s.ensureUsers(ctx, records); err != nil {
		return err
	}

	var results []chat.Chat
	seen := make(map[string]struct{})
	add := func(c chat.Chat) {
		if _, ok := seen[c.InternalID]; ok {
			return
		}
		seen[c.InternalID] = struct{}{}
		results = append(results, c)
	}

	for _, r := range records {
		if r.ID != nil && s.chats.HasChat(chat.InternalID(*r.ID)) {
			add(s.chats.Chat(chat.InternalID(*r.ID)))
			continue
		}
		add(s.builder.BuildChat(r))
	}
	for _, u := range users {
		if u.ID == s.current.ID {
			continue
		}
		if existing, ok := s.chats.DirectChatWith(u); ok {
			add(existing)
			continue
		}
		add(s.builder.NewChatWith(u))
	}

	s.chats.SetSearchResults(results)
	s.log.Debug("search done", zap.String("query", query), zap.Int("results", len(results)))
	return nil
}

// Open makes the chat with internalID the loaded one. Opening a chat that
// exists on the server leaves search mode and marks the chat read.
func (s *Service) Open(ctx context.Context, internalID string) error {
	var target chat.Chat
	if s.chats.Searching() {
		for _, c := range s.chats.ActiveChats() {
			if c.InternalID == internalID {
				target = c
				break
			}
		}
	}
	if target.InternalID == "" {
		target = s.chats.Chat(internalID)
	}

	if !target.Created() {
		s.chats.LoadChat(internalID)
		return nil
	}

	if !s.chats.HasChat(internalID) {
		record, err := s.api.GetChat(ctx, *target.ID)
		if err != nil {
			return fmt.Errorf("fetch chat %d: %w", *target.ID, err)
		}
		if err := s.adopt(ctx, record, nil); err != nil {
			return err
		}
	}
	s.chats.ClearSearchResults()
	s.chats.LoadChat(internalID)

	if err := s.api.MarkChatAsRead(ctx, *target.ID); err != nil {
		s.log.Warn("mark chat as read failed", zap.Int("chat_id", *target.ID), zap.Error(err))
	}
	return nil
}

// Send posts text to the loaded chat. The first message to a chat from
// search creates it on the server. Sent messages come back through the
// stream and land in the buffer via Poll.
func (s *Service) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	loaded, ok := s.chats.LoadedChat()
	if !ok {
		return ErrNoChatLoaded
	}

	if loaded.Created() {
		if err := s.api.SendMessage(chat.OutgoingMessage{ChatID: *loaded.ID, Text: text}); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
		return nil
	}

	record, err := s.api.CreateChat(ctx, chat.NewChatRecord{
		MemberIDs:    loaded.MemberIDs(),
		FirstMessage: text,
	})
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	if err := s.ensureUsers(ctx, []chat.ChatRecord{record}); err != nil {
		return err
	}

	created := s.builder.BuildChat(record)
	created.UnreadCount = 0
	s.chats.AddChat(created)
	s.chats.ClearSearchResults()
	s.chats.LoadChat(created.InternalID)

	s.log.Info("chat created", zap.Int("chat_id", *record.ID), zap.String("name", created.Name))
	return nil
}

// Poll applies at most one inbound message. It reports whether one was
// applied. A message for a chat not yet listed pulls that chat first.
func (s *Service) Poll(ctx context.Context) (bool, error) {
	record, ok, err := s.api.ReceiveMessage()
	if err != nil || !ok {
		return false, err
	}

	if !s.chats.HasChat(chat.InternalID(record.ChatID)) {
		fetched, err := s.api.GetChat(ctx, record.ChatID)
		if err != nil {
			return false, fmt.Errorf("fetch chat %d: %w", record.ChatID, err)
		}
		if err := s.adopt(ctx, fetched, &record); err != nil {
			return false, err
		}
	}

	if _, known := s.directory.Lookup(record.SenderID); !known {
		if err := s.fetchUsers(ctx, []string{record.SenderID}); err != nil {
			return false, err
		}
	}
	s.chats.AddMessage(s.builder.BuildMessage(record))

	if loaded, ok := s.chats.LoadedChat(); ok && loaded.InternalID == chat.InternalID(record.ChatID) && !record.IsRead {
		if err := s.api.MarkChatAsRead(ctx, record.ChatID); err != nil {
			s.log.Warn("mark chat as read failed", zap.Int("chat_id", record.ChatID), zap.Error(err))
		}
	}
	return true, nil
}

// adopt adds a fetched chat with its history. skip, when given, is left out
// of the history because the caller applies it as a live message.
func (s *Service) adopt(ctx context.Context, record chat.ChatRecord, skip *chat.MessageRecord) error {
	if err := s.ensureUsers(ctx, []chat.ChatRecord{record}); err != nil {
		return err
	}
	c := s.builder.BuildChat(record)
	c.UnreadCount = 0
	s.chats.AddChat(c)
	s.chats.AddMessages(s.history([]chat.ChatRecord{record}, skip))
	return nil
}

func (s *Service) history(records []chat.ChatRecord, skip *chat.MessageRecord) map[int][]chat.Message {
	batches := make(map[int][]chat.Message, len(records))
	for _, r := range records {
		if r.ID == nil {
			continue
		}
		batch := make([]chat.Message, 0, len(r.Messages))
		for _, m := range r.Messages {
			if skip != nil && m == *skip {
				continue
			}
			batch = append(batch, s.builder.BuildMessage(m))
		}
		batches[*r.ID] = batch
	}
	return batches
}

// ensureUsers batch-fetches every member and sender not yet in the directory.
func (s *Service) ensureUsers(ctx context.Context, records []chat.ChatRecord) error {
	var ids []string
	for _, r := range records {
		ids = append(ids, r.MemberIDs...)
		for _, m := range r.Messages {
			ids = append(ids, m.SenderID)
		}
	}
	return s.fetchUsers(ctx, ids)
}

func (s *Service) fetchUsers(ctx context.Context, ids []string) error {
	missing := s.directory.Missing(ids)
	if len(missing) == 0 {
		return nil
	}
	users, err := s.api.BatchQueryUsers(ctx, missing)
	if err != nil {
		return fmt.Errorf("query users: %w", err)
	}
	s.directory.AddUsers(users...)
	return nil
}
