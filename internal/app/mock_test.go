package app

import (
	"context"

	"github.com/stretchr/testify/mock"

	"termchat/internal/chat"
	"termchat/internal/user"
)

type APIMock struct {
	mock.Mock
}

func (m *APIMock) GetChats(ctx context.Context) ([]chat.ChatRecord, error) {
	args := m.Called(ctx)
	var records []chat.ChatRecord
	if val := args.Get(0); val != nil {
		records = val.([]chat.ChatRecord)
	}
	return records, args.Error(1)
}

func (m *APIMock) GetChat(ctx context.Context, id int) (chat.ChatRecord, error) {
	args := m.Called(ctx, id)
	var record chat.ChatRecord
	if val := args.Get(0); val != nil {
		record = val.(chat.ChatRecord)
	}
	return record, args.Error(1)
}

func (m *APIMock) SearchChats(ctx context.Context, name string) ([]chat.ChatRecord, error) {
	args := m.Called(ctx, name)
	var records []chat.ChatRecord
	if val := args.Get(0); val != nil {
		records = val.([]chat.ChatRecord)
	}
	return records, args.Error(1)
}

func (m *APIMock) SearchUsers(ctx context.Context, username string) ([]user.User, error) {
	args := m.Called(ctx, username)
	var users []user.User
	if val := args.Get(0); val != nil {
		users = val.([]user.User)
	}
	return users, args.Error(1)
}

func (m *APIMock) BatchQueryUsers(ctx context.Context, ids []string) ([]user.User, error) {
	args := m.Called(ctx, ids)
	var users []user.User
	if val := args.Get(0); val != nil {
		users = val.([]user.User)
	}
	return users, args.Error(1)
}

func (m *APIMock) CreateChat(ctx context.Context, newChat chat.NewChatRecord) (chat.ChatRecord, error) {
	args := m.Called(ctx, newChat)
	var record chat.ChatRecord
	if val := args.Get(0); val != nil {
		record = val.(chat.ChatRecord)
	}
	return record, args.Error(1)
}

func (m *APIMock) MarkChatAsRead(ctx context.Context, id int) error {
	return m.Called(ctx, id).Error(0)
}

func (m *APIMock) SendMessage(msg chat.OutgoingMessage) error {
	return m.Called(msg).Error(0)
}

func (m *APIMock) ReceiveMessage() (chat.MessageRecord, bool, error) {
	args := m.Called()
	var record chat.MessageRecord
	if val := args.Get(0); val != nil {
		record = val.(chat.MessageRecord)
	}
	return record, args.Bool(1), args.Error(2)
}

type ConnectorMock struct {
	mock.Mock
}

func (m *ConnectorMock) ConnectMessageStream(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
