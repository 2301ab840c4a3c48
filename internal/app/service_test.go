package app

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"termchat/internal/chat"
	"termchat/internal/session"
	"termchat/internal/user"
)

var (
	me    = user.User{ID: "u-me", Username: "me"}
	alice = user.User{ID: "u-alice", Username: "alice"}
	bob   = user.User{ID: "u-bob", Username: "bob"}
	carol = user.User{ID: "u-carol", Username: "carol"}
)

func intPtr(i int) *int { return &i }

func directWithAlice() chat.ChatRecord {
	return chat.ChatRecord{
		ID:        intPtr(1),
		MemberIDs: []string{"u-me", "u-alice"},
		Messages: []chat.MessageRecord{
			{ChatID: 1, SenderID: "u-me", Text: "hey", CreatedAt: 10, IsRead: true},
			{ChatID: 1, SenderID: "u-alice", Text: "hi!", CreatedAt: 11},
		},
	}
}

func groupWithBob() chat.ChatRecord {
	name := "team"
	return chat.ChatRecord{
		ID:        intPtr(2),
		Name:      &name,
		MemberIDs: []string{"u-bob", "u-me"},
	}
}

// loadedService returns a service whose manager holds chats 1 and 2.
func loadedService(t *testing.T) (*Service, *APIMock) {
	t.Helper()
	api := new(APIMock)
	api.On("GetChats", mock.Anything).Return([]chat.ChatRecord{directWithAlice(), groupWithBob()}, nil).Once()
	api.On("BatchQueryUsers", mock.Anything, []string{"u-alice", "u-bob"}).Return([]user.User{alice, bob}, nil).Once()

	svc := NewService(api, me, nil)
	require.NoError(t, svc.LoadChats(t.Context()))
	return svc, api
}

func internalIDs(chats []chat.Chat) []string {
	out := make([]string, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.InternalID)
	}
	return out
}

func TestLoadChatsCountsUnreadOnce(t *testing.T) {
	svc, api := loadedService(t)
	api.AssertExpectations(t)

	chats := svc.Chats()
	assert.Equal(t, []string{"1", "2"}, internalIDs(chats.ActiveChats()))
	assert.Equal(t, uint(1), chats.Chat("1").UnreadCount)
	assert.Equal(t, uint(0), chats.Chat("2").UnreadCount)
	assert.Equal(t, "alice", chats.Chat("1").Name)
	assert.Len(t, chats.Messages("1"), 2)
	assert.Empty(t, chats.Messages("2"))
}

func TestLoadChatsError(t *testing.T) {
	api := new(APIMock)
	api.On("GetChats", mock.Anything).Return(nil, session.ErrUnauthenticated)

	svc := NewService(api, me, nil)
	err := svc.LoadChats(t.Context())
	assert.ErrorIs(t, err, session.ErrUnauthenticated)
	assert.Empty(t, svc.Chats().ActiveChats())
}

func TestSearchReusesExistingChats(t *testing.T) {
	svc, api := loadedService(t)
	api.On("SearchChats", mock.Anything, "a").Return([]chat.ChatRecord{directWithAlice()}, nil).Once()
	api.On("SearchUsers", mock.Anything, "a").Return([]user.User{alice, me, carol}, nil).Once()

	require.NoError(t, svc.Search(t.Context(), " a "))
	api.AssertExpectations(t)

	chats := svc.Chats()
	require.True(t, chats.Searching())
	results := chats.ActiveChats()
	require.Len(t, results, 2)

	assert.Equal(t, "1", results[0].InternalID)
	assert.Equal(t, uint(1), results[0].UnreadCount)

	assert.False(t, results[1].Created())
	assert.Equal(t, "carol", results[1].Name)
	assert.Equal(t, []string{"u-me", "u-carol"}, results[1].MemberIDs())

	// The primary list is untouched by a search.
	assert.False(t, chats.HasChat(results[1].InternalID))
}

func TestSearchFetchesUnknownMembers(t *testing.T) {
	svc, api := loadedService(t)
	name := "book club"
	remote := chat.ChatRecord{ID: intPtr(5), Name: &name, MemberIDs: []string{"u-carol", "u-bob"}}
	api.On("SearchChats", mock.Anything, "book").Return([]chat.ChatRecord{remote}, nil).Once()
	api.On("SearchUsers", mock.Anything, "book").Return(nil, nil).Once()
	api.On("BatchQueryUsers", mock.Anything, []string{"u-carol"}).Return([]user.User{carol}, nil).Once()

	require.NoError(t, svc.Search(t.Context(), "book"))
	api.AssertExpectations(t)

	results := svc.Chats().ActiveChats()
	require.Len(t, results, 1)
	assert.Equal(t, "5", results[0].InternalID)
	assert.Equal(t, "book club", results[0].Name)
}

func TestEmptySearchClearsOverlay(t *testing.T) {
	svc, api := loadedService(t)
	api.On("SearchChats", mock.Anything, "team").Return([]chat.ChatRecord{groupWithBob()}, nil).Once()
	api.On("SearchUsers", mock.Anything, "team").Return(nil, nil).Once()

	require.NoError(t, svc.Search(t.Context(), "team"))
	require.True(t, svc.Chats().Searching())

	require.NoError(t, svc.Search(t.Context(), "   "))
	assert.False(t, svc.Chats().Searching())
	api.AssertExpectations(t)
}

func TestOpenLeavesSearchAndMarksRead(t *testing.T) {
	svc, api := loadedService(t)
	api.On("SearchChats", mock.Anything, "alice").Return(nil, nil).Once()
	api.On("SearchUsers", mock.Anything, "alice").Return([]user.User{alice}, nil).Once()
	api.On("MarkChatAsRead", mock.Anything, 1).Return(errors.New("boom")).Once()

	require.NoError(t, svc.Search(t.Context(), "alice"))
	require.Equal(t, []string{"1"}, internalIDs(svc.Chats().ActiveChats()))

	// A failed mark-read is logged, not returned.
	require.NoError(t, svc.Open(t.Context(), "1"))
	api.AssertExpectations(t)

	chats := svc.Chats()
	assert.False(t, chats.Searching())
	loaded, ok := chats.LoadedChat()
	require.True(t, ok)
	assert.Equal(t, "1", loaded.InternalID)
	assert.Equal(t, uint(0), chats.Chat("1").UnreadCount)
}

func TestOpenAdoptsChatFromSearch(t *testing.T) {
	svc, api := loadedService(t)
	name := "book club"
	remote := chat.ChatRecord{
		ID:        intPtr(5),
		Name:      &name,
		MemberIDs: []string{"u-bob", "u-me"},
		Messages:  []chat.MessageRecord{{ChatID: 5, SenderID: "u-bob", Text: "chapter 3?", CreatedAt: 50}},
	}
	api.On("SearchChats", mock.Anything, "book").Return([]chat.ChatRecord{remote}, nil).Once()
	api.On("SearchUsers", mock.Anything, "book").Return(nil, nil).Once()
	api.On("GetChat", mock.Anything, 5).Return(remote, nil).Once()
	api.On("MarkChatAsRead", mock.Anything, 5).Return(nil).Once()

	require.NoError(t, svc.Search(t.Context(), "book"))
	require.NoError(t, svc.Open(t.Context(), "5"))
	api.AssertExpectations(t)

	chats := svc.Chats()
	assert.False(t, chats.Searching())
	assert.Equal(t, []string{"5", "1", "2"}, internalIDs(chats.ActiveChats()))
	assert.Equal(t, uint(0), chats.Chat("5").UnreadCount)
	assert.Len(t, chats.Messages("5"), 1)
}

func TestOpenSyntheticChatStaysLocal(t *testing.T) {
	svc, api := loadedService(t)
	api.On("SearchChats", mock.Anything, "carol").Return(nil, nil).Once()
	api.On("SearchUsers", mock.Anything, "carol").Return([]user.User{carol}, nil).Once()

	require.NoError(t, svc.Search(t.Context(), "carol"))
	synthetic := svc.Chats().ActiveChats()[0]

	require.NoError(t, svc.Open(t.Context(), synthetic.InternalID))
	api.AssertExpectations(t)
	api.AssertNotCalled(t, "MarkChatAsRead", mock.Anything, mock.Anything)

	chats := svc.Chats()
	assert.True(t, chats.Searching())
	loaded, ok := chats.LoadedChat()
	require.True(t, ok)
	assert.Equal(t, synthetic.InternalID, loaded.InternalID)
}

func TestSearchAgainUnloadsUncreatedChat(t *testing.T) {
	for _, query := range []string{"", "alice"} {
		t.Run("query="+query, func(t *testing.T) {
			svc, api := loadedService(t)
			api.On("SearchChats", mock.Anything, "carol").Return(nil, nil).Once()
			api.On("SearchUsers", mock.Anything, "carol").Return([]user.User{carol}, nil).Once()
			api.On("SearchChats", mock.Anything, "alice").Return(nil, nil).Maybe()
			api.On("SearchUsers", mock.Anything, "alice").Return([]user.User{alice}, nil).Maybe()

			require.NoError(t, svc.Search(t.Context(), "carol"))
			require.NoError(t, svc.Open(t.Context(), svc.Chats().ActiveChats()[0].InternalID))
			require.NoError(t, svc.Search(t.Context(), query))

			_, ok := svc.Chats().LoadedChat()
			assert.False(t, ok)
			assert.ErrorIs(t, svc.Send(t.Context(), "hello"), ErrNoChatLoaded)
			api.AssertExpectations(t)
			api.AssertNotCalled(t, "CreateChat", mock.Anything, mock.Anything)
		})
	}
}

func TestSearchUserIgnoresGroupWithSameName(t *testing.T) {
	name := "bob"
	group := chat.ChatRecord{ID: intPtr(3), Name: &name, MemberIDs: []string{"u-me", "u-bob", "u-carol"}}
	api := new(APIMock)
	api.On("GetChats", mock.Anything).Return([]chat.ChatRecord{group}, nil).Once()
	api.On("BatchQueryUsers", mock.Anything, []string{"u-bob", "u-carol"}).Return([]user.User{bob, carol}, nil).Once()
	api.On("SearchChats", mock.Anything, "bob").Return(nil, nil).Once()
	api.On("SearchUsers", mock.Anything, "bob").Return([]user.User{bob}, nil).Once()

	svc := NewService(api, me, nil)
	require.NoError(t, svc.LoadChats(t.Context()))
	require.NoError(t, svc.Search(t.Context(), "bob"))
	api.AssertExpectations(t)

	results := svc.Chats().ActiveChats()
	require.Len(t, results, 1)
	assert.False(t, results[0].Created())
	assert.Equal(t, []string{"u-me", "u-bob"}, results[0].MemberIDs())
}

func TestSendCreatesChatOnFirstMessage(t *testing.T) {
	svc, api := loadedService(t)
	api.On("SearchChats", mock.Anything, "carol").Return(nil, nil).Once()
	api.On("SearchUsers", mock.Anything, "carol").Return([]user.User{carol}, nil).Once()
	api.On("CreateChat", mock.Anything, chat.NewChatRecord{
		MemberIDs:    []string{"u-me", "u-carol"},
		FirstMessage: "hello carol",
	}).Return(chat.ChatRecord{ID: intPtr(7), MemberIDs: []string{"u-me", "u-carol"}}, nil).Once()

	require.NoError(t, svc.Search(t.Context(), "carol"))
	require.NoError(t, svc.Open(t.Context(), svc.Chats().ActiveChats()[0].InternalID))

	require.NoError(t, svc.Send(t.Context(), "  hello carol  "))
	api.AssertExpectations(t)

	chats := svc.Chats()
	assert.False(t, chats.Searching())
	require.True(t, chats.HasChat("7"))
	loaded, ok := chats.LoadedChat()
	require.True(t, ok)
	assert.Equal(t, "7", loaded.InternalID)
	assert.Equal(t, "carol", loaded.Name)
}

func TestSendToCreatedChat(t *testing.T) {
	svc, api := loadedService(t)
	api.On("MarkChatAsRead", mock.Anything, 2).Return(nil).Once()
	api.On("SendMessage", chat.OutgoingMessage{ChatID: 2, Text: "ship it"}).Return(nil).Once()

	assert.ErrorIs(t, svc.Send(t.Context(), "ship it"), ErrNoChatLoaded)

	require.NoError(t, svc.Open(t.Context(), "2"))
	assert.ErrorIs(t, svc.Send(t.Context(), " \t "), ErrEmptyMessage)
	require.NoError(t, svc.Send(t.Context(), "ship it"))
	api.AssertExpectations(t)

	// The sent text is not buffered until the server echoes it.
	assert.Empty(t, svc.Chats().Messages("2"))
}

func TestSendFailureIsReturned(t *testing.T) {
	svc, api := loadedService(t)
	api.On("MarkChatAsRead", mock.Anything, 2).Return(nil).Once()
	api.On("SendMessage", mock.Anything).Return(&session.Error{Kind: session.KindTransport, Message: "not connected"}).Once()

	require.NoError(t, svc.Open(t.Context(), "2"))
	err := svc.Send(t.Context(), "x")
	assert.Equal(t, session.KindTransport, session.KindOf(err))
}

func TestPollNothingQueued(t *testing.T) {
	svc, api := loadedService(t)
	api.On("ReceiveMessage").Return(nil, false, nil).Once()

	applied, err := svc.Poll(t.Context())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPollStreamClosed(t *testing.T) {
	svc, api := loadedService(t)
	api.On("ReceiveMessage").Return(nil, false, session.ErrStreamClosed).Once()

	applied, err := svc.Poll(t.Context())
	assert.ErrorIs(t, err, session.ErrStreamClosed)
	assert.False(t, applied)
}

func TestPollReordersAndCountsUnread(t *testing.T) {
	svc, api := loadedService(t)
	api.On("ReceiveMessage").Return(chat.MessageRecord{ChatID: 2, SenderID: "u-bob", Text: "standup?", CreatedAt: 20}, true, nil).Once()

	applied, err := svc.Poll(t.Context())
	require.NoError(t, err)
	assert.True(t, applied)

	chats := svc.Chats()
	assert.Equal(t, []string{"2", "1"}, internalIDs(chats.ActiveChats()))
	assert.Equal(t, uint(1), chats.Chat("2").UnreadCount)
	assert.Equal(t, "bob", chats.Chat("2").LastMessage.SenderUsername)
}

func TestPollMarksLoadedChatRead(t *testing.T) {
	svc, api := loadedService(t)
	api.On("MarkChatAsRead", mock.Anything, 1).Return(nil).Twice()
	api.On("ReceiveMessage").Return(chat.MessageRecord{ChatID: 1, SenderID: "u-alice", Text: "still there?", CreatedAt: 30}, true, nil).Once()

	require.NoError(t, svc.Open(t.Context(), "1"))
	_, err := svc.Poll(t.Context())
	require.NoError(t, err)
	api.AssertExpectations(t)

	assert.Equal(t, uint(0), svc.Chats().Chat("1").UnreadCount)
	assert.Len(t, svc.Chats().Messages("1"), 3)
}

func TestPollOwnEchoDoesNotMarkRead(t *testing.T) {
	svc, api := loadedService(t)
	api.On("MarkChatAsRead", mock.Anything, 1).Return(nil).Once()
	api.On("ReceiveMessage").Return(chat.MessageRecord{ChatID: 1, SenderID: "u-me", Text: "mine", CreatedAt: 30, IsRead: true}, true, nil).Once()

	require.NoError(t, svc.Open(t.Context(), "1"))
	_, err := svc.Poll(t.Context())
	require.NoError(t, err)
	api.AssertExpectations(t)
	api.AssertNumberOfCalls(t, "MarkChatAsRead", 1)
}

func TestPollUnknownChatFetchesIt(t *testing.T) {
	api := new(APIMock)
	live := chat.MessageRecord{ChatID: 9, SenderID: "u-bob", Text: "yo", CreatedAt: 30}
	api.On("ReceiveMessage").Return(live, true, nil).Once()
	api.On("GetChat", mock.Anything, 9).Return(chat.ChatRecord{
		ID:        intPtr(9),
		MemberIDs: []string{"u-bob", "u-me"},
		Messages: []chat.MessageRecord{
			{ChatID: 9, SenderID: "u-bob", Text: "earlier", CreatedAt: 5, IsRead: true},
			live,
		},
	}, nil).Once()
	api.On("BatchQueryUsers", mock.Anything, []string{"u-bob"}).Return([]user.User{bob}, nil).Once()

	svc := NewService(api, me, nil)
	applied, err := svc.Poll(t.Context())
	require.NoError(t, err)
	assert.True(t, applied)
	api.AssertExpectations(t)

	chats := svc.Chats()
	require.True(t, chats.HasChat("9"))
	c := chats.Chat("9")
	assert.Equal(t, "bob", c.Name)
	assert.Equal(t, uint(1), c.UnreadCount)

	texts := []string{}
	for _, m := range chats.Messages("9") {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"earlier", "yo"}, texts)
}
