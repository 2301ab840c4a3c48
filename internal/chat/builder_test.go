package chat

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termchat/internal/user"
)

var (
	me    = user.User{ID: "u-me", Username: "me"}
	alice = user.User{ID: "u-alice", Username: "alice"}
	bob   = user.User{ID: "u-bob", Username: "bob"}
)

func strPtr(s string) *string { return &s }

func newTestBuilder() *Builder {
	return NewBuilder(user.NewDirectory(me, alice, bob), me)
}

func TestBuildChatMembersRoundTrip(t *testing.T) {
	b := newTestBuilder()
	record := ChatRecord{ID: intPtr(4), Name: strPtr("team"), MemberIDs: []string{"u-bob", "u-me", "u-alice"}}

	c := b.BuildChat(record)

	if diff := cmp.Diff(record.MemberIDs, c.MemberIDs()); diff != "" {
		t.Errorf("member ids mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "4", c.InternalID)
	assert.Equal(t, "team", c.Name)
}

func TestBuildChatDirectName(t *testing.T) {
	b := newTestBuilder()

	c := b.BuildChat(ChatRecord{ID: intPtr(1), MemberIDs: []string{"u-me", "u-alice"}})
	assert.Equal(t, "alice", c.Name)

	c = b.BuildChat(ChatRecord{ID: intPtr(2), MemberIDs: []string{"u-bob", "u-me"}})
	assert.Equal(t, "bob", c.Name)
}

func TestBuildChatUnnamedGroupPanics(t *testing.T) {
	b := newTestBuilder()
	assert.Panics(t, func() {
		b.BuildChat(ChatRecord{ID: intPtr(1), MemberIDs: []string{"u-me", "u-alice", "u-bob"}})
	})
}

func TestBuildChatUnknownMemberPanics(t *testing.T) {
	b := newTestBuilder()
	assert.Panics(t, func() {
		b.BuildChat(ChatRecord{ID: intPtr(1), MemberIDs: []string{"u-me", "u-ghost"}})
	})
}

func TestBuildChatLastMessageAndUnread(t *testing.T) {
	b := newTestBuilder()
	record := ChatRecord{
		ID:        intPtr(7),
		MemberIDs: []string{"u-me", "u-alice"},
		Messages: []MessageRecord{
			{ChatID: 7, SenderID: "u-alice", Text: "newest", CreatedAt: 30},
			{ChatID: 7, SenderID: "u-me", Text: "oldest", CreatedAt: 10, IsRead: true},
			{ChatID: 7, SenderID: "u-alice", Text: "middle", CreatedAt: 20},
		},
	}

	c := b.BuildChat(record)

	require.NotNil(t, c.LastMessage)
	want := Message{ChatID: 7, SenderID: "u-alice", SenderUsername: "alice", Text: "newest", CreatedAt: 30}
	if diff := cmp.Diff(want, *c.LastMessage); diff != "" {
		t.Errorf("last message mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint(2), c.UnreadCount)
}

func TestBuildChatWithoutMessages(t *testing.T) {
	c := newTestBuilder().BuildChat(ChatRecord{ID: intPtr(3), MemberIDs: []string{"u-me", "u-bob"}})
	assert.Nil(t, c.LastMessage)
	assert.Zero(t, c.UnreadCount)
}

func TestBuildChatWithoutIDGetsRandomInternalID(t *testing.T) {
	b := newTestBuilder()
	record := ChatRecord{MemberIDs: []string{"u-me", "u-bob"}}

	first, second := b.BuildChat(record), b.BuildChat(record)

	assert.False(t, first.Created())
	assert.NotEqual(t, first.InternalID, second.InternalID)
	_, err := uuid.Parse(first.InternalID)
	assert.NoError(t, err)
}

func TestNewChatWith(t *testing.T) {
	dir := user.NewDirectory(me)
	b := NewBuilder(dir, me)
	carol := user.User{ID: "u-carol", Username: "carol"}

	c := b.NewChatWith(carol)

	assert.Equal(t, "carol", c.Name)
	assert.Nil(t, c.ID)
	assert.Equal(t, []string{"u-me", "u-carol"}, c.MemberIDs())
	got, ok := dir.Lookup("u-carol")
	require.True(t, ok)
	assert.Equal(t, carol, got)
}
