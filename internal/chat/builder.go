package chat

import (
	"fmt"

	"github.com/google/uuid"

	"termchat/internal/user"
)

// Builder turns wire records into UI chats. The current user is injected so
// direct-chat names can be resolved without global state.
type Builder struct {
	directory *user.Directory
	current   user.User
}

func NewBuilder(directory *user.Directory, current user.User) *Builder {
	return &Builder{directory: directory, current: current}
}

func (b *Builder) BuildChats(records []ChatRecord) []Chat {
	chats := make([]Chat, 0, len(records))
	for _, r := range records {
		chats = append(chats, b.BuildChat(r))
	}
	return chats
}

// BuildChat resolves members and derives name, last message and unread count.
// Every member id must already be in the directory.
func (b *Builder) BuildChat(record ChatRecord) Chat {
	members := make([]user.User, 0, len(record.MemberIDs))
	for _, id := range record.MemberIDs {
		members = append(members, b.directory.Get(id))
	}

	c := Chat{
		ID:      record.ID,
		Name:    b.chatName(record),
		Members: members,
	}
	if record.ID != nil {
		c.InternalID = InternalID(*record.ID)
	} else {
		c.InternalID = uuid.NewString()
	}

	var last *MessageRecord
	for i := range record.Messages {
		m := &record.Messages[i]
		if last == nil || m.CreatedAt > last.CreatedAt {
			last = m
		}
		if !m.IsRead {
			c.UnreadCount++
		}
	}
	if last != nil {
		msg := b.BuildMessage(*last)
		c.LastMessage = &msg
	}
	return c
}

func (b *Builder) BuildMessage(record MessageRecord) Message {
	return Message{
		ChatID:         record.ChatID,
		SenderID:       record.SenderID,
		SenderUsername: b.directory.Get(record.SenderID).Username,
		Text:           record.Text,
		CreatedAt:      record.CreatedAt,
		IsRead:         record.IsRead,
	}
}

// NewChatWith builds a not-yet-created direct chat with u, keyed by a random
// internal id. It becomes a real chat once its first message is sent.
func (b *Builder) NewChatWith(u user.User) Chat {
	b.directory.AddUsers(u)
	return Chat{
		InternalID: uuid.NewString(),
		Name:       u.Username,
		Members:    []user.User{b.current, u},
	}
}

// chatName returns the explicit name, or for direct chats the username of
// the member that is not the current user. Group chats always carry a name.
func (b *Builder) chatName(record ChatRecord) string {
	if record.Name != nil {
		return *record.Name
	}
	if len(record.MemberIDs) != 2 {
		panic(fmt.Sprintf("unnamed chat must have exactly 2 members, got %d", len(record.MemberIDs)))
	}
	for _, id := range record.MemberIDs {
		if id != b.current.ID {
			return b.directory.Get(id).Username
		}
	}
	panic("unnamed chat has no member other than the current user")
}
