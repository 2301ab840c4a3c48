package chat

import (
	"strconv"

	"termchat/internal/user"
)

// ---------------------------------------------
// 🛰️ Wire Models (HTTP + websocket)
// ---------------------------------------------

// ChatRecord is a chat as the server returns it. ID is nil only for a chat
// that has not been created yet.
type ChatRecord struct {
	ID        *int            `json:"id,omitempty"`
	Name      *string         `json:"name,omitempty"`
	MemberIDs []string        `json:"member_ids"`
	Messages  []MessageRecord `json:"messages"`
}

type MessageRecord struct {
	ChatID    int     `json:"chat_id"`
	SenderID  string  `json:"sender_id"`
	Text      string  `json:"text"`
	CreatedAt float64 `json:"created_at"` // epoch seconds
	IsRead    bool    `json:"is_read"`
}

// NewChatRecord is the POST /chats body.
type NewChatRecord struct {
	Name         *string  `json:"name,omitempty"`
	MemberIDs    []string `json:"member_ids"`
	FirstMessage string   `json:"first_message,omitempty"`
}

// OutgoingMessage is the frame the client writes to the stream. The server
// stamps the sender and timestamp and echoes it back as a MessageRecord.
type OutgoingMessage struct {
	ChatID int    `json:"chat_id"`
	Text   string `json:"text"`
}

type ListResponse struct {
	Chats []ChatRecord `json:"chats"`
}

// ---------------------------------------------
// 🖥️ UI Models
// ---------------------------------------------

// Chat is the enriched, display-ready form of a ChatRecord.
type Chat struct {
	InternalID  string
	ID          *int
	Name        string
	Members     []user.User
	LastMessage *Message
	UnreadCount uint
}

type Message struct {
	ChatID         int
	SenderID       string
	SenderUsername string
	Text           string
	CreatedAt      float64
	IsRead         bool
}

// InternalID is the stable key of a chat that exists on the server.
func InternalID(id int) string {
	return strconv.Itoa(id)
}

// MemberIDs reports the ids of the chat members in order.
func (c Chat) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

// Created reports whether the chat exists on the server.
func (c Chat) Created() bool {
	return c.ID != nil
}
