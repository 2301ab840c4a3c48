package chat

import "termchat/internal/user"

// Manager owns the primary chat list, per-chat message buffers, the search
// overlay and the loaded/selected pointers. It is not safe for concurrent
// use; the event loop is its single owner.
type Manager struct {
	chats    *list
	search   *list
	messages map[string][]Message
	loaded   string
}

func NewManager() *Manager {
	return &Manager{
		chats:    newList(true),
		search:   newList(false),
		messages: make(map[string][]Message),
	}
}

func (m *Manager) AddChats(chats []Chat) {
	for _, c := range chats {
		m.ensureBuffer(c.InternalID)
	}
	m.chats.push(chats...)
}

func (m *Manager) AddChat(c Chat) {
	m.ensureBuffer(c.InternalID)
	m.chats.push(c)
}

func (m *Manager) ensureBuffer(id string) {
	if _, ok := m.messages[id]; !ok {
		m.messages[id] = nil
	}
}

// AddMessages appends history batches keyed by server chat id and bumps
// unread counts by the unread entries of each batch. Ordering is untouched.
func (m *Manager) AddMessages(batches map[int][]Message) {
	for chatID, batch := range batches {
		id := InternalID(chatID)
		c := m.chats.get(id)
		for _, msg := range batch {
			if !msg.IsRead {
				c.UnreadCount++
			}
		}
		m.messages[id] = append(m.messages[id], batch...)
	}
}

// AddMessage applies one real-time message: append, promote to last message,
// bump unread unless the chat is the loaded one, re-sort.
func (m *Manager) AddMessage(msg Message) {
	id := InternalID(msg.ChatID)
	c := m.chats.get(id)

	m.messages[id] = append(m.messages[id], msg)
	c.LastMessage = &msg
	if !msg.IsRead && m.loaded != id {
		c.UnreadCount++
	}
	m.chats.reorder()

	// Keep a search-overlay copy of the same chat in step.
	if m.search.contains(id) {
		s := m.search.get(id)
		s.LastMessage = c.LastMessage
		s.UnreadCount = c.UnreadCount
	}
}

// LoadChat marks id as the open chat and clears its unread count wherever
// it is listed.
func (m *Manager) LoadChat(id string) {
	m.loaded = id
	for _, l := range []*list{m.active(), m.chats} {
		if l.contains(id) {
			l.get(id).UnreadCount = 0
		}
	}
}

func (m *Manager) UnloadChat() {
	m.loaded = ""
}

// LoadedChat looks the loaded chat up in the active collection first, then
// in the primary list.
func (m *Manager) LoadedChat() (Chat, bool) {
	if m.loaded == "" {
		return Chat{}, false
	}
	if a := m.active(); a.contains(m.loaded) {
		return *a.get(m.loaded), true
	}
	return *m.chats.get(m.loaded), true
}

func (m *Manager) SelectChat(id string) {
	m.active().selectID(id)
}

func (m *Manager) UnselectChat() {
	m.active().selected = ""
}

func (m *Manager) SelectNext() {
	m.active().step(1)
}

func (m *Manager) SelectPrevious() {
	m.active().step(-1)
}

func (m *Manager) SelectedChat() (Chat, bool) {
	a := m.active()
	if a.selected == "" {
		return Chat{}, false
	}
	return *a.get(a.selected), true
}

// SetSearchResults replaces the overlay; results keep the given order.
// A loaded chat that only lived in the old overlay is unloaded.
func (m *Manager) SetSearchResults(chats []Chat) {
	m.search = newList(false)
	m.search.push(chats...)
	m.unloadStale()
}

func (m *Manager) ClearSearchResults() {
	m.search = newList(false)
	m.unloadStale()
}

func (m *Manager) unloadStale() {
	if m.loaded != "" && !m.chats.contains(m.loaded) && !m.search.contains(m.loaded) {
		m.loaded = ""
	}
}

func (m *Manager) Searching() bool {
	return m.search.len() > 0
}

// ActiveChats is the overlay when it has results, else the primary list.
func (m *Manager) ActiveChats() []Chat {
	return m.active().snapshot()
}

func (m *Manager) active() *list {
	if m.search.len() > 0 {
		return m.search
	}
	return m.chats
}

// Chat returns a primary-list chat by internal id; it panics on a miss.
func (m *Manager) Chat(id string) Chat {
	return *m.chats.get(id)
}

func (m *Manager) HasChat(id string) bool {
	return m.chats.contains(id)
}

// ChatByName scans the primary list only.
func (m *Manager) ChatByName(name string) (Chat, bool) {
	for _, c := range m.chats.items {
		if c.Name == name {
			return *c, true
		}
	}
	return Chat{}, false
}

// DirectChatWith scans the primary list for the direct chat with u: two
// members, one of them u, and named after u.
func (m *Manager) DirectChatWith(u user.User) (Chat, bool) {
	for _, c := range m.chats.items {
		if len(c.Members) != 2 || c.Name != u.Username {
			continue
		}
		for _, member := range c.Members {
			if member.ID == u.ID {
				return *c, true
			}
		}
	}
	return Chat{}, false
}

// Messages returns the buffer of a chat; it panics if the chat is unknown.
func (m *Manager) Messages(id string) []Message {
	msgs, ok := m.messages[id]
	if !ok {
		panic("chat messages not found: " + id)
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
