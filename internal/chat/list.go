package chat

import (
	"fmt"
	"sort"
)

// list is an ordered collection of chats with an internal id -> position
// index. When sorted is set, every push keeps it ordered by recency.
type list struct {
	items    []*Chat
	index    map[string]int
	selected string
	sorted   bool
}

func newList(sorted bool) *list {
	return &list{index: make(map[string]int), sorted: sorted}
}

// push inserts chats, replacing entries that share an internal id, then
// re-sorts (if ordered) and rebuilds the index.
func (l *list) push(chats ...Chat) {
	for _, c := range chats {
		if i, ok := l.index[c.InternalID]; ok {
			l.items[i] = &c
			continue
		}
		l.items = append(l.items, &c)
		l.index[c.InternalID] = len(l.items) - 1
	}
	l.reorder()
}

func (l *list) reorder() {
	if l.sorted {
		sort.SliceStable(l.items, func(i, j int) bool {
			return before(l.items[i], l.items[j])
		})
	}
	l.reindex()
}

func (l *list) reindex() {
	l.index = make(map[string]int, len(l.items))
	for i, c := range l.items {
		l.index[c.InternalID] = i
	}
}

func (l *list) contains(id string) bool {
	_, ok := l.index[id]
	return ok
}

// get panics on a miss: ids must come from the manager itself.
func (l *list) get(id string) *Chat {
	i, ok := l.index[id]
	if !ok {
		panic(fmt.Sprintf("chat %q not found", id))
	}
	return l.items[i]
}

func (l *list) len() int {
	return len(l.items)
}

func (l *list) snapshot() []Chat {
	out := make([]Chat, 0, len(l.items))
	for _, c := range l.items {
		out = append(out, *c)
	}
	return out
}

func (l *list) selectID(id string) {
	l.get(id)
	l.selected = id
}

// step moves the selection by delta, wrapping around; with nothing selected
// it lands on the first item.
func (l *list) step(delta int) {
	if len(l.items) == 0 {
		return
	}
	i, ok := l.index[l.selected]
	if !ok {
		l.selected = l.items[0].InternalID
		return
	}
	n := len(l.items)
	l.selected = l.items[((i+delta)%n+n)%n].InternalID
}

// before orders chats by last message time, newest first. Chats without
// messages go last; equal timestamps fall back to internal id ascending.
func before(a, b *Chat) bool {
	switch {
	case a.LastMessage == nil && b.LastMessage == nil:
		return a.InternalID < b.InternalID
	case a.LastMessage == nil:
		return false
	case b.LastMessage == nil:
		return true
	case a.LastMessage.CreatedAt != b.LastMessage.CreatedAt:
		return a.LastMessage.CreatedAt > b.LastMessage.CreatedAt
	default:
		return a.InternalID < b.InternalID
	}
}
