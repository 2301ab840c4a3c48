package user

import "fmt"

// Directory is the snapshot of known users the chat builder resolves ids against.
// It only grows; chats built earlier keep the users they were built with.
type Directory struct {
	users map[string]User
}

func NewDirectory(users ...User) *Directory {
	d := &Directory{users: make(map[string]User, len(users))}
	d.AddUsers(users...)
	return d
}

// AddUsers inserts or replaces users by ID.
func (d *Directory) AddUsers(users ...User) {
	for _, u := range users {
		d.users[u.ID] = u
	}
}

func (d *Directory) Lookup(id string) (User, bool) {
	u, ok := d.users[id]
	return u, ok
}

// Get panics when id is unknown: callers must batch-fetch members before building.
func (d *Directory) Get(id string) User {
	u, ok := d.users[id]
	if !ok {
		panic(fmt.Sprintf("user %q not in directory", id))
	}
	return u
}

// Missing returns the ids from the argument not yet known, without duplicates,
// in first-seen order.
func (d *Directory) Missing(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	var missing []string
	for _, id := range ids {
		if _, ok := d.users[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	return missing
}

func (d *Directory) Len() int {
	return len(d.users)
}
