// Package presence tracks remote collaborators' cursors and typing flags.
package presence

import (
	"sort"
	"sync"
	"time"

	"notepad-sync/internal/domain"
)

// Tracker keeps the latest cursor and typing state per remote user. An entry that has
// not been refreshed within its TTL is dropped by Prune; a zero TTL disables expiry.
// Events about the local user are ignored.
type Tracker struct {
	mu        sync.RWMutex
	selfID    string
	cursors   map[string]entry[domain.CollaboratorCursor]
	typing    map[string]entry[domain.TypingIndicator]
	members   map[string]domain.Member
	cursorTTL time.Duration
	typingTTL time.Duration
	now       func() time.Time
}

type entry[T any] struct {
	value    T
	received time.Time
}

type Option func(*Tracker)

func WithCursorTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.cursorTTL = ttl }
}

func WithTypingTTL(ttl time.Duration) Option {
	return func(t *Tracker) { t.typingTTL = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(selfID string, opts ...Option) *Tracker {
	t := &Tracker{
		selfID:  selfID,
		cursors: make(map[string]entry[domain.CollaboratorCursor]),
		typing:  make(map[string]entry[domain.TypingIndicator]),
		members: make(map[string]domain.Member),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// UpdateCursor replaces any previous cursor for the same user.
func (t *Tracker) UpdateCursor(cursor domain.CollaboratorCursor) {
	if cursor.UserID == "" || cursor.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.cursors[cursor.UserID] = entry[domain.CollaboratorCursor]{value: cursor, received: t.now()}
}

// UpdateTyping stores the indicator while IsTyping is true and deletes it otherwise.
// A missing entry is the "not typing" state.
func (t *Tracker) UpdateTyping(indicator domain.TypingIndicator) {
	if indicator.UserID == "" || indicator.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !indicator.IsTyping {
		delete(t.typing, indicator.UserID)
		return
	}
	t.typing[indicator.UserID] = entry[domain.TypingIndicator]{value: indicator, received: t.now()}
}

// RemoveCollaborator purges both the cursor and the typing entry of a user.
func (t *Tracker) RemoveCollaborator(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.cursors, userID)
	delete(t.typing, userID)
	delete(t.members, userID)
}

// SetMembers replaces the roster of collaborators known to be on the note, as listed by
// the server when the channel connects.
func (t *Tracker) SetMembers(members []domain.Member) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.members = make(map[string]domain.Member, len(members))
	for _, m := range members {
		if m.UserID == "" || m.UserID == t.selfID {
			continue
		}
		t.members[m.UserID] = m
	}
}

// Idle returns roster members with no live cursor, ordered by user id.
func (t *Tracker) Idle() []domain.Member {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Member, 0, len(t.members))
	for id, m := range t.members {
		if _, ok := t.cursors[id]; !ok {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Prune removes expired entries and returns the ids of users whose cursor expired.
func (t *Tracker) Prune() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var expired []string

	if t.cursorTTL > 0 {
		for id, e := range t.cursors {
			if now.Sub(e.received) > t.cursorTTL {
				delete(t.cursors, id)
				expired = append(expired, id)
			}
		}
	}

	if t.typingTTL > 0 {
		for id, e := range t.typing {
			if now.Sub(e.received) > t.typingTTL {
				delete(t.typing, id)
			}
		}
	}

	sort.Strings(expired)
	return expired
}

// Clear forgets every collaborator, as on channel teardown.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cursors = make(map[string]entry[domain.CollaboratorCursor])
	t.typing = make(map[string]entry[domain.TypingIndicator])
	t.members = make(map[string]domain.Member)
}

// Cursors returns a snapshot ordered by user id.
func (t *Tracker) Cursors() []domain.CollaboratorCursor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.CollaboratorCursor, 0, len(t.cursors))
	for _, e := range t.cursors {
		out = append(out, e.value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Typing returns the users currently typing, ordered by user id.
func (t *Tracker) Typing() []domain.TypingIndicator {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.TypingIndicator, 0, len(t.typing))
	for _, e := range t.typing {
		out = append(out, e.value)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (t *Tracker) IsTyping(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.typing[userID]
	return ok
}
