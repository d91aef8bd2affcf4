package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"notepad-sync/internal/domain"
)

// MemoryRegistry is the single-instance Registry used when no Redis is configured.
type MemoryRegistry struct {
	mu    sync.Mutex
	rooms map[string]map[string]domain.Member
	now   func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		rooms: make(map[string]map[string]domain.Member),
		now:   time.Now,
	}
}

func (r *MemoryRegistry) Touch(ctx context.Context, noteID string, member domain.Identity, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.rooms[noteID]
	if room == nil {
		room = make(map[string]domain.Member)
		r.rooms[noteID] = room
	}
	room[member.UserID] = domain.Member{
		UserID:    member.UserID,
		Username:  member.Username,
		ExpiresAt: r.now().Add(ttl),
	}
	return nil
}

func (r *MemoryRegistry) Remove(ctx context.Context, noteID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if room := r.rooms[noteID]; room != nil {
		delete(room, userID)
		if len(room) == 0 {
			delete(r.rooms, noteID)
		}
	}
	return nil
}

func (r *MemoryRegistry) Members(ctx context.Context, noteID string) ([]domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var members []domain.Member
	for _, m := range r.rooms[noteID] {
		if m.ExpiresAt.After(now) {
			members = append(members, m)
		}
	}
	sortMembers(members)
	return members, nil
}

func (r *MemoryRegistry) Purge(ctx context.Context, noteID string) ([]domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	room := r.rooms[noteID]
	var expired []domain.Member
	for id, m := range room {
		if !m.ExpiresAt.After(now) {
			expired = append(expired, m)
			delete(room, id)
		}
	}
	if room != nil && len(room) == 0 {
		delete(r.rooms, noteID)
	}
	sortMembers(expired)
	return expired, nil
}

func (r *MemoryRegistry) Notes(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	notes := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		notes = append(notes, id)
	}
	sort.Strings(notes)
	return notes, nil
}

func sortMembers(members []domain.Member) {
	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})
}
