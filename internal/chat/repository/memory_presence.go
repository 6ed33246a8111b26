package repository

import (
	"context"
	"sort"
	"sync"
	"time"
)

type presenceKey struct {
	roomID string
	userID string
}

// MemoryPresence single process PresenceRegistry with the same expiry rules as the Redis one
type MemoryPresence struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[presenceKey]map[string]time.Time
}

// NewMemoryPresence create MemoryPresence; now may be nil
func NewMemoryPresence(ttl time.Duration, now func() time.Time) *MemoryPresence {
	if now == nil {
		now = time.Now
	}
	return &MemoryPresence{
		ttl:     ttl,
		now:     now,
		entries: make(map[presenceKey]map[string]time.Time),
	}
}

// Register add or refresh an entry
func (p *MemoryPresence) Register(_ context.Context, userID, roomID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := presenceKey{roomID: roomID, userID: userID}
	if p.entries[k] == nil {
		p.entries[k] = make(map[string]time.Time)
	}
	p.entries[k][connID] = p.now().Add(p.ttl)
	return nil
}

// Unregister remove an entry
func (p *MemoryPresence) Unregister(_ context.Context, userID, roomID, connID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := presenceKey{roomID: roomID, userID: userID}
	delete(p.entries[k], connID)
	live := p.liveLocked(k)
	if len(p.entries[k]) == 0 {
		delete(p.entries, k)
	}
	return live, nil
}

func (p *MemoryPresence) liveLocked(k presenceKey) bool {
	now := p.now()
	for _, exp := range p.entries[k] {
		if exp.After(now) {
			return true
		}
	}
	return false
}

// IsPresent report at least one unexpired entry
func (p *MemoryPresence) IsPresent(_ context.Context, userID, roomID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveLocked(presenceKey{roomID: roomID, userID: userID}), nil
}

// OnlineUsers users present in roomID, sorted
func (p *MemoryPresence) OnlineUsers(_ context.Context, roomID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []string{}
	for k := range p.entries {
		if k.roomID == roomID && p.liveLocked(k) {
			out = append(out, k.userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// RoomsOf rooms userID is present in, sorted
func (p *MemoryPresence) RoomsOf(_ context.Context, userID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []string{}
	for k := range p.entries {
		if k.userID == userID && p.liveLocked(k) {
			out = append(out, k.roomID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Purge drop expired entries of roomID
func (p *MemoryPresence) Purge(_ context.Context, roomID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	var gone []string
	for k, conns := range p.entries {
		if k.roomID != roomID {
			continue
		}
		purged := false
		for conn, exp := range conns {
			if !exp.After(now) {
				delete(conns, conn)
				purged = true
			}
		}
		if purged && !p.liveLocked(k) {
			gone = append(gone, k.userID)
		}
		if len(conns) == 0 {
			delete(p.entries, k)
		}
	}
	sort.Strings(gone)
	return gone, nil
}
