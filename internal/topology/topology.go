// Package topology tracks which players are grouped together and which
// member of each group is the coordinator.
package topology

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Group is one leader/follower cluster. The coordinator is always a member
// once Normalize has run.
type Group struct {
	ID          string
	Coordinator string
	Members     []string
}

// Normalize returns a copy of the group with sorted, de-duplicated members
// that include the coordinator.
func (g Group) Normalize() Group {
	seen := make(map[string]struct{}, len(g.Members)+1)
	members := make([]string, 0, len(g.Members)+1)
	for _, uid := range append([]string{g.Coordinator}, g.Members...) {
		if uid == "" {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		members = append(members, uid)
	}
	sort.Strings(members)
	return Group{ID: g.ID, Coordinator: g.Coordinator, Members: members}
}

// Contains reports whether uid is a member of the group.
func (g Group) Contains(uid string) bool {
	for _, member := range g.Members {
		if member == uid {
			return true
		}
	}
	return false
}

// ToMap returns the representation stored at player/<uid>/group.
func (g Group) ToMap() map[string]any {
	members := make([]any, 0, len(g.Members))
	for _, uid := range g.Members {
		members = append(members, uid)
	}
	return map[string]any{
		"id":          g.ID,
		"coordinator": g.Coordinator,
		"members":     members,
	}
}

// Source is anything that can report its live group membership.
type Source interface {
	UID() string
	GroupInfo(ctx context.Context) (Group, error)
}

// Tracker records the most recent group view for each player.
type Tracker struct {
	mu     sync.RWMutex
	groups map[string]Group
	logger *log.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		groups: make(map[string]Group),
		logger: logger,
	}
}

// Refresh asks the device for its live group view and records it. Cached
// state is never consulted.
func (t *Tracker) Refresh(ctx context.Context, src Source) (Group, error) {
	group, err := src.GroupInfo(ctx)
	if err != nil {
		return Group{}, fmt.Errorf("group info for %s: %w", src.UID(), err)
	}
	if group.Coordinator == "" {
		group.Coordinator = src.UID()
	}
	group = group.Normalize()
	if !group.Contains(src.UID()) {
		t.logger.Printf("TOPOLOGY: %s not listed in its own group %s", src.UID(), group.ID)
	}

	t.mu.Lock()
	t.groups[src.UID()] = group
	t.mu.Unlock()
	return group, nil
}

// Group returns the last recorded group for uid.
func (t *Tracker) Group(uid string) (Group, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	group, ok := t.groups[uid]
	if !ok {
		return Group{}, false
	}
	group.Members = append([]string(nil), group.Members...)
	return group, true
}

// Coordinator returns the coordinator of uid's group, or uid itself when the
// player has not been refreshed yet.
func (t *Tracker) Coordinator(uid string) string {
	group, ok := t.Group(uid)
	if !ok || group.Coordinator == "" {
		return uid
	}
	return group.Coordinator
}

// Members returns the members of uid's group.
func (t *Tracker) Members(uid string) []string {
	group, ok := t.Group(uid)
	if !ok {
		return []string{uid}
	}
	return group.Members
}

// Reset forgets every recorded group.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups = make(map[string]Group)
}
