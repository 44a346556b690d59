// EMSGrid - Ambulance Fleet Realtime Coordination
// Copyright 2026 EMSGrid Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/emsgrid/emsgrid

package realtime

import (
	"sort"
	"sync"

	"github.com/emsgrid/emsgrid/internal/models"
)

// presenceEntry tracks one user in one room. A user with several open
// connections (phone and desktop) appears once; refs counts connections.
type presenceEntry struct {
	user models.OnlineUser
	refs int
}

// presenceRegistry is the authoritative room membership listing answered
// by get_online_users.
type presenceRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*presenceEntry // room -> userID -> entry
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{
		rooms: make(map[string]map[string]*presenceEntry),
	}
}

func (p *presenceRegistry) add(room string, user models.OnlineUser) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.rooms[room]
	if !ok {
		users = make(map[string]*presenceEntry)
		p.rooms[room] = users
	}
	if entry, ok := users[user.UserID]; ok {
		entry.refs++
		return
	}
	users[user.UserID] = &presenceEntry{user: user, refs: 1}
}

func (p *presenceRegistry) remove(room, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	users, ok := p.rooms[room]
	if !ok {
		return
	}
	entry, ok := users[userID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(p.rooms, room)
	}
}

// list returns the room's users sorted by user ID.
func (p *presenceRegistry) list(room string) []models.OnlineUser {
	p.mu.RLock()
	defer p.mu.RUnlock()

	users := p.rooms[room]
	out := make([]models.OnlineUser, 0, len(users))
	for _, entry := range users {
		out = append(out, entry.user)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UserID < out[j].UserID
	})
	return out
}
