package forumclient

import (
	"sort"

	"github.com/noah-isme/gema-forum/pkg/realtime"
)

// PresenceTracker holds the roster of a course room. Entries are keyed by transport
// session, so a user connected from two tabs is counted twice.
type PresenceTracker struct {
	sessions map[string]realtime.OnlineUser
}

// NewPresenceTracker creates an empty roster.
func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{sessions: make(map[string]realtime.OnlineUser)}
}

// ApplySnapshot replaces the roster wholesale.
func (p *PresenceTracker) ApplySnapshot(users []realtime.OnlineUser) {
	p.sessions = make(map[string]realtime.OnlineUser, len(users))
	for _, user := range users {
		if user.SessionID == "" {
			continue
		}
		p.sessions[user.SessionID] = user
	}
}

// Join records a transport session entering the room.
func (p *PresenceTracker) Join(user realtime.OnlineUser) {
	if user.SessionID == "" {
		return
	}
	p.sessions[user.SessionID] = user
}

// Leave removes a transport session. It reports whether the session was tracked.
func (p *PresenceTracker) Leave(sessionID string) bool {
	if _, ok := p.sessions[sessionID]; !ok {
		return false
	}
	delete(p.sessions, sessionID)
	return true
}

// Count is the number of tracked transport sessions.
func (p *PresenceTracker) Count() int {
	return len(p.sessions)
}

// Roster lists sessions ordered by join time.
func (p *PresenceTracker) Roster() []realtime.OnlineUser {
	out := make([]realtime.OnlineUser, 0, len(p.sessions))
	for _, user := range p.sessions {
		out = append(out, user)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// UniqueUsers collapses the roster to one entry per user id, keeping the earliest session.
func (p *PresenceTracker) UniqueUsers() []realtime.UserRef {
	roster := p.Roster()
	seen := make(map[string]struct{}, len(roster))
	out := make([]realtime.UserRef, 0, len(roster))
	for _, entry := range roster {
		if _, ok := seen[entry.User.ID]; ok {
			continue
		}
		seen[entry.User.ID] = struct{}{}
		out = append(out, entry.User)
	}
	return out
}

// IsOnline reports whether any session of the user is present.
func (p *PresenceTracker) IsOnline(userID string) bool {
	for _, entry := range p.sessions {
		if entry.User.ID == userID {
			return true
		}
	}
	return false
}
