package realtime

import (
	"sort"
	"strings"
)

const roomSeparator = "_"

// RoomID derives the private room shared by two users. The result does not depend on
// argument order, so inviter and invitee always compute the same identifier.
func RoomID(a, b string) string {
	ids := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(ids)
	return strings.Join(ids, roomSeparator)
}

// Participants splits a private room identifier back into its two user ids.
// It is ambiguous when an id contains the separator and reports false then;
// use Peer when one participant is known.
func Participants(roomID string) (string, string, bool) {
	parts := strings.Split(roomID, roomSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Peer returns the other participant of a private room. The peer is recovered by
// stripping self from either end and checking the remainder rebuilds the same room,
// so ids containing the separator resolve as well.
func Peer(roomID, self string) (string, bool) {
	self = strings.TrimSpace(self)
	if self == "" {
		return "", false
	}
	candidates := make([]string, 0, 2)
	if rest, ok := strings.CutPrefix(roomID, self+roomSeparator); ok {
		candidates = append(candidates, rest)
	}
	if rest, ok := strings.CutSuffix(roomID, roomSeparator+self); ok {
		candidates = append(candidates, rest)
	}
	for _, peer := range candidates {
		if peer != "" && RoomID(self, peer) == roomID {
			return peer, true
		}
	}
	return "", false
}
