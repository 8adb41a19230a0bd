package chat

import "github.com/samber/lo"

// presenceLocked derives the online-user list from current membership,
// oldest join first. It is recomputed on every membership change rather
// than patched incrementally; rooms are small enough that correctness
// wins over diffing. Assumes r.mu is held.
func (r *Room) presenceLocked() []Identity {
	return lo.Map(r.members, func(m *member, _ int) Identity {
		return m.identity
	})
}

// snapshotLocked builds the roster view sent in roomInfo events.
// Assumes r.mu is held.
func (r *Room) snapshotLocked() RoomInfo {
	return RoomInfo{
		ID:   r.id,
		Name: r.name,
		Members: lo.Map(r.members, func(m *member, _ int) string {
			return m.identity.Username
		}),
	}
}
