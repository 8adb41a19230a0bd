package chat

import "strings"

// Identity is established once per connection by the token verifier and
// never mutated afterwards.
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

const privatePrefix = "private_"

// PrivateChannelID derives the room identifier for a 1:1 conversation.
// Both participants compute it independently, so it must be commutative:
// PrivateChannelID(a, b) == PrivateChannelID(b, a).
func PrivateChannelID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return privatePrefix + userA + "_" + userB
}

// IsPrivateChannel reports whether a room id was derived by
// PrivateChannelID rather than chosen by a user. Private rooms are
// excluded from public listings.
func IsPrivateChannel(roomID string) bool {
	return strings.HasPrefix(roomID, privatePrefix)
}
