package chat

import (
	"context"
	"errors"
)

// ErrInvalidToken is returned by a TokenVerifier when a bearer token is
// expired, garbled, or signed with the wrong key.
var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier validates the opaque bearer token carried by an
// authenticate intent and resolves it to an Identity. Verification is
// the only suspension point in the handshake; the connection handler
// bounds it with a timeout and processes no other intent from the same
// connection while it is pending.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
