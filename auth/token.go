// Package auth verifies the bearer tokens minted by the authentication
// service. Tokens are HS256 JWTs carrying the user's id, display name,
// and avatar reference.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"parley/chat"
)

// Claims is the payload stored inside a chat token.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates tokens against a shared HMAC secret. It implements
// chat.TokenVerifier.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates the signature and expiration of a token
// and resolves it to the identity it was issued for.
func (v *Verifier) Verify(ctx context.Context, token string) (chat.Identity, error) {
	if err := ctx.Err(); err != nil {
		return chat.Identity{}, err
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return chat.Identity{}, fmt.Errorf("%w: %v", chat.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" || claims.Username == "" {
		return chat.Identity{}, chat.ErrInvalidToken
	}

	return chat.Identity{
		UserID:   claims.UserID,
		Username: claims.Username,
		Avatar:   claims.Avatar,
	}, nil
}

// Issue mints a signed token for an identity. Used by tests and for
// handing out development tokens; production tokens come from the
// authentication service.
func Issue(secret string, identity chat.Identity, lifetime time.Duration) (string, error) {
	now := time.Now()

	claims := &Claims{
		UserID:   identity.UserID,
		Username: identity.Username,
		Avatar:   identity.Avatar,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "parley",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(secret))
}
