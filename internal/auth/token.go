// Package auth mints the opaque token_id every Session is keyed by. It
// is a signed JWT so any replica can validate a bearer token_id's
// integrity and extract the user id without a KV round trip, falling
// back to a KV-backed session lookup only to check liveness.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"banchod/internal/model"
)

type TokenClaims struct {
	UserID int32 `json:"uid"`
	jwt.RegisteredClaims
}

type Minter struct {
	secret []byte
}

func NewMinter(secret string) *Minter {
	return &Minter{secret: []byte(secret)}
}

// Mint produces a new opaque token_id for a freshly logged-in user. The
// returned signed JWT string is the value stored as Session.TokenIDValue
// and used for every KV key; the random JTI claim keeps each one unique.
func (m *Minter) Mint(userID int32, now time.Time) (string, error) {
	claims := &TokenClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   "banchod",
			Subject:  fmt.Sprintf("%d", userID),
			ID:       randomJTI(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return signed, nil
}

// Verify checks the token_id's signature and returns the embedded user
// id. It does not check session liveness; callers still look the
// token_id up in KV to confirm the session hasn't been evicted.
func (m *Minter) Verify(tokenID string) (int32, error) {
	token, err := jwt.ParseWithClaims(tokenID, &TokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", model.ErrTokenNotFound, err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return 0, errors.New("invalid token claims")
	}
	return claims.UserID, nil
}

func randomJTI() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
