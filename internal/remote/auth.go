package remote

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenTTL bounds how long a signed request token is accepted.
const tokenTTL = 15 * time.Minute

// Signer issues HS256 bearer tokens for the locally stored identity.
type Signer struct {
	userID string
	secret []byte
}

func NewSigner(userID, secret string) *Signer {
	return &Signer{userID: userID, secret: []byte(secret)}
}

func (s *Signer) Sign(now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   s.userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.secret)
}
