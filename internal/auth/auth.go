// Package auth issues session tokens. A client that registers gets back a
// signed JWT binding its account id and display name, and Verify checks such
// a token. No client event in this repository accepts a token, so a dropped
// connection registers again; room binding (I1) is unaffected. Grounded on
// iliyamo-cinema-seat-reservation's internal/utils/jwt.go NewAccessToken.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned by Verify for a malformed, expired, or
// wrong-signature token.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims identifies a registered account inside a signed token.
type Claims struct {
	Account     string
	DisplayName string
	ExpiresAt   time.Time
}

// Issuer signs and verifies account session tokens with a single HS256
// secret, following the teacher pack's sub/role/exp/iat MapClaims shape.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New constructs an Issuer. ttl is the token lifetime (SPEC_FULL §10's
// JWT_TTL_MINUTES config field).
func New(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue signs a new token for account/displayName.
func (i *Issuer) Issue(account, displayName string) (string, time.Time, error) {
	exp := time.Now().UTC().Add(i.ttl)
	claims := jwt.MapClaims{
		"sub":  account,
		"name": displayName,
		"exp":  exp.Unix(),
		"iat":  time.Now().UTC().Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses and validates tokenString, returning the bound account
// identity.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	})
	if err != nil || !tok.Valid {
		return Claims{}, ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	account, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if account == "" {
		return Claims{}, ErrInvalidToken
	}
	var exp time.Time
	if expFloat, ok := claims["exp"].(float64); ok {
		exp = time.Unix(int64(expFloat), 0).UTC()
	}
	return Claims{Account: account, DisplayName: name, ExpiresAt: exp}, nil
}
