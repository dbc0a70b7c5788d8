// Package utils holds helpers shared by the server and its command-line
// tools.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed JWT and its expiry.
type AccessToken struct {
	Token string    `json:"token"`
	Exp   time.Time `json:"expires_at"`
}

// NewAccessToken signs an HS256 token for an operator.  Claims: sub (the
// operator id), role, exp and iat.
func NewAccessToken(secret, operatorID, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" {
		return AccessToken{}, errors.New("empty signing secret")
	}
	if operatorID == "" {
		return AccessToken{}, errors.New("empty operator id")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  operatorID,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
