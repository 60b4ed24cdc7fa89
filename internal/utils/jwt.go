// Package utils mints the access tokens accepted by the HTTP API.
package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleService = "SERVICE" // payment processors and other backends
	RoleOwner   = "OWNER"
	RoleStaff   = "STAFF"
)

// ErrUnknownRole is returned when minting a token for a role the API does
// not recognise.
var ErrUnknownRole = errors.New("unknown role")

// AccessToken is a signed HS256 JWT along with its expiry.
type AccessToken struct {
	Token string    `json:"access_token"`
	Exp   time.Time `json:"expires_at"`
}

// ValidRole reports whether role is one of the Role constants.
func ValidRole(role string) bool {
	switch role {
	case RoleService, RoleOwner, RoleStaff:
		return true
	}
	return false
}

// NewAccessToken signs a token for subject with the given role that
// expires after ttl.
func NewAccessToken(secret, subject, role string, ttl time.Duration) (AccessToken, error) {
	if !ValidRole(role) {
		return AccessToken{}, ErrUnknownRole
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  subject,
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
