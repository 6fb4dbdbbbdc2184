package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"cashback-platform/pkg/ident"
)

// Claims are the only supported JWT claims shape for this service.
// Tokens are issued by the auth collaborator; this service only verifies them.
type Claims struct {
	jwt.RegisteredClaims

	AccountID string   `json:"account_id"`
	Roles     []string `json:"roles"`
}

// Identity is the resolved requester identity consumed by the core.
// The core performs no credential checks beyond this resolution.
type Identity struct {
	AccountID ident.ID
	Roles     []string
}

// HasRole reports whether the identity carries role.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}
