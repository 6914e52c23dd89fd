// Package httpkit provides HTTP utilities including identity abstraction.
package httpkit

import (
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the authenticated operator behind a request.
type Identity interface {
	UserID() uuid.UUID
	Roles() []string
	HasRole(role string) bool
	IsAuthenticated() bool
}

type identity struct {
	userID        uuid.UUID
	roles         []string
	authenticated bool
}

func (i *identity) UserID() uuid.UUID        { return i.userID }
func (i *identity) Roles() []string          { return i.roles }
func (i *identity) HasRole(role string) bool { return slices.Contains(i.roles, role) }
func (i *identity) IsAuthenticated() bool    { return i.authenticated }

// GetIdentity extracts the Identity placed on the context by AuthRequired.
// Returns an unauthenticated identity if none is present.
func GetIdentity(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return &identity{}
	}
	uid, ok := raw.(uuid.UUID)
	if !ok {
		return &identity{}
	}

	var roles []string
	if value, ok := c.Get(ContextRolesKey); ok {
		roles, _ = value.([]string)
	}

	return &identity{userID: uid, roles: roles, authenticated: true}
}
