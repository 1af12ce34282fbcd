package mw

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Role is the caller's role as asserted by the upstream auth layer.
type Role string

const (
	RoleStudent Role = "student"
	RoleDriver  Role = "driver"
	RoleAdmin   Role = "admin"
)

// Header names carrying the caller identity.
const (
	HeaderUserID = "X-User-ID"
	HeaderRole   = "X-User-Role"
)

const identityKey = "identity"

// Identity is an authenticated caller. Authentication itself happens
// upstream; this service trusts the headers.
type Identity struct {
	UserID string
	Role   Role
}

// Identify reads the identity headers. Requests without them continue
// anonymously; a malformed role is rejected.
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			c.Next()
			return
		}
		role := Role(c.GetHeader(HeaderRole))
		switch role {
		case RoleStudent, RoleDriver, RoleAdmin:
		case "":
			role = RoleStudent
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role " + string(role)})
			return
		}
		c.Set(identityKey, Identity{UserID: userID, Role: role})
		c.Next()
	}
}

// CurrentIdentity returns the identity stored by Identify.
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// RequireRole rejects callers without one of roles. Anonymous callers get
// 401, identified callers with the wrong role 403.
func RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}
		for _, r := range roles {
			if id.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
