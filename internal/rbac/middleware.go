package rbac

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cashback-platform/internal/auth"
)

// RequireAnyRole allows access if the caller carries any of the provided roles.
// super_admin bypasses all checks.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		id, err := auth.IdentityFrom(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
			return
		}

		if id.HasRole(RoleSuperAdmin) {
			c.Next()
			return
		}

		for _, r := range id.Roles {
			if _, ok := allowedSet[r]; ok {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	}
}
