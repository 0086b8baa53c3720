package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// IdentityHeader names the header the surrounding CRM gateway stamps on
// every request after it has authenticated the user.
const IdentityHeader = "X-User-Id"

// Identity resolves the acting user from the gateway header. The
// service trusts the gateway; there is no token validation here.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(IdentityHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity header"})
			return
		}

		userID, err := strconv.Atoi(raw)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid identity header"})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// UserID reads the identity set by the Identity middleware.
func UserID(c *gin.Context) int {
	id, _ := c.Get("userID")
	userID, _ := id.(int)
	return userID
}
