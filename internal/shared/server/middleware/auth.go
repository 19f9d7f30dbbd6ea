package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"idverify-backend/internal/shared/identity"
	"idverify-backend/internal/shared/server/respond"
)

const (
	userIDKey    = "userId"
	userEmailKey = "userEmail"
	callerKey    = "caller"
)

// Identity builds the caller identity from the headers set by the edge
// gateway, which has already authenticated the request. X-Service-Name marks
// internal processes that may act across owners; everything else must carry
// X-User-Id.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		if svc := strings.TrimSpace(c.GetHeader("X-Service-Name")); svc != "" {
			setCaller(c, identity.System(svc))
			c.Next()
			return
		}

		userID := strings.TrimSpace(c.GetHeader("X-User-Id"))
		if userID == "" {
			respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
			return
		}

		caller := identity.Caller{
			UserID: userID,
			Email:  strings.TrimSpace(c.GetHeader("X-User-Email")),
		}
		setCaller(c, caller)
		c.Next()
	}
}

func setCaller(c *gin.Context, caller identity.Caller) {
	c.Set(callerKey, caller)
	c.Set(userIDKey, caller.UserID)
	if caller.Email != "" {
		c.Set(userEmailKey, caller.Email)
	}
}

// CallerFromContext fetches the identity stored by Identity.
func CallerFromContext(c *gin.Context) identity.Caller {
	if c == nil {
		return identity.Caller{}
	}
	val, _ := c.Get(callerKey)
	if caller, ok := val.(identity.Caller); ok {
		return caller
	}
	return identity.Caller{}
}

// UserIDFromContext fetches the user ID set by the identity middleware.
func UserIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(userIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
