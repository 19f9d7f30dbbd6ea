package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"idverify-backend/internal/shared/server/respond"
	"idverify-backend/internal/shared/telemetry"
)

// Recovery converts a handler panic into a 500 with the standard error
// envelope. Worker-side panics are contained separately; this covers only
// the HTTP path.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				fields := map[string]any{
					"request_id": RequestIDFromContext(c),
					"error":      fmt.Sprint(rec),
					"stack":      string(debug.Stack()),
					"path":       c.Request.URL.Path,
					"method":     c.Request.Method,
				}
				if docID := c.GetString("documentId"); docID != "" {
					fields["document_id"] = docID
				}
				telemetry.Error("panic", fields)
				respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
			}
		}()
		c.Next()
	}
}
