package middlewares

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playmate-chat/apperrors"
	"playmate-chat/utils"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

// TokenVerifier turns a bearer token into a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// TokenAuthMiddleware accepts "Authorization: Bearer <token>" or, for
// browser websocket handshakes that cannot set headers, ?token=.
func TokenAuthMiddleware(verifier TokenVerifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		userID, err := verifier.Verify(token)
		if err != nil {
			utils.RespondError(c, log, err)
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// UserID returns the id set by TokenAuthMiddleware.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// ServiceKeyMiddleware guards the collaborator API. An empty configured key
// disables the API entirely.
func ServiceKeyMiddleware(key string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Service-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			utils.RespondError(c, log, apperrors.Unauthenticated("invalid service key"))
			return
		}
		c.Next()
	}
}
