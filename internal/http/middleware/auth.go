package middleware

import (
	"net/http"
	"strings"

	"animehub-be/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	userIDKey = "userID"
	tokenKey  = "sessionToken"
)

// TokenFromRequest finds the session token in the session cookie, a bearer
// Authorization header or the token query parameter, in that order. Browsers
// cannot set headers on websocket upgrades, hence the query fallback.
func TokenFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(session.CookieName); err == nil && ck.Value != "" {
		return ck.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func AuthMiddleware(sessions *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		s, err := sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(userIDKey, s.UserID)
		c.Set(tokenKey, token)
		c.Next()
	}
}

func MustUserID(c *gin.Context) uuid.UUID {
	return c.MustGet(userIDKey).(uuid.UUID)
}

func SessionToken(c *gin.Context) string {
	return c.GetString(tokenKey)
}
