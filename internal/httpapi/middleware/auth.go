package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/pharmacy-platform/internal/auth"
	"github.com/suPer8Hu/pharmacy-platform/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired resolves the bearer token to a user id stored under UserIDKey.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		scheme, token, found := strings.Cut(h, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "unauthenticated")
			return
		}

		uid, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}
