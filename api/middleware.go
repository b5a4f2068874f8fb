package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"vtools/config"

	"github.com/gin-gonic/gin"
)

var (
	errNoAuthHeader  = errors.New("authorization header required")
	errBadAuthHeader = errors.New(`authorization header must be "Bearer <key>"`)
)

// AuthMiddleware requires "Authorization: Bearer <AUTH_KEY>" while auth is
// enabled. The settings are read on every request, so a reloaded config
// file takes effect without a restart. An empty key admits nobody.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		enabled, key := cfg.Credentials()
		if !enabled {
			c.Next()
			return
		}

		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if key == "" || subtle.ConstantTimeCompare([]byte(token), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", errBadAuthHeader
	}
	return token, nil
}
