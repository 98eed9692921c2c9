package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"classlog/internal/session"
)

const sessionKey = "session"

// RequireSession enforces bearer access tokens signed with HS256 whose session was not revoked.
func RequireSession(signingKey, issuer string, sessions session.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := bearerClaims(c, signingKey, issuer)
		if !ok {
			return
		}
		if claims.Kind != KindAccess {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "access token required"})
			return
		}
		revoked, err := sessions.Revoked(c.Request.Context(), claims.ID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "session store unavailable"})
			return
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session signed out"})
			return
		}
		s := claims.Session()
		c.Set(sessionKey, s)
		c.Request = c.Request.WithContext(session.WithSession(c.Request.Context(), s))
		c.Next()
	}
}

// RequireWriter lets through only gateway-verified admin sessions.
func RequireWriter() gin.HandlerFunc {
	return func(c *gin.Context) {
		s, ok := SessionFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			return
		}
		if !s.CanWrite() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin privileges required"})
			return
		}
		c.Next()
	}
}

// SessionFrom returns the session RequireSession attached to c.
func SessionFrom(c *gin.Context) (session.Session, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return session.Session{}, false
	}
	s, ok := v.(session.Session)
	return s, ok
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	return strings.TrimSpace(authz[len("bearer "):]), true
}

func bearerClaims(c *gin.Context, signingKey, issuer string) (Claims, bool) {
	tokenStr, ok := BearerToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return Claims{}, false
	}
	claims, err := Parse(tokenStr, signingKey, issuer)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return Claims{}, false
	}
	return claims, true
}
