package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const orgKey = "org_id"

// OrgClaims are the bearer token claims this service reads
type OrgClaims struct {
	OrgID string `json:"org_id"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the auth service
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator for secret
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// ParseToken validates tokenStr and returns its claims
func (a *Authenticator) ParseToken(tokenStr string) (*OrgClaims, error) {
	claims := &OrgClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.OrgID == "" {
		return nil, errors.New("token has no org_id")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's organization in the gin context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.Fields(header)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid authorization header"})
			return
		}

		claims, err := a.ParseToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(orgKey, claims.OrgID)
		c.Next()
	}
}

func orgID(c *gin.Context) string {
	return c.GetString(orgKey)
}
