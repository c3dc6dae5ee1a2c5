package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ridecore/dispatch/pkg/common"
	"github.com/ridecore/dispatch/pkg/models"
)

const (
	contextKeyUserID = "userId"
	contextKeyRole   = "userRole"
)

// Claims is the JWT payload minted at login: the caller's identity and
// role, used to authorize rider/driver-scoped socket and REST operations
// (spec §4.8 "Authorization of client events").
type Claims struct {
	UserID uuid.UUID   `json:"userId"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware parses the Bearer token in the Authorization header,
// validates it against secret, and stashes the caller's id and role in
// the gin context for downstream handlers.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			common.ErrorResponse(c, http.StatusUnauthorized, "missing authorization header")
			c.Abort()
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			common.ErrorResponse(c, http.StatusUnauthorized, "authorization header must use Bearer scheme")
			c.Abort()
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			common.ErrorResponse(c, http.StatusUnauthorized, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(contextKeyUserID, claims.UserID)
		c.Set(contextKeyRole, claims.Role)
		c.Next()
	}
}

// RequireRole aborts the request unless the authenticated caller's role is
// one of allowed. Must run after AuthMiddleware.
func RequireRole(allowed ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := GetUserRole(c)
		if err != nil {
			common.ErrorResponse(c, http.StatusUnauthorized, "unauthorized")
			c.Abort()
			return
		}
		for _, r := range allowed {
			if r == role {
				c.Next()
				return
			}
		}
		common.ErrorResponse(c, http.StatusForbidden, "insufficient permissions")
		c.Abort()
	}
}

// GetUserID reads the authenticated caller's id set by AuthMiddleware.
func GetUserID(c *gin.Context) (uuid.UUID, error) {
	v, ok := c.Get(contextKeyUserID)
	if !ok {
		return uuid.Nil, errors.New("middleware: no authenticated user in context")
	}
	id, ok := v.(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("middleware: user id in context has unexpected type")
	}
	return id, nil
}

// GetUserRole reads the authenticated caller's role set by AuthMiddleware.
func GetUserRole(c *gin.Context) (models.Role, error) {
	v, ok := c.Get(contextKeyRole)
	if !ok {
		return "", errors.New("middleware: no authenticated role in context")
	}
	role, ok := v.(models.Role)
	if !ok {
		return "", errors.New("middleware: role in context has unexpected type")
	}
	return role, nil
}
