package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"subyield/pkg/utils"
)

const (
	CallerAddressKey = "caller_address"
	RoleKey          = "Role"
)

// JWTAuthMiddleware authenticates the bearer token and stores the checksummed caller
// address. Whether the caller may act is decided by the ledger, not here.
func JWTAuthMiddleware(secret []byte) gin.HandlerFunc {

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}
		if !authenticate(c, secret, authHeader) {
			return
		}
		c.Next()
	}
}

// OptionalJWTAuthMiddleware authenticates a bearer token when one is sent and lets
// anonymous requests through. A token that is sent but invalid is still rejected.
func OptionalJWTAuthMiddleware(secret []byte) gin.HandlerFunc {

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			utils.RespondError(c, http.StatusUnauthorized, "Authorization header missing or invalid")
			c.Abort()
			return
		}
		if !authenticate(c, secret, authHeader) {
			return
		}
		c.Next()
	}
}

func authenticate(c *gin.Context, secret []byte, authHeader string) bool {
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := utils.ValidateToken(secret, tokenString)
	if err != nil {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
		c.Abort()
		return false
	}

	address, err := utils.NormalizeAddress(claims.Subject)
	if err != nil {
		utils.RespondError(c, http.StatusUnauthorized, "Invalid token subject")
		c.Abort()
		return false
	}
	c.Set(CallerAddressKey, address)
	c.Set(RoleKey, claims.Role)
	return true
}

func RoleMiddleware(requiredRole string) gin.HandlerFunc {

	return func(c *gin.Context) {
		role := c.GetString(RoleKey)

		if role != requiredRole {
			utils.RespondError(c, http.StatusForbidden, "Forbidden: insufficient permissions")
			c.Abort()
			return
		}

		c.Next()
	}
}

// CallerAddress returns the address set by JWTAuthMiddleware.
func CallerAddress(c *gin.Context) string {
	return c.GetString(CallerAddressKey)
}
