package middlewares

import (
	"errors"
	"log"
	"net/http"
	"rentals/src/types"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Auth verifies the bearer token issued by the identity service and exposes
// its subject as "uid" and its role as "role".
func Auth(secret []byte) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		bearerToken := ctx.Request.Header.Get("Authorization")
		if !strings.HasPrefix(bearerToken, "Bearer ") {
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		reqToken := strings.TrimSpace(strings.TrimPrefix(bearerToken, "Bearer "))
		if reqToken == "" {
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims := &types.Claims{}
		tkn, err := jwt.ParseWithClaims(reqToken, claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			if !errors.Is(err, jwt.ErrTokenExpired) {
				log.Printf("token error: %s\n", err.Error())
			}
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if !tkn.Valid || claims.Subject == "" {
			ctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		role := claims.Role
		if role == "" {
			role = types.ROLE_MEMBER
		}
		ctx.Set("uid", claims.Subject)
		ctx.Set("role", role)
		ctx.Next()
	}
}

// RequireRole lets through only callers whose token carries one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if !slices.Contains(roles, ctx.GetString("role")) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		ctx.Next()
	}
}

func SecureHeaders(ctx *gin.Context) {
	ctx.Header("X-Frame-Options", "DENY")
	ctx.Header("X-Content-Type-Options", "nosniff")
	ctx.Header("Referrer-Policy", "no-referrer")
	ctx.Header("Cache-Control", "no-store")
	ctx.Next()
}
