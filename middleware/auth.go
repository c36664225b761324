package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/utils"
)

const (
	// ContextUserIDKey is the key used to store authenticated user ID in Gin context.
	ContextUserIDKey = "user_id"
	// ContextUsernameKey stores the username inside Gin context.
	ContextUsernameKey = "username"
	// ContextTokenKey stores the raw bearer token so logout can revoke it.
	ContextTokenKey = "token"
	// ContextTokenExpiryKey stores the token expiry.
	ContextTokenExpiryKey = "token_expiry"
	// ContextSessionKey stores the guest session id.
	ContextSessionKey = "session_id"
)

// AuthRequired ensures the request is authenticated via JWT.
func AuthRequired() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			utils.Error(ctx, http.StatusUnauthorized, 40101, "authorization header missing")
			return
		}

		tokenString, ok := bearerToken(authHeader)
		if !ok {
			utils.Error(ctx, http.StatusUnauthorized, 40102, "invalid authorization header format")
			return
		}

		if utils.IsTokenBlacklisted(ctx.Request.Context(), tokenString) {
			utils.Error(ctx, http.StatusUnauthorized, 40104, "token revoked")
			return
		}

		claims, err := utils.ParseToken(tokenString)
		if err != nil {
			utils.Error(ctx, http.StatusUnauthorized, 40105, "invalid token")
			return
		}

		setIdentity(ctx, tokenString, claims)
		ctx.Next()
	}
}

// Identify attaches whatever identity the request carries without rejecting it:
// a user when a valid bearer token is present, and always a guest session id
// taken from the session cookie (a new one is issued when missing).
func Identify() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if tokenString, ok := bearerToken(ctx.GetHeader("Authorization")); ok &&
			!utils.IsTokenBlacklisted(ctx.Request.Context(), tokenString) {
			if claims, err := utils.ParseToken(tokenString); err == nil {
				setIdentity(ctx, tokenString, claims)
			}
		}

		cfg := config.Get()
		sid, err := ctx.Cookie(cfg.SessionCookieName)
		if _, perr := uuid.Parse(sid); err != nil || perr != nil {
			sid = uuid.NewString()
		}
		maxAge := int((time.Duration(cfg.SessionTTLHours) * time.Hour).Seconds())
		ctx.SetSameSite(http.SameSiteLaxMode)
		ctx.SetCookie(cfg.SessionCookieName, sid, maxAge, "/", "", false, true)
		ctx.Set(ContextSessionKey, sid)
		ctx.Next()
	}
}

// SessionID returns the guest session id attached by Identify.
func SessionID(ctx *gin.Context) string {
	return ctx.GetString(ContextSessionKey)
}

func setIdentity(ctx *gin.Context, token string, claims *utils.Claims) {
	ctx.Set(ContextUserIDKey, claims.UserID)
	ctx.Set(ContextUsernameKey, claims.Username)
	ctx.Set(ContextTokenKey, token)
	if claims.ExpiresAt != nil {
		ctx.Set(ContextTokenExpiryKey, claims.ExpiresAt.Time)
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
