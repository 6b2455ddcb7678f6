package middleware

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-forum/internal/utils"
)

// Locals keys populated from verified token claims.
const (
	LocalUserID     = "user_id"
	LocalUserRole   = "user_role"
	LocalUserName   = "user_name"
	LocalUserAvatar = "user_avatar"
)

// JWTConfig tunes token extraction.
type JWTConfig struct {
	Secret string
	// QueryParam, when set, is consulted if the Authorization header is absent.
	// Browsers cannot attach headers to websocket upgrades.
	QueryParam string
	// Optional lets requests without any token through unauthenticated.
	// A token that is present but invalid is still rejected.
	Optional bool
}

// JWTProtected returns a middleware that validates JWT bearer tokens.
func JWTProtected(secret string) fiber.Handler {
	return JWT(JWTConfig{Secret: secret})
}

// JWT validates HMAC signed tokens and copies the identity claims into request locals.
func JWT(cfg JWTConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, err := extractToken(c, cfg.QueryParam)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}
		if tokenString == "" {
			if cfg.Optional {
				return c.Next()
			}
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing")
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(cfg.Secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}

		userID := extractUserIDFromClaims(claims)
		if userID == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "token subject missing")
		}
		c.Locals(LocalUserID, userID)
		if role := extractUserRoleFromClaims(claims); role != "" {
			c.Locals(LocalUserRole, role)
		}
		if name := claimString(claims, "name", "preferred_username"); name != "" {
			c.Locals(LocalUserName, name)
		}
		if avatar := claimString(claims, "avatar", "picture"); avatar != "" {
			c.Locals(LocalUserAvatar, avatar)
		}

		return c.Next()
	}
}

func extractToken(c *fiber.Ctx, queryParam string) (string, error) {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		if queryParam == "" {
			return "", nil
		}
		return strings.TrimSpace(c.Query(queryParam)), nil
	}

	const bearer = "bearer "
	if !strings.HasPrefix(strings.ToLower(authorization), bearer) {
		return "", fmt.Errorf("invalid authorization header")
	}

	tokenString := strings.TrimSpace(authorization[len(bearer):])
	if tokenString == "" {
		return "", fmt.Errorf("invalid token")
	}
	return tokenString, nil
}

func extractUserIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id", "id"} {
		if value, ok := claims[key]; ok {
			if normalized := normalizeUserID(value); normalized != "" {
				return normalized
			}
		}
	}
	return ""
}

func normalizeUserID(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return ""
		}
		return strconv.FormatInt(int64(v), 10)
	case int:
		if v < 0 {
			return ""
		}
		return strconv.Itoa(v)
	default:
		return ""
	}
}

func claimString(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func extractUserRoleFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"role", "roles"} {
		if value, ok := claims[key]; ok {
			if role := normalizeRole(value); role != "" {
				return role
			}
		}
	}
	return ""
}

func normalizeRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case []interface{}:
		for _, item := range v {
			if str, ok := item.(string); ok {
				if role := strings.ToLower(strings.TrimSpace(str)); role != "" {
					return role
				}
			}
		}
	}
	return ""
}
