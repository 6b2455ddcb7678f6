package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-forum/internal/utils"
)

// Roles recognised by the forum.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// IsModerator reports whether the role may moderate any thread.
func IsModerator(role string) bool {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleAdmin, RoleTeacher:
		return true
	}
	return false
}

// RequireUser rejects requests that carry no authenticated identity.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		return c.Next()
	}
}

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if UserID(c) == "" {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" for anonymous requests.
func UserID(c *fiber.Ctx) string {
	return localString(c.Locals(LocalUserID))
}

// UserRole returns the normalised role of the authenticated user.
func UserRole(c *fiber.Ctx) string {
	return strings.ToLower(localString(c.Locals(LocalUserRole)))
}

// UserName returns the display name claim, if any.
func UserName(c *fiber.Ctx) string {
	return localString(c.Locals(LocalUserName))
}

// UserAvatar returns the avatar claim, if any.
func UserAvatar(c *fiber.Ctx) string {
	return localString(c.Locals(LocalUserAvatar))
}

func localString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}
