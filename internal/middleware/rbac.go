package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-coding-session/internal/utils"
)

// Roles carried in the JWT "role" claim.
const (
	RoleCandidate = "candidate"
	RoleProctor   = "proctor"
	RoleAdmin     = "admin"
)

// RequireRole lets the request through only when the role bound by JWTProtected is one
// of roles. Candidates without a role claim never pass.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalized := strings.ToLower(strings.TrimSpace(role)); normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[UserRole(c)]; !ok {
			return utils.SendErrorCode(c, fiber.StatusForbidden, "forbidden", "role not allowed to manage coding tests")
		}
		return c.Next()
	}
}

// StaffOnly guards the catalog routes.
func StaffOnly() fiber.Handler {
	return RequireRole(RoleAdmin, RoleProctor)
}

// UserRole returns the lower-cased role bound by JWTProtected.
func UserRole(c *fiber.Ctx) string {
	role, _ := c.Locals(LocalUserRole).(string)
	return strings.ToLower(strings.TrimSpace(role))
}
