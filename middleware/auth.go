package middleware

import (
	"slices"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// OperatorContextMiddleware reads the operator identity and roles the
// Gateway forwards in X-User-ID and X-User-Roles.
func OperatorContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				roles = append(roles, r)
			}
		}
		c.Locals("user_id", c.Get("X-User-ID"))
		c.Locals("user_roles", roles)
		return c.Next()
	}
}

// RequireRole rejects requests whose operator lacks role. It expects
// OperatorContextMiddleware to have run.
func RequireRole(role string, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := c.Locals("user_id").(string)
		roles, _ := c.Locals("user_roles").([]string)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID, request must carry operator context",
			})
		}
		if !slices.Contains(roles, role) {
			logger.Warn().Str("user_id", userID).Str("path", c.Path()).Str("role", role).Msg("operator lacks role")
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "insufficient role",
			})
		}
		return c.Next()
	}
}
