// handlers/routes.go
package handlers

import (
	"user-level-system/logger"
	"user-level-system/middleware"
	"user-level-system/services"

	"github.com/gofiber/fiber/v2"
)

// Services bundles everything the HTTP layer calls.
type Services struct {
	Levels    *services.LevelService
	Rules     *services.RuleService
	Progress  *services.ProgressService
	Relations *services.RelationService
	Logs      *services.AssignLogService
	Upgrades  *services.UpgradeService
}

// SetupRoutes mounts the public, user and admin routes.
// /user/* and /admin/* require the gateway's X-User-ID header.
func SetupRoutes(app *fiber.App, s Services, log *logger.Logger) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/levels", func(c *fiber.Ctx) error {
		levels, err := s.Levels.Ladder(c.UserContext())
		if err != nil {
			return fail(c, "failed to list levels", err)
		}
		return c.JSON(levels)
	})

	user := app.Group("/user", middleware.UserContextMiddleware(log))
	setupUserLevelRoutes(user, s)

	admin := app.Group("/admin", middleware.UserContextMiddleware(log))
	setupLevelAdminRoutes(admin, s)
	setupUserAdminRoutes(admin, s)
}
