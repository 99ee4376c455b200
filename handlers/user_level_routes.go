// handlers/user_level_routes.go
package handlers

import (
	"errors"

	"user-level-system/middleware"
	"user-level-system/services"

	"github.com/gofiber/fiber/v2"
)

func setupUserLevelRoutes(r fiber.Router, s Services) {
	// Current level of the calling user. A user without a level gets level=null.
	r.Get("/level", func(c *fiber.Ctx) error {
		userID := middleware.UserID(c)
		rel, err := s.Relations.Current(c.UserContext(), userID)
		if errors.Is(err, services.ErrNotFound) {
			return c.JSON(fiber.Map{"user_id": userID, "level": nil})
		}
		if err != nil {
			return fail(c, "failed to get level", err)
		}
		return c.JSON(fiber.Map{
			"user_id":    userID,
			"level":      rel.Level.Info(),
			"updated_at": rel.UpdatedAt,
		})
	})

	r.Get("/level/logs", func(c *fiber.Ctx) error {
		page, err := s.Logs.ListByUser(c.UserContext(), services.AssignLogQuery{
			UserID: middleware.UserID(c),
			Page:   queryInt(c, "page", 1),
			Size:   queryInt(c, "size", 20),
			LastID: c.Query("last_id"),
		})
		if err != nil {
			return fail(c, "failed to get level logs", err)
		}
		return c.JSON(page)
	})

	r.Post("/level/advance", func(c *fiber.Ctx) error {
		out, err := s.Upgrades.Advance(c.UserContext(), services.UserID(middleware.UserID(c)))
		if err != nil {
			return fail(c, "level upgrade failed", err)
		}
		return c.JSON(outcomeJSON(out))
	})
}

func setupUserAdminRoutes(r fiber.Router, s Services) {
	r.Put("/progress", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id" validate:"required,max=64"`
			RuleID string `json:"rule_id" validate:"required"`
			Value  int64  `json:"value" validate:"min=0"`
		}
		var req Req
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		p, err := s.Progress.Set(c.UserContext(), req.UserID, req.RuleID, req.Value)
		if err != nil {
			return fail(c, "failed to set progress", err)
		}
		return c.JSON(p)
	})

	r.Post("/progress/increment", func(c *fiber.Ctx) error {
		type Req struct {
			UserID string `json:"user_id" validate:"required,max=64"`
			RuleID string `json:"rule_id" validate:"required"`
			Delta  int64  `json:"delta"`
		}
		var req Req
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		p, err := s.Progress.Increment(c.UserContext(), req.UserID, req.RuleID, req.Delta)
		if err != nil {
			return fail(c, "failed to increment progress", err)
		}
		return c.JSON(p)
	})

	r.Get("/progress", func(c *fiber.Ctx) error {
		rows, err := s.Progress.ListByUser(c.UserContext(), c.Query("user_id"))
		if err != nil {
			return fail(c, "failed to list progress", err)
		}
		return c.JSON(rows)
	})

	r.Get("/relations", func(c *fiber.Ctx) error {
		page, err := s.Relations.List(c.UserContext(), services.RelationQuery{
			LevelID: c.Query("level_id"),
			Page:    queryInt(c, "page", 1),
			Size:    queryInt(c, "size", 20),
		})
		if err != nil {
			return fail(c, "failed to list relations", err)
		}
		return c.JSON(page)
	})

	r.Post("/users/:user_id/assign", func(c *fiber.Ctx) error {
		type Req struct {
			LevelID string `json:"level_id" validate:"required"`
			Remark  string `json:"remark" validate:"max=100"`
		}
		var req Req
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		out, err := s.Relations.Assign(c.UserContext(), c.Params("user_id"), req.LevelID, req.Remark)
		if err != nil {
			return fail(c, "level assignment failed", err)
		}
		return c.JSON(outcomeJSON(out))
	})

	r.Get("/users/:user_id/level-logs", func(c *fiber.Ctx) error {
		page, err := s.Logs.ListByUser(c.UserContext(), services.AssignLogQuery{
			UserID: c.Params("user_id"),
			Page:   queryInt(c, "page", 1),
			Size:   queryInt(c, "size", 20),
			LastID: c.Query("last_id"),
		})
		if err != nil {
			return fail(c, "failed to get level logs", err)
		}
		return c.JSON(page)
	})

	r.Post("/users/:user_id/advance", func(c *fiber.Ctx) error {
		out, err := s.Upgrades.Advance(c.UserContext(), services.UserID(c.Params("user_id")))
		if err != nil {
			return fail(c, "level upgrade failed", err)
		}
		return c.JSON(outcomeJSON(out))
	})

	r.Post("/users/:user_id/demote", func(c *fiber.Ctx) error {
		type Req struct {
			Remark string `json:"remark" validate:"max=100"`
		}
		var req Req
		if len(c.Body()) > 0 {
			if err := bind(c, &req); err != nil {
				return fail(c, "invalid request", err)
			}
		}
		out, err := s.Upgrades.Demote(c.UserContext(), services.UserID(c.Params("user_id")), req.Remark)
		if err != nil {
			return fail(c, "level downgrade failed", err)
		}
		return c.JSON(outcomeJSON(out))
	})
}
