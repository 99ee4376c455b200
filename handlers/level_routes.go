// handlers/level_routes.go
package handlers

import (
	"user-level-system/services"

	"github.com/gofiber/fiber/v2"
)

func setupLevelAdminRoutes(r fiber.Router, s Services) {
	r.Get("/levels", func(c *fiber.Ctx) error {
		page, err := s.Levels.List(c.UserContext(), services.LevelQuery{
			Title: c.Query("title"),
			Page:  queryInt(c, "page", 1),
			Size:  queryInt(c, "size", 20),
		})
		if err != nil {
			return fail(c, "failed to list levels", err)
		}
		return c.JSON(page)
	})

	r.Get("/levels/:id", func(c *fiber.Ctx) error {
		lvl, err := s.Levels.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, "failed to get level", err)
		}
		return c.JSON(lvl)
	})

	r.Post("/levels", func(c *fiber.Ctx) error {
		var req services.LevelInput
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		lvl, err := s.Levels.Create(c.UserContext(), req)
		if err != nil {
			return fail(c, "failed to create level", err)
		}
		return c.Status(fiber.StatusCreated).JSON(lvl)
	})

	r.Put("/levels/:id", func(c *fiber.Ctx) error {
		var req services.LevelInput
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		lvl, err := s.Levels.Update(c.UserContext(), c.Params("id"), req)
		if err != nil {
			return fail(c, "failed to update level", err)
		}
		return c.JSON(lvl)
	})

	r.Delete("/levels/:id", func(c *fiber.Ctx) error {
		if err := s.Levels.Delete(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, "failed to delete level", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/levels/batch-delete", func(c *fiber.Ctx) error {
		type Req struct {
			IDs []string `json:"ids" validate:"required,min=1,dive,required"`
		}
		var req Req
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		if err := s.Levels.BatchDelete(c.UserContext(), req.IDs); err != nil {
			return fail(c, "failed to delete levels", err)
		}
		return c.JSON(fiber.Map{"deleted": len(req.IDs)})
	})

	r.Get("/levels/:id/rules", func(c *fiber.Ctx) error {
		rules, err := s.Rules.ListByLevel(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, "failed to list rules", err)
		}
		return c.JSON(rules)
	})

	r.Get("/rules/:id", func(c *fiber.Ctx) error {
		rule, err := s.Rules.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return fail(c, "failed to get rule", err)
		}
		return c.JSON(rule)
	})

	r.Post("/rules", func(c *fiber.Ctx) error {
		var req services.RuleInput
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		rule, err := s.Rules.Create(c.UserContext(), req)
		if err != nil {
			return fail(c, "failed to create rule", err)
		}
		return c.Status(fiber.StatusCreated).JSON(rule)
	})

	r.Put("/rules/:id", func(c *fiber.Ctx) error {
		var req services.RuleInput
		if err := bind(c, &req); err != nil {
			return fail(c, "invalid request", err)
		}
		rule, err := s.Rules.Update(c.UserContext(), c.Params("id"), req)
		if err != nil {
			return fail(c, "failed to update rule", err)
		}
		return c.JSON(rule)
	})

	r.Delete("/rules/:id", func(c *fiber.Ctx) error {
		if err := s.Rules.Delete(c.UserContext(), c.Params("id")); err != nil {
			return fail(c, "failed to delete rule", err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}
