// handlers/respond.go
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"user-level-system/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidUser), errors.Is(err, services.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, services.ErrDuplicate),
		errors.Is(err, services.ErrLevelInUse),
		errors.Is(err, services.ErrConcurrentModification):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, services.ErrStoreUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, msg string, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": msg,
		"cause": err.Error(),
	})
}

// bind parses the JSON body into req and runs struct validation. Failures are
// reported as services.ErrValidation so fail() answers 400.
func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", services.ErrValidation, err)
	}
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	return nil
}

func queryInt(c *fiber.Ctx, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return n
}

// outcomeJSON renders an engine outcome.
func outcomeJSON(out services.Outcome) fiber.Map {
	m := fiber.Map{
		"kind":    out.Kind,
		"changed": out.Changed(),
		"message": out.Message(),
		"user_id": out.UserID,
		"from":    out.From.Info(),
		"to":      out.To.Info(),
	}
	if out.Rule != nil {
		m["rule"] = fiber.Map{"id": out.Rule.ID, "title": out.Rule.Title, "value": out.Rule.Value}
	}
	if out.Log != nil {
		m["log_id"] = out.Log.ID
	}
	return m
}
