package handler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sifan077/LinkSwift/internal/app/service"
	"go.uber.org/zap"
)

var validate = validator.New()

// validateRequest checks struct tags and renders violations as one caller-readable message.
func validateRequest(req interface{}) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, fmt.Sprintf("%s: %s", fieldError.Field(), fieldError.Tag()))
	}
	return errors.New("invalid fields: " + strings.Join(messages, ", "))
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindInvalidInput:
		return fiber.StatusBadRequest
	case service.KindAuthRequired, service.KindPasswordRequired, service.KindInvalidPassword:
		return fiber.StatusUnauthorized
	case service.KindUnauthorized, service.KindForbidden:
		return fiber.StatusForbidden
	case service.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// writeError renders a service error as {"error", "reason", "redirect"?}. Internal
// details are logged, never returned.
func writeError(c *fiber.Ctx, logger *zap.Logger, err error) error {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		svcErr = &service.Error{Kind: service.KindInternal, Message: "unexpected error", Err: err}
	}

	message := svcErr.Message
	if svcErr.Kind == service.KindInternal {
		logger.Error("request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		message = "internal server error"
	}

	body := fiber.Map{
		"error":  message,
		"reason": string(svcErr.Kind),
	}
	if svcErr.Redirect != "" {
		body["redirect"] = svcErr.Redirect
	}
	return c.Status(statusFor(svcErr.Kind)).JSON(body)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  message,
		"reason": string(service.KindInvalidInput),
	})
}
