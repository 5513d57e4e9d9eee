package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/internal/rate"
	"github.com/Checker-Finance/marketplace/internal/secrets"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "X-API-Key"

const callerKey = "caller"

// Authenticator resolves API keys. *secrets.APIKeyResolver implements it.
type Authenticator interface {
	Resolve(ctx context.Context, apiKey string) (secrets.Principal, error)
}

// RequireCaller resolves the API key into the calling address and applies the
// per-caller rate limit. limits may be nil.
func RequireCaller(auth Authenticator, limits *rate.Manager, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx) error {
		p, err := auth.Resolve(c.UserContext(), c.Get(HeaderAPIKey))
		if err != nil {
			return writeError(c, err)
		}
		if limits != nil && !limits.Allow(p.Address.String()) {
			logger.Warn("api.rate_limited",
				zap.String("principal", p.Name),
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusTooManyRequests).JSON(ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
				Kind:  string(market.KindValidation),
			})
		}
		c.Locals(callerKey, p.Address)
		return c.Next()
	}
}

func callerOf(c *fiber.Ctx) model.Address {
	if a, ok := c.Locals(callerKey).(model.Address); ok {
		return a
	}
	return ""
}
