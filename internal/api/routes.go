package api

import (
	"context"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports the health of one dependency.
type HealthCheck func(ctx context.Context) error

func RegisterRoutes(app *fiber.App, h *Handler, requireCaller fiber.Handler, checks map[string]HealthCheck) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(checks))
		for name := range checks {
			names = append(names, name)
		}
		sort.Strings(names)

		results := make(map[string]string, len(checks))
		status := "ok"
		code := fiber.StatusOK
		for _, name := range names {
			if err := checks[name](healthCtx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				code = fiber.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": results,
		})
	})

	v1 := app.Group("/api/v1")

	// reads
	v1.Get("/config", h.Config)
	v1.Get("/quote", h.Quote)
	v1.Get("/offers/:seller/:token/:tokenId", h.GetOffer)
	v1.Get("/offers/:seller/:token/:tokenId/history", h.OfferHistory)
	v1.Get("/assets/:token/balance/:owner", h.Balance)
	v1.Get("/receipts/:id", h.Receipt)

	// calls signed by the API key's address
	v1.Post("/offers", requireCaller, h.CreateOffer)
	v1.Post("/offers/unique", requireCaller, h.CreateUniqueOffer)
	v1.Post("/offers/cancel", requireCaller, h.CancelOffer)
	v1.Post("/offers/accept/native", requireCaller, h.AcceptWithNative)
	v1.Post("/offers/accept/token", requireCaller, h.AcceptWithToken)
	v1.Post("/offers/accept/asset", requireCaller, h.AcceptWithAsset)

	v1.Post("/admin/fee", requireCaller, h.SetFee)
	v1.Post("/admin/fee-recipient", requireCaller, h.SetFeeRecipient)
	v1.Post("/admin/whitelist", requireCaller, h.SetWhitelist)
	v1.Post("/admin/oracle-feed", requireCaller, h.SetOracleFeed)
	v1.Post("/admin/transfer", requireCaller, h.TransferAdmin)

	v1.Post("/assets/approve-all", requireCaller, h.ApproveAll)
	v1.Post("/assets/approve", requireCaller, h.Approve)

	v1.Post("/proxy/upgrade", requireCaller, h.Upgrade)
	v1.Post("/proxy/transfer", requireCaller, h.TransferProxyOwnership)
}
