package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/internal/secrets"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Kind  string `json:"kind"`
}

var kindStatus = map[market.Kind]int{
	market.KindAuthorization: fiber.StatusForbidden,
	market.KindState:         fiber.StatusConflict,
	market.KindAsset:         fiber.StatusUnprocessableEntity,
	market.KindFunds:         fiber.StatusPaymentRequired,
	market.KindConfig:        fiber.StatusBadRequest,
	market.KindValidation:    fiber.StatusBadRequest,
}

var ledgerErrors = []struct {
	err    error
	status int
	body   ErrorResponse
}{
	{chain.ErrUnknownContract, fiber.StatusNotFound, ErrorResponse{Code: "UNKNOWN_CONTRACT", Kind: string(market.KindAsset)}},
	{chain.ErrUnsupported, fiber.StatusUnprocessableEntity, ErrorResponse{Code: "UNSUPPORTED", Kind: string(market.KindAsset)}},
	{chain.ErrInsufficientBalance, fiber.StatusPaymentRequired, ErrorResponse{Code: "INSUFFICIENT_BALANCE", Kind: string(market.KindFunds)}},
	{chain.ErrInsufficientAllowance, fiber.StatusPaymentRequired, ErrorResponse{Code: "INSUFFICIENT_ALLOWANCE", Kind: string(market.KindFunds)}},
	{chain.ErrNotOwner, fiber.StatusForbidden, ErrorResponse{Code: "NOT_OWNER", Kind: string(market.KindAuthorization)}},
	{chain.ErrInvalidAmount, fiber.StatusBadRequest, ErrorResponse{Code: "INVALID_AMOUNT", Kind: string(market.KindValidation)}},
}

// errorResponse maps err to an HTTP status and body.
func errorResponse(err error) (int, ErrorResponse) {
	if errors.Is(err, secrets.ErrUnauthorized) {
		return fiber.StatusUnauthorized, ErrorResponse{Error: err.Error(), Code: "UNAUTHORIZED", Kind: string(market.KindAuthorization)}
	}
	if e, ok := market.AsError(err); ok {
		status, known := kindStatus[e.Kind]
		if !known {
			status = fiber.StatusInternalServerError
		}
		if e.Code == market.ErrOfferNotFound.Code {
			status = fiber.StatusNotFound
		}
		return status, ErrorResponse{Error: e.Message, Code: e.Code, Kind: string(e.Kind)}
	}
	for _, le := range ledgerErrors {
		if errors.Is(err, le.err) {
			body := le.body
			body.Error = err.Error()
			return le.status, body
		}
	}
	return fiber.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL", Kind: "internal"}
}

func invalid(msg string) error {
	return market.NewError(market.KindValidation, "INVALID_REQUEST", msg)
}

func writeError(c *fiber.Ctx, err error) error {
	status, body := errorResponse(err)
	return c.Status(status).JSON(body)
}
