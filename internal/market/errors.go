package market

import (
	"errors"
	"fmt"
)

// Kind classifies why a call was rejected.
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindAsset         Kind = "asset"
	KindFunds         Kind = "funds"
	KindConfig        Kind = "config"
	KindValidation    Kind = "validation"
)

// Error is a rejected call. Two errors match under errors.Is when their codes
// are equal, so detail added with Errorf does not hide the code.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"error"`
}

func NewError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errorf returns a copy of e with a more specific message.
func (e *Error) Errorf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the *Error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Code returns the rejection code of err, or "INTERNAL".
func Code(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return "INTERNAL"
}

var (
	ErrNotAdmin      = NewError(KindAuthorization, "NOT_ADMIN", "caller is not the admin")
	ErrNotAuthorized = NewError(KindAuthorization, "NOT_AUTHORIZED", "caller is not the offer's seller")

	ErrOfferNotActive       = NewError(KindState, "OFFER_NOT_ACTIVE", "offer is not active")
	ErrOfferNotFound        = NewError(KindState, "OFFER_NOT_FOUND", "offer does not exist")
	ErrOfferExists          = NewError(KindState, "OFFER_EXISTS", "an active offer already exists")
	ErrDeadlinePassed       = NewError(KindState, "DEADLINE_PASSED", "offer deadline has passed")
	ErrCannotAcceptOwnOffer = NewError(KindState, "CANNOT_ACCEPT_OWN_OFFER", "seller cannot accept own offer")
	ErrAlreadyInitialized   = NewError(KindState, "ALREADY_INITIALIZED", "marketplace already initialized")
	ErrNotInitialized       = NewError(KindState, "NOT_INITIALIZED", "marketplace not initialized")
	ErrReentrantCall        = NewError(KindState, "REENTRANT_CALL", "reentrant call")

	ErrNotApproved              = NewError(KindAsset, "NOT_APPROVED", "marketplace is not approved to move the asset")
	ErrInsufficientTokenBalance = NewError(KindAsset, "INSUFFICIENT_TOKEN_BALANCE", "owner no longer holds the offered quantity")
	ErrAssetNotWhitelisted      = NewError(KindAsset, "ASSET_NOT_WHITELISTED", "payment asset is not whitelisted")
	ErrNoOracleFeed             = NewError(KindAsset, "NO_ORACLE_FEED", "no oracle feed for payment asset")
	ErrInvalidOracleRate        = NewError(KindAsset, "INVALID_ORACLE_RATE", "oracle rate is not positive")
	ErrUnknownAsset             = NewError(KindAsset, "UNKNOWN_ASSET", "unknown asset contract")
	ErrBarterNotAccepted        = NewError(KindAsset, "BARTER_NOT_ACCEPTED", "offer does not accept barter")
	ErrBarterMismatch           = NewError(KindAsset, "BARTER_MISMATCH", "barter asset does not match the offer's terms")

	ErrInsufficientAllowance = NewError(KindFunds, "INSUFFICIENT_ALLOWANCE", "payment allowance below required amount")
	ErrInsufficientBalance   = NewError(KindFunds, "INSUFFICIENT_BALANCE", "payment balance below required amount")
	ErrInsufficientValue     = NewError(KindFunds, "INSUFFICIENT_VALUE", "attached value below required amount")
	ErrPriceExceedsMax       = NewError(KindFunds, "PRICE_EXCEEDS_MAX", "payment amount exceeds buyer's maximum")

	ErrFeeOutOfRange  = NewError(KindConfig, "FEE_OUT_OF_RANGE", "fee exceeds maximum")
	ErrUnsupported    = NewError(KindConfig, "UNSUPPORTED", "operation not supported by the active version")
	ErrVersionChanged = NewError(KindConfig, "VERSION_CHANGED", "logic version changed during the call")

	ErrInvalidAddress  = NewError(KindValidation, "INVALID_ADDRESS", "address must not be zero")
	ErrInvalidAmount   = NewError(KindValidation, "INVALID_AMOUNT", "amount must be positive")
	ErrInvalidDeadline = NewError(KindValidation, "INVALID_DEADLINE", "deadline must be in the future")
	ErrInvalidPrice    = NewError(KindValidation, "INVALID_PRICE", "price must be positive")
)
