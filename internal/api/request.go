package api

import (
	"encoding/json"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Integer amounts travel as JSON numbers or decimal strings.

// OfferKeyRequest identifies an offer.
type OfferKeyRequest struct {
	Seller  string      `json:"seller" example:"0x0000000000000000000000000000000000000003"`
	Token   string      `json:"token" example:"0x0000000000000000000000000000000000001155"`
	TokenID json.Number `json:"tokenId" example:"1"`
}

func (r OfferKeyRequest) key() (model.OfferKey, error) {
	seller, err := parseAddress("seller", r.Seller)
	if err != nil {
		return model.OfferKey{}, err
	}
	token, err := parseAddress("token", r.Token)
	if err != nil {
		return model.OfferKey{}, err
	}
	id, err := parseInt("tokenId", r.TokenID, true)
	if err != nil {
		return model.OfferKey{}, err
	}
	return model.OfferKey{Seller: seller, Token: token, TokenID: id}, nil
}

// BarterRequest names the exact asset the seller takes in place of the price.
type BarterRequest struct {
	Token    string      `json:"token"`
	ID       json.Number `json:"id"`
	Amount   json.Number `json:"amount"`
	TopUpUSD json.Number `json:"topUpUsd"`
}

// CreateOfferRequest lists a token. Amount is ignored for unique tokens.
type CreateOfferRequest struct {
	Token    string         `json:"token"`
	TokenID  json.Number    `json:"tokenId"`
	Amount   json.Number    `json:"amount"`
	Deadline time.Time      `json:"deadline" example:"2025-06-01T12:00:00Z"`
	PriceUSD json.Number    `json:"priceUsd" example:"250"`
	Barter   *BarterRequest `json:"barter,omitempty"`
}

func (r CreateOfferRequest) toMarket(unique bool) (market.CreateOfferRequest, error) {
	var out market.CreateOfferRequest
	var err error
	if out.Token, err = parseAddress("token", r.Token); err != nil {
		return out, err
	}
	if out.TokenID, err = parseInt("tokenId", r.TokenID, true); err != nil {
		return out, err
	}
	if out.Amount, err = parseInt("amount", r.Amount, !unique); err != nil {
		return out, err
	}
	if out.PriceUSD, err = parseInt("priceUsd", r.PriceUSD, true); err != nil {
		return out, err
	}
	if r.Deadline.IsZero() {
		return out, invalid("deadline is required")
	}
	out.Deadline = r.Deadline
	if r.Barter != nil {
		token, err := parseAddress("barter.token", r.Barter.Token)
		if err != nil {
			return out, err
		}
		id, err := parseInt("barter.id", r.Barter.ID, true)
		if err != nil {
			return out, err
		}
		amount, err := parseInt("barter.amount", r.Barter.Amount, true)
		if err != nil {
			return out, err
		}
		topUp, err := parseInt("barter.topUpUsd", r.Barter.TopUpUSD, false)
		if err != nil {
			return out, err
		}
		if topUp.IsNil() {
			topUp = sdkmath.ZeroInt()
		}
		out.Barter = &model.BarterTerms{Token: token, ID: id, Amount: amount, TopUpUSD: topUp}
	}
	return out, nil
}

type AcceptNativeRequest struct {
	OfferKeyRequest
	Value json.Number `json:"value"`
}

type AcceptTokenRequest struct {
	OfferKeyRequest
	PaymentAsset string      `json:"paymentAsset"`
	MaxPayment   json.Number `json:"maxPayment,omitempty"`
}

func (r AcceptTokenRequest) toMarket() (market.AcceptTokenRequest, error) {
	var out market.AcceptTokenRequest
	var err error
	if out.PaymentAsset, err = parseAddress("paymentAsset", r.PaymentAsset); err != nil {
		return out, err
	}
	max, err := parseInt("maxPayment", r.MaxPayment, false)
	if err != nil {
		return out, err
	}
	if !max.IsNil() {
		out.MaxPayment = &max
	}
	return out, nil
}

type AcceptAssetRequest struct {
	OfferKeyRequest
	BarterID     json.Number `json:"barterId"`
	BarterAmount json.Number `json:"barterAmount"`
	PaymentAsset string      `json:"paymentAsset"`
}

func (r AcceptAssetRequest) toMarket() (market.AcceptAssetRequest, error) {
	var out market.AcceptAssetRequest
	var err error
	if out.BarterID, err = parseInt("barterId", r.BarterID, true); err != nil {
		return out, err
	}
	if out.BarterAmount, err = parseInt("barterAmount", r.BarterAmount, true); err != nil {
		return out, err
	}
	if out.PaymentAsset, err = parseAddress("paymentAsset", r.PaymentAsset); err != nil {
		return out, err
	}
	return out, nil
}

type FeeRequest struct {
	FeeBps *uint32 `json:"feeBps"`
}

type AddressRequest struct {
	Address string `json:"address"`
}

type WhitelistRequest struct {
	Asset   string `json:"asset"`
	Enabled *bool  `json:"enabled"`
}

type OracleFeedRequest struct {
	Asset string `json:"asset"`
	Feed  string `json:"feed"`
}

type UpgradeRequest struct {
	Version uint32 `json:"version"`
}

type ApproveAllRequest struct {
	Token    string `json:"token"`
	Operator string `json:"operator"`
	Approved *bool  `json:"approved"`
}

// ApproveRequest sets a fungible allowance, or approves one unique token id.
type ApproveRequest struct {
	Token   string      `json:"token"`
	Spender string      `json:"spender"`
	Value   json.Number `json:"value"`
}

// parseAddress accepts the native sentinel as well as contract addresses.
func parseAddress(field, s string) (model.Address, error) {
	if s == "" {
		return "", invalid(field + " is required")
	}
	a, err := model.ParseAddress(s)
	if err != nil {
		return "", invalid(fmt.Sprintf("%s: %v", field, err))
	}
	return a, nil
}

// parseInt returns a nil Int when n is empty and not required.
func parseInt(field string, n json.Number, required bool) (sdkmath.Int, error) {
	if n == "" {
		if required {
			return sdkmath.Int{}, invalid(field + " is required")
		}
		return sdkmath.Int{}, nil
	}
	v, ok := sdkmath.NewIntFromString(n.String())
	if !ok || v.IsNegative() {
		return sdkmath.Int{}, invalid(fmt.Sprintf("%s: %q is not a non-negative integer", field, n))
	}
	return v, nil
}

func jsonNumber(s string) json.Number {
	return json.Number(s)
}
