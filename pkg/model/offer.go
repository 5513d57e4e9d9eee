package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
)

// Standard is the token standard of a traded asset.
type Standard uint8

const (
	// StandardMulti is a fungible-per-id token (ERC-1155 style).
	StandardMulti Standard = iota
	// StandardUnique is a unique-per-id token (ERC-721 style).
	StandardUnique
)

func (s Standard) String() string {
	switch s {
	case StandardMulti:
		return "multi"
	case StandardUnique:
		return "unique"
	default:
		return "unknown"
	}
}

func (s Standard) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Standard) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "multi", "erc1155":
		*s = StandardMulti
	case "unique", "erc721":
		*s = StandardUnique
	default:
		return fmt.Errorf("invalid token standard: %s", v)
	}
	return nil
}

// OfferStatus is the lifecycle state of an offer. Active is the zero value so
// records persisted before the status field existed decode as active.
type OfferStatus uint8

const (
	StatusActive OfferStatus = iota
	StatusCancelled
	StatusAccepted
)

func (s OfferStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCancelled:
		return "cancelled"
	case StatusAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s OfferStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusAccepted
}

func (s OfferStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// OfferKey is the identity of an offer.
type OfferKey struct {
	Seller  Address     `json:"seller"`
	Token   Address     `json:"token"`
	TokenID sdkmath.Int `json:"tokenId"`
}

func (k OfferKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Seller, k.Token, k.TokenID)
}

// BarterTerms lets a seller take Amount of token id ID in place of the price,
// plus a USD top-up.
type BarterTerms struct {
	Token    Address     `json:"token"`
	ID       sdkmath.Int `json:"id"`
	Amount   sdkmath.Int `json:"amount"`
	TopUpUSD sdkmath.Int `json:"topUpUsd"`
}

// Offer is a standing sell order.
type Offer struct {
	OfferKey
	Standard  Standard     `json:"standard"`
	Amount    sdkmath.Int  `json:"amount"`
	Deadline  time.Time    `json:"deadline"`
	PriceUSD  sdkmath.Int  `json:"priceUsd"`
	Status    OfferStatus  `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	Barter    *BarterTerms `json:"barter,omitempty"`

	// Set when the offer is accepted.
	Buyer         Address     `json:"buyer,omitempty"`
	PaymentAsset  Address     `json:"paymentAsset,omitempty"`
	PaymentAmount sdkmath.Int `json:"paymentAmount"`
	FeeAmount     sdkmath.Int `json:"feeAmount"`
	SettledAt     time.Time   `json:"settledAt,omitempty"`
}

// Expired reports whether the offer can no longer be accepted at now.
func (o *Offer) Expired(now time.Time) bool {
	return now.After(o.Deadline)
}
