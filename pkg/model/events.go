package model

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// Event names as emitted by the marketplace.
const (
	EventOfferCreated            = "OfferCreated"
	EventOfferCancelled          = "OfferCancelled"
	EventOfferAccepted           = "OfferAccepted"
	EventFeeUpdated              = "FeeUpdated"
	EventFeeRecipientUpdated     = "FeeRecipientUpdated"
	EventAdminTransferred        = "AdminTransferred"
	EventPaymentAssetWhitelisted = "PaymentAssetWhitelisted"
	EventOracleFeedSet           = "OracleFeedSet"
	EventInitialized             = "Initialized"
	EventUpgraded                = "Upgraded"
)

// Event is a record emitted by a committed call.
type Event interface {
	EventName() string
}

type OfferCreated struct {
	Seller   Address     `json:"seller"`
	Token    Address     `json:"token"`
	TokenID  sdkmath.Int `json:"tokenId"`
	Amount   sdkmath.Int `json:"amount"`
	Deadline time.Time   `json:"deadline"`
	PriceUSD sdkmath.Int `json:"priceUsd"`
}

func (OfferCreated) EventName() string { return EventOfferCreated }

type OfferCancelled struct {
	Seller  Address     `json:"seller"`
	Token   Address     `json:"token"`
	TokenID sdkmath.Int `json:"tokenId"`
}

func (OfferCancelled) EventName() string { return EventOfferCancelled }

type OfferAccepted struct {
	Buyer         Address     `json:"buyer"`
	Seller        Address     `json:"seller"`
	Token         Address     `json:"token"`
	TokenID       sdkmath.Int `json:"tokenId"`
	Amount        sdkmath.Int `json:"amount"`
	PriceUSD      sdkmath.Int `json:"priceUsd"`
	PaymentAsset  Address     `json:"paymentAsset"`
	PaymentAmount sdkmath.Int `json:"paymentAmount"`
	Fee           sdkmath.Int `json:"fee"`
}

func (OfferAccepted) EventName() string { return EventOfferAccepted }

type FeeUpdated struct {
	FeeBps uint32 `json:"feeBps"`
}

func (FeeUpdated) EventName() string { return EventFeeUpdated }

type FeeRecipientUpdated struct {
	Recipient Address `json:"recipient"`
}

func (FeeRecipientUpdated) EventName() string { return EventFeeRecipientUpdated }

type AdminTransferred struct {
	Previous Address `json:"previous"`
	Current  Address `json:"current"`
}

func (AdminTransferred) EventName() string { return EventAdminTransferred }

type PaymentAssetWhitelisted struct {
	Asset   Address `json:"asset"`
	Enabled bool    `json:"enabled"`
}

func (PaymentAssetWhitelisted) EventName() string { return EventPaymentAssetWhitelisted }

type OracleFeedSet struct {
	Asset Address `json:"asset"`
	Feed  Address `json:"feed"`
}

func (OracleFeedSet) EventName() string { return EventOracleFeedSet }

type Initialized struct {
	Admin        Address `json:"admin"`
	FeeRecipient Address `json:"feeRecipient"`
	FeeBps       uint32  `json:"feeBps"`
}

func (Initialized) EventName() string { return EventInitialized }

type Upgraded struct {
	Proxy   Address `json:"proxy"`
	Version uint32  `json:"version"`
}

func (Upgraded) EventName() string { return EventUpgraded }

// Round is the latest answer of a price feed.
type Round struct {
	ID        uint64      `json:"roundId"`
	Answer    sdkmath.Int `json:"answer"`
	UpdatedAt time.Time   `json:"updatedAt"`
}
