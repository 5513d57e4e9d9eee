package market

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// TradedAsset is a token listed for sale, either multi (fungible per id) or
// unique (one owner per id).
type TradedAsset interface {
	Standard() model.Standard
	BalanceOf(ctx context.Context, owner model.Address, id sdkmath.Int) (sdkmath.Int, error)
	IsApproved(ctx context.Context, owner, operator model.Address, id sdkmath.Int) (bool, error)
	SafeTransferFrom(ctx context.Context, operator, from, to model.Address, id, amount sdkmath.Int) error
}

// PaymentToken is a fungible token accepted as payment.
type PaymentToken interface {
	Decimals() uint8
	BalanceOf(ctx context.Context, owner model.Address) (sdkmath.Int, error)
	Allowance(ctx context.Context, owner, spender model.Address) (sdkmath.Int, error)
	TransferFrom(ctx context.Context, spender, from, to model.Address, amount sdkmath.Int) error
}

// NativeCurrency is the ledger's own currency.
type NativeCurrency interface {
	Decimals() uint8
	BalanceOf(ctx context.Context, owner model.Address) (sdkmath.Int, error)
	Transfer(ctx context.Context, from, to model.Address, amount sdkmath.Int) error
}

// PriceFeed reports the USD price of one payment asset.
type PriceFeed interface {
	Decimals() uint8
	LatestRound(ctx context.Context) (model.Round, error)
}

// Contracts resolves deployed contract code by address.
type Contracts interface {
	Lookup(addr model.Address) (any, bool)
}

// Ledger executes marketplace calls atomically.
type Ledger interface {
	Contracts
	Execute(ctx context.Context, caller model.Address, method string, fn func(ctx context.Context, tx *chain.Tx) error) (*model.Receipt, error)
	View(ctx context.Context, fn func(ctx context.Context, tx *chain.Tx) error) error
}

func (m *Marketplace) tradedAsset(addr model.Address) (TradedAsset, error) {
	if c, ok := m.ledger.Lookup(addr); ok {
		if a, ok := c.(TradedAsset); ok {
			return a, nil
		}
	}
	return nil, ErrUnknownAsset.Errorf("%s is not a traded asset", addr)
}

func (m *Marketplace) paymentToken(addr model.Address) (PaymentToken, error) {
	if c, ok := m.ledger.Lookup(addr); ok {
		if t, ok := c.(PaymentToken); ok {
			return t, nil
		}
	}
	return nil, ErrUnknownAsset.Errorf("%s is not a payment token", addr)
}

func (m *Marketplace) nativeCurrency() (NativeCurrency, error) {
	if c, ok := m.ledger.Lookup(model.NativeAsset); ok {
		if n, ok := c.(NativeCurrency); ok {
			return n, nil
		}
	}
	return nil, ErrUnknownAsset.Errorf("native currency is not deployed")
}

func (m *Marketplace) priceFeed(addr model.Address) (PriceFeed, bool) {
	if c, ok := m.ledger.Lookup(addr); ok {
		f, ok := c.(PriceFeed)
		return f, ok
	}
	return nil, false
}
