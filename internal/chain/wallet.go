package chain

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Wallet performs account-level token operations on behalf of a caller:
// approvals ahead of a listing or a token payment, and balance lookups.
type Wallet struct {
	host *Host
}

func NewWallet(host *Host) *Wallet {
	return &Wallet{host: host}
}

type operatorApprover interface {
	SetApprovalForAll(ctx context.Context, owner, operator model.Address, approved bool) error
}

// SetApprovalForAll lets operator move every id of token held by caller.
func (w *Wallet) SetApprovalForAll(ctx context.Context, caller, token, operator model.Address, approved bool) (*model.Receipt, error) {
	c, ok := w.host.Lookup(token)
	if !ok {
		return nil, fmt.Errorf("%s: %w", token, ErrUnknownContract)
	}
	a, ok := c.(operatorApprover)
	if !ok {
		return nil, fmt.Errorf("%s has no operator approvals: %w", token, ErrUnsupported)
	}
	return w.host.Execute(ctx, caller, "SetApprovalForAll", func(ctx context.Context, tx *Tx) error {
		return a.SetApprovalForAll(ctx, tx.Caller(), operator, approved)
	})
}

// Approve sets a fungible allowance of value for spender, or approves spender
// for unique token id value.
func (w *Wallet) Approve(ctx context.Context, caller, token, spender model.Address, value sdkmath.Int) (*model.Receipt, error) {
	if value.IsNil() || value.IsNegative() {
		return nil, ErrInvalidAmount
	}
	c, ok := w.host.Lookup(token)
	if !ok {
		return nil, fmt.Errorf("%s: %w", token, ErrUnknownContract)
	}
	switch t := c.(type) {
	case *FungibleToken:
		return w.host.Execute(ctx, caller, "FungibleToken.Approve", func(ctx context.Context, tx *Tx) error {
			return t.Approve(ctx, tx.Caller(), spender, value)
		})
	case *UniqueToken:
		return w.host.Execute(ctx, caller, "UniqueToken.Approve", func(ctx context.Context, tx *Tx) error {
			return t.Approve(ctx, tx.Caller(), spender, value)
		})
	default:
		return nil, fmt.Errorf("%s has no single approvals: %w", token, ErrUnsupported)
	}
}

// Balance returns owner's holding of token. id is ignored for the native
// currency and fungible tokens.
func (w *Wallet) Balance(ctx context.Context, token, owner model.Address, id sdkmath.Int) (sdkmath.Int, error) {
	if id.IsNil() {
		id = sdkmath.ZeroInt()
	}
	var out sdkmath.Int
	err := w.host.View(ctx, func(ctx context.Context, _ *Tx) error {
		var err error
		if token.IsZero() {
			out, err = NativeCurrency{}.BalanceOf(ctx, owner)
			return err
		}
		c, ok := w.host.Lookup(token)
		if !ok {
			return fmt.Errorf("%s: %w", token, ErrUnknownContract)
		}
		switch t := c.(type) {
		case *FungibleToken:
			out, err = t.BalanceOf(ctx, owner)
		case *MultiToken:
			out, err = t.BalanceOf(ctx, owner, id)
		case *UniqueToken:
			out, err = t.BalanceOf(ctx, owner, id)
		default:
			err = fmt.Errorf("%s holds no balances: %w", token, ErrUnsupported)
		}
		return err
	})
	return out, err
}
