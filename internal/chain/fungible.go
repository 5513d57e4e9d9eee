package chain

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

// FungibleToken is a reference ERC-20 style payment token.
type FungibleToken struct {
	addr     model.Address
	symbol   string
	decimals uint8
}

func NewFungibleToken(addr model.Address, symbol string, decimals uint8) *FungibleToken {
	return &FungibleToken{addr: addr, symbol: symbol, decimals: decimals}
}

func (t *FungibleToken) Address() model.Address { return t.addr }
func (t *FungibleToken) Symbol() string         { return t.symbol }
func (t *FungibleToken) Decimals() uint8        { return t.decimals }

func (t *FungibleToken) balanceKey(owner model.Address) string {
	return t.addr.String() + "/bal/" + owner.String()
}

func (t *FungibleToken) allowanceKey(owner, spender model.Address) string {
	return t.addr.String() + "/allow/" + owner.String() + "/" + spender.String()
}

func (t *FungibleToken) BalanceOf(ctx context.Context, owner model.Address) (sdkmath.Int, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return tx.GetInt(ctx, t.balanceKey(owner))
}

func (t *FungibleToken) Allowance(ctx context.Context, owner, spender model.Address) (sdkmath.Int, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return tx.GetInt(ctx, t.allowanceKey(owner, spender))
}

func (t *FungibleToken) Approve(ctx context.Context, owner, spender model.Address, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	return tx.SetInt(t.allowanceKey(owner, spender), amount)
}

func (t *FungibleToken) Transfer(ctx context.Context, from, to model.Address, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	return moveInt(ctx, tx, t.balanceKey(from), t.balanceKey(to), amount)
}

// TransferFrom moves amount from from to to, spending spender's allowance.
func (t *FungibleToken) TransferFrom(ctx context.Context, spender, from, to model.Address, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	if spender != from {
		key := t.allowanceKey(from, spender)
		allowed, err := tx.GetInt(ctx, key)
		if err != nil {
			return err
		}
		if allowed.LT(amount) {
			return ErrInsufficientAllowance
		}
		if err := tx.SetInt(key, allowed.Sub(amount)); err != nil {
			return err
		}
	}
	return moveInt(ctx, tx, t.balanceKey(from), t.balanceKey(to), amount)
}

func (t *FungibleToken) Mint(ctx context.Context, to model.Address, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	return addInt(ctx, tx, t.balanceKey(to), amount)
}
