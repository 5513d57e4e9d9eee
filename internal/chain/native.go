package chain

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

// NativeDecimals is the precision of the native currency.
const NativeDecimals = 18

// NativeCurrency is the ledger's built-in currency.
type NativeCurrency struct{}

func nativeKey(owner model.Address) string {
	return "native/bal/" + owner.String()
}

func (NativeCurrency) Decimals() uint8 { return NativeDecimals }

func (NativeCurrency) BalanceOf(ctx context.Context, owner model.Address) (sdkmath.Int, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return tx.GetInt(ctx, nativeKey(owner))
}

// Transfer moves amount from from to to. Authorization is left to the calling
// contract; the marketplace only moves value it holds in escrow.
func (NativeCurrency) Transfer(ctx context.Context, from, to model.Address, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	return moveInt(ctx, tx, nativeKey(from), nativeKey(to), amount)
}

// Mint credits amount to owner. Used by genesis and tests.
func (NativeCurrency) Mint(ctx context.Context, owner model.Address, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	return addInt(ctx, tx, nativeKey(owner), amount)
}

func addInt(ctx context.Context, tx *Tx, key string, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	cur, err := tx.GetInt(ctx, key)
	if err != nil {
		return err
	}
	next, err := cur.SafeAdd(amount)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return tx.SetInt(key, next)
}

func moveInt(ctx context.Context, tx *Tx, fromKey, toKey string, amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() || fromKey == toKey {
		return nil
	}
	bal, err := tx.GetInt(ctx, fromKey)
	if err != nil {
		return err
	}
	if bal.LT(amount) {
		return ErrInsufficientBalance
	}
	if err := tx.SetInt(fromKey, bal.Sub(amount)); err != nil {
		return err
	}
	return addInt(ctx, tx, toKey, amount)
}
