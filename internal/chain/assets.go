package chain

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Receiver is implemented by contracts that want to be told when they receive
// a traded asset. Returning an error rejects the transfer.
type Receiver interface {
	OnAssetReceived(ctx context.Context, operator, from model.Address, id, amount sdkmath.Int) error
}

func operatorKey(token, owner, operator model.Address) string {
	return token.String() + "/operator/" + owner.String() + "/" + operator.String()
}

func setOperator(ctx context.Context, token, owner, operator model.Address, approved bool) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	if !approved {
		return tx.Delete(operatorKey(token, owner, operator))
	}
	return tx.Set(operatorKey(token, owner, operator), []byte{1})
}

func isOperator(ctx context.Context, tx *Tx, token, owner, operator model.Address) (bool, error) {
	if owner == operator {
		return true, nil
	}
	_, ok, err := tx.Get(ctx, operatorKey(token, owner, operator))
	return ok, err
}

func notifyReceiver(ctx context.Context, tx *Tx, token, operator, from, to model.Address, id, amount sdkmath.Int) error {
	code, ok := tx.host.Lookup(to)
	if !ok {
		return nil
	}
	r, ok := code.(Receiver)
	if !ok {
		return nil
	}
	_, err := tx.host.Execute(ctx, token, "onAssetReceived", func(ctx context.Context, _ *Tx) error {
		return r.OnAssetReceived(ctx, operator, from, id, amount)
	})
	return err
}

// MultiToken is a reference ERC-1155 style token: a fungible balance per id.
type MultiToken struct {
	addr model.Address
	name string
}

func NewMultiToken(addr model.Address, name string) *MultiToken {
	return &MultiToken{addr: addr, name: name}
}

func (t *MultiToken) Address() model.Address   { return t.addr }
func (t *MultiToken) Name() string             { return t.name }
func (t *MultiToken) Standard() model.Standard { return model.StandardMulti }

func (t *MultiToken) balanceKey(owner model.Address, id sdkmath.Int) string {
	return t.addr.String() + "/bal/" + id.String() + "/" + owner.String()
}

func (t *MultiToken) BalanceOf(ctx context.Context, owner model.Address, id sdkmath.Int) (sdkmath.Int, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return tx.GetInt(ctx, t.balanceKey(owner, id))
}

func (t *MultiToken) SetApprovalForAll(ctx context.Context, owner, operator model.Address, approved bool) error {
	return setOperator(ctx, t.addr, owner, operator, approved)
}

// IsApproved reports whether operator may move owner's tokens. Multi tokens
// only support operator-wide approval.
func (t *MultiToken) IsApproved(ctx context.Context, owner, operator model.Address, _ sdkmath.Int) (bool, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return false, err
	}
	return isOperator(ctx, tx, t.addr, owner, operator)
}

func (t *MultiToken) SafeTransferFrom(ctx context.Context, operator, from, to model.Address, id, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	ok, err := isOperator(ctx, tx, t.addr, from, operator)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOwner
	}
	if err := moveInt(ctx, tx, t.balanceKey(from, id), t.balanceKey(to, id), amount); err != nil {
		return err
	}
	return notifyReceiver(ctx, tx, t.addr, operator, from, to, id, amount)
}

func (t *MultiToken) Mint(ctx context.Context, to model.Address, id, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	return addInt(ctx, tx, t.balanceKey(to, id), amount)
}

// UniqueToken is a reference ERC-721 style token: one owner per id.
type UniqueToken struct {
	addr model.Address
	name string
}

func NewUniqueToken(addr model.Address, name string) *UniqueToken {
	return &UniqueToken{addr: addr, name: name}
}

func (t *UniqueToken) Address() model.Address   { return t.addr }
func (t *UniqueToken) Name() string             { return t.name }
func (t *UniqueToken) Standard() model.Standard { return model.StandardUnique }

func (t *UniqueToken) ownerKey(id sdkmath.Int) string {
	return t.addr.String() + "/owner/" + id.String()
}

func (t *UniqueToken) approvalKey(id sdkmath.Int) string {
	return t.addr.String() + "/approved/" + id.String()
}

// OwnerOf returns the owner of id, or the zero address if it is not minted.
func (t *UniqueToken) OwnerOf(ctx context.Context, id sdkmath.Int) (model.Address, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return "", err
	}
	raw, ok, err := tx.Get(ctx, t.ownerKey(id))
	if err != nil || !ok {
		return model.NativeAsset, err
	}
	return model.Address(raw), nil
}

// BalanceOf is 1 when owner holds id and 0 otherwise.
func (t *UniqueToken) BalanceOf(ctx context.Context, owner model.Address, id sdkmath.Int) (sdkmath.Int, error) {
	cur, err := t.OwnerOf(ctx, id)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if cur == owner {
		return sdkmath.OneInt(), nil
	}
	return sdkmath.ZeroInt(), nil
}

func (t *UniqueToken) SetApprovalForAll(ctx context.Context, owner, operator model.Address, approved bool) error {
	return setOperator(ctx, t.addr, owner, operator, approved)
}

// Approve grants operator the right to move the single token id.
func (t *UniqueToken) Approve(ctx context.Context, owner, operator model.Address, id sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	cur, err := t.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if cur != owner {
		return ErrNotOwner
	}
	return tx.Set(t.approvalKey(id), []byte(operator))
}

func (t *UniqueToken) IsApproved(ctx context.Context, owner, operator model.Address, id sdkmath.Int) (bool, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return false, err
	}
	ok, err := isOperator(ctx, tx, t.addr, owner, operator)
	if err != nil || ok {
		return ok, err
	}
	raw, found, err := tx.Get(ctx, t.approvalKey(id))
	if err != nil {
		return false, err
	}
	return found && model.Address(raw) == operator, nil
}

func (t *UniqueToken) SafeTransferFrom(ctx context.Context, operator, from, to model.Address, id, amount sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	if !amount.Equal(sdkmath.OneInt()) {
		return ErrInvalidAmount
	}
	cur, err := t.OwnerOf(ctx, id)
	if err != nil {
		return err
	}
	if cur != from {
		return ErrInsufficientBalance
	}
	ok, err := t.IsApproved(ctx, from, operator, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotOwner
	}
	if err := tx.Delete(t.approvalKey(id)); err != nil {
		return err
	}
	if err := tx.Set(t.ownerKey(id), []byte(to)); err != nil {
		return err
	}
	return notifyReceiver(ctx, tx, t.addr, operator, from, to, id, amount)
}

func (t *UniqueToken) Mint(ctx context.Context, to model.Address, id sdkmath.Int) error {
	tx, err := mustTx(ctx)
	if err != nil {
		return err
	}
	if _, ok, err := tx.Get(ctx, t.ownerKey(id)); err != nil {
		return err
	} else if ok {
		return ErrTokenExists
	}
	return tx.Set(t.ownerKey(id), []byte(to))
}
