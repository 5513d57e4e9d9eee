package market

import (
	"context"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/pricing"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Settlement paths.
const (
	PathNative = "native"
	PathToken  = "token"
	PathAsset  = "asset"
)

// AcceptTokenRequest pays for an offer with a whitelisted payment token.
// A non-nil MaxPayment bounds the amount the buyer is willing to pay.
type AcceptTokenRequest struct {
	PaymentAsset model.Address
	MaxPayment   *sdkmath.Int
}

// AcceptAssetRequest pays for an offer with BarterAmount of the offer's barter
// token id BarterID, plus the top-up and fee in PaymentAsset. The id and amount
// must match the seller's barter terms.
type AcceptAssetRequest struct {
	BarterID     sdkmath.Int
	BarterAmount sdkmath.Int
	PaymentAsset model.Address
}

// checkOffer runs the preconditions shared by every payment path and returns
// the active offer and its traded asset.
func (m *Marketplace) checkOffer(ctx context.Context, tx *chain.Tx, s *slots, buyer model.Address, k model.OfferKey) (*model.Offer, TradedAsset, error) {
	if buyer == k.Seller {
		return nil, nil, ErrCannotAcceptOwnOffer
	}
	o, ok, err := s.offer(ctx, k)
	if err != nil {
		return nil, nil, err
	}
	if !ok || o.Status != model.StatusActive {
		return nil, nil, ErrOfferNotActive.Errorf("offer %s is not active", k)
	}
	if o.Expired(tx.Now()) {
		return nil, nil, ErrDeadlinePassed.Errorf("offer %s expired at %s", k, o.Deadline)
	}
	asset, err := m.tradedAsset(o.Token)
	if err != nil {
		return nil, nil, err
	}
	approved, err := asset.IsApproved(ctx, o.Seller, m.address, o.TokenID)
	if err != nil {
		return nil, nil, err
	}
	if !approved {
		return nil, nil, ErrNotApproved.Errorf("seller %s has not approved the marketplace for %s", o.Seller, o.Token)
	}
	held, err := asset.BalanceOf(ctx, o.Seller, o.TokenID)
	if err != nil {
		return nil, nil, err
	}
	if held.LT(o.Amount) {
		return nil, nil, ErrInsufficientTokenBalance.Errorf("seller holds %s of %s, offer is for %s", held, o.TokenID, o.Amount)
	}
	return o, asset, nil
}

// checkPayer verifies buyer can be charged amount of token by the marketplace.
func (m *Marketplace) checkPayer(ctx context.Context, token PaymentToken, buyer model.Address, amount sdkmath.Int) error {
	allowance, err := token.Allowance(ctx, buyer, m.address)
	if err != nil {
		return err
	}
	if allowance.LT(amount) {
		return ErrInsufficientAllowance.Errorf("allowance %s below required %s", allowance, amount)
	}
	balance, err := token.BalanceOf(ctx, buyer)
	if err != nil {
		return err
	}
	if balance.LT(amount) {
		return ErrInsufficientBalance.Errorf("balance %s below required %s", balance, amount)
	}
	return nil
}

// settle records the acceptance before any asset moves.
func settle(tx *chain.Tx, s *slots, o *model.Offer, buyer, paymentAsset model.Address, paid, fee sdkmath.Int) error {
	o.Status = model.StatusAccepted
	o.Buyer = buyer
	o.PaymentAsset = paymentAsset
	o.PaymentAmount = paid
	o.FeeAmount = fee
	o.SettledAt = tx.Now()
	if err := s.putOffer(o); err != nil {
		return err
	}
	tx.Emit(model.OfferAccepted{
		Buyer:         buyer,
		Seller:        o.Seller,
		Token:         o.Token,
		TokenID:       o.TokenID,
		Amount:        o.Amount,
		PriceUSD:      o.PriceUSD,
		PaymentAsset:  paymentAsset,
		PaymentAmount: paid,
		Fee:           fee,
	})
	return nil
}

func (m *Marketplace) deliver(ctx context.Context, asset TradedAsset, o *model.Offer, buyer model.Address) error {
	if err := asset.SafeTransferFrom(ctx, m.address, o.Seller, buyer, o.TokenID, o.Amount); err != nil {
		return fmt.Errorf("transfer %s to buyer: %w", o.OfferKey, err)
	}
	return nil
}

func (m *Marketplace) pull(ctx context.Context, token PaymentToken, from, to model.Address, amount sdkmath.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := token.TransferFrom(ctx, m.address, from, to, amount); err != nil {
		return fmt.Errorf("payment transfer to %s: %w", to, err)
	}
	return nil
}

// AcceptWithNative buys the offer at k with value of the native currency
// attached by caller. Any value above the price is refunded.
func (m *Marketplace) AcceptWithNative(ctx context.Context, caller model.Address, k model.OfferKey, value sdkmath.Int) (*model.Receipt, error) {
	var paid Quote
	r, err := m.mutate(ctx, caller, "acceptWithNative", 2, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		o, asset, err := m.checkOffer(ctx, tx, s, caller, k)
		if err != nil {
			return err
		}
		q, err := m.quote(ctx, s, o.PriceUSD, model.NativeAsset, cfg.FeeBps)
		if err != nil {
			return err
		}
		native, err := m.nativeCurrency()
		if err != nil {
			return err
		}
		if value.IsNil() || value.LT(q.Gross) {
			return ErrInsufficientValue.Errorf("attached %s below required %s", value, q.Gross)
		}
		balance, err := native.BalanceOf(ctx, caller)
		if err != nil {
			return err
		}
		if balance.LT(value) {
			return ErrInsufficientBalance.Errorf("balance %s below attached %s", balance, value)
		}

		if err := settle(tx, s, o, caller, model.NativeAsset, q.Gross, q.Fee); err != nil {
			return err
		}

		if err := native.Transfer(ctx, caller, m.address, value); err != nil {
			return fmt.Errorf("escrow value: %w", err)
		}
		if err := m.deliver(ctx, asset, o, caller); err != nil {
			return err
		}
		payouts := []struct {
			to     model.Address
			amount sdkmath.Int
		}{
			{model.Address(cfg.FeeRecipient), q.Fee},
			{o.Seller, q.Net},
			{caller, value.Sub(q.Gross)},
		}
		for _, p := range payouts {
			if p.amount.IsZero() {
				continue
			}
			if err := native.Transfer(ctx, m.address, p.to, p.amount); err != nil {
				return fmt.Errorf("pay %s: %w", p.to, err)
			}
		}
		paid = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.settled(PathNative, k, caller, paid)
	return r, nil
}

// AcceptWithToken buys the offer at k with a whitelisted payment token pulled
// from caller under an allowance granted to the marketplace.
func (m *Marketplace) AcceptWithToken(ctx context.Context, caller model.Address, k model.OfferKey, req AcceptTokenRequest) (*model.Receipt, error) {
	var paid Quote
	r, err := m.mutate(ctx, caller, "acceptWithToken", 2, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		o, asset, err := m.checkOffer(ctx, tx, s, caller, k)
		if err != nil {
			return err
		}
		if req.PaymentAsset.IsZero() {
			return ErrAssetNotWhitelisted.Errorf("use the native path to pay with native currency")
		}
		q, err := m.quote(ctx, s, o.PriceUSD, req.PaymentAsset, cfg.FeeBps)
		if err != nil {
			return err
		}
		if req.MaxPayment != nil && q.Gross.GT(*req.MaxPayment) {
			return ErrPriceExceedsMax.Errorf("price %s exceeds maximum %s", q.Gross, *req.MaxPayment)
		}
		token, err := m.paymentToken(req.PaymentAsset)
		if err != nil {
			return err
		}
		if err := m.checkPayer(ctx, token, caller, q.Gross); err != nil {
			return err
		}

		if err := settle(tx, s, o, caller, req.PaymentAsset, q.Gross, q.Fee); err != nil {
			return err
		}

		if err := m.deliver(ctx, asset, o, caller); err != nil {
			return err
		}
		if err := m.pull(ctx, token, caller, model.Address(cfg.FeeRecipient), q.Fee); err != nil {
			return err
		}
		if err := m.pull(ctx, token, caller, o.Seller, q.Net); err != nil {
			return err
		}
		paid = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.settled(PathToken, k, caller, paid)
	return r, nil
}

// AcceptWithAsset buys the offer at k by handing the seller another traded
// asset. The seller must have opted in with barter terms; the buyer pays the
// top-up to the seller and the fee on the full price to the fee recipient.
func (m *Marketplace) AcceptWithAsset(ctx context.Context, caller model.Address, k model.OfferKey, req AcceptAssetRequest) (*model.Receipt, error) {
	var paid Quote
	r, err := m.mutate(ctx, caller, "acceptWithAsset", 2, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		o, asset, err := m.checkOffer(ctx, tx, s, caller, k)
		if err != nil {
			return err
		}
		if o.Barter == nil {
			return ErrBarterNotAccepted.Errorf("offer %s does not accept barter", k)
		}
		if req.BarterAmount.IsNil() || !req.BarterAmount.IsPositive() || req.BarterID.IsNil() {
			return ErrInvalidAmount
		}
		if !req.BarterID.Equal(o.Barter.ID) || !req.BarterAmount.Equal(o.Barter.Amount) {
			return ErrBarterMismatch.Errorf("offer %s takes %s of id %s, offered %s of id %s",
				k, o.Barter.Amount, o.Barter.ID, req.BarterAmount, req.BarterID)
		}
		barter, err := m.tradedAsset(o.Barter.Token)
		if err != nil {
			return err
		}
		approved, err := barter.IsApproved(ctx, caller, m.address, req.BarterID)
		if err != nil {
			return err
		}
		if !approved {
			return ErrNotApproved.Errorf("buyer %s has not approved the marketplace for %s", caller, o.Barter.Token)
		}
		held, err := barter.BalanceOf(ctx, caller, req.BarterID)
		if err != nil {
			return err
		}
		if held.LT(req.BarterAmount) {
			return ErrInsufficientTokenBalance.Errorf("buyer holds %s of %s, offered %s", held, req.BarterID, req.BarterAmount)
		}

		if req.PaymentAsset.IsZero() {
			return ErrAssetNotWhitelisted.Errorf("barter top-up and fee must be paid in a payment token")
		}
		full, err := m.quote(ctx, s, o.PriceUSD, req.PaymentAsset, cfg.FeeBps)
		if err != nil {
			return err
		}
		topUp := sdkmath.ZeroInt()
		if o.Barter.TopUpUSD.IsPositive() {
			tq, err := m.quote(ctx, s, o.Barter.TopUpUSD, req.PaymentAsset, cfg.FeeBps)
			if err != nil {
				return err
			}
			topUp = tq.Gross
		}
		total, err := topUp.SafeAdd(full.Fee)
		if err != nil {
			return ErrInvalidPrice.Errorf("payment overflow: %v", err)
		}
		token, err := m.paymentToken(req.PaymentAsset)
		if err != nil {
			return err
		}
		if err := m.checkPayer(ctx, token, caller, total); err != nil {
			return err
		}

		if err := settle(tx, s, o, caller, req.PaymentAsset, total, full.Fee); err != nil {
			return err
		}

		if err := m.deliver(ctx, asset, o, caller); err != nil {
			return err
		}
		if err := barter.SafeTransferFrom(ctx, m.address, caller, o.Seller, req.BarterID, req.BarterAmount); err != nil {
			return fmt.Errorf("transfer barter asset to seller: %w", err)
		}
		if err := m.pull(ctx, token, caller, model.Address(cfg.FeeRecipient), full.Fee); err != nil {
			return err
		}
		if err := m.pull(ctx, token, caller, o.Seller, topUp); err != nil {
			return err
		}
		paid = full
		paid.Gross = total
		paid.Net = topUp
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.settled(PathAsset, k, caller, paid)
	return r, nil
}

func (m *Marketplace) settled(path string, k model.OfferKey, buyer model.Address, q Quote) {
	m.metrics.OfferSettled(path, q.Asset)
	m.logger.Info("market.offer_accepted",
		zap.String("offer", k.String()),
		zap.String("path", path),
		zap.String("buyer", buyer.String()),
		zap.String("payment_asset", q.Asset.String()),
		zap.String("price_usd", pricing.FormatUSD(q.PriceUSD, m.usdDecimals)),
		zap.String("gross", pricing.FormatUnits(q.Gross, q.Decimals)),
		zap.String("fee", pricing.FormatUnits(q.Fee, q.Decimals)))
}
