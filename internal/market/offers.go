package market

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/pricing"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// CreateOfferRequest lists quantity Amount of token id TokenID at PriceUSD
// until Deadline.
type CreateOfferRequest struct {
	Token    model.Address
	TokenID  sdkmath.Int
	Amount   sdkmath.Int
	Deadline time.Time
	PriceUSD sdkmath.Int
	Barter   *model.BarterTerms
}

// CreateOffer lists a multi token. The seller is caller.
func (m *Marketplace) CreateOffer(ctx context.Context, caller model.Address, req CreateOfferRequest) (*model.Receipt, error) {
	return m.createOffer(ctx, caller, "createOffer", 1, model.StandardMulti, req)
}

// CreateUniqueOffer lists a unique token; the amount is always one.
func (m *Marketplace) CreateUniqueOffer(ctx context.Context, caller model.Address, req CreateOfferRequest) (*model.Receipt, error) {
	req.Amount = sdkmath.OneInt()
	return m.createOffer(ctx, caller, "createUniqueOffer", 2, model.StandardUnique, req)
}

func (m *Marketplace) createOffer(ctx context.Context, caller model.Address, method string, min uint32, standard model.Standard, req CreateOfferRequest) (*model.Receipt, error) {
	key := model.OfferKey{Seller: caller, Token: req.Token, TokenID: req.TokenID}
	r, err := m.mutate(ctx, caller, method, min, func(ctx context.Context, tx *chain.Tx, s *slots, _ settingsRecord) error {
		if req.Amount.IsNil() || !req.Amount.IsPositive() {
			return ErrInvalidAmount
		}
		deadline := req.Deadline.UTC().Truncate(time.Second)
		if !deadline.After(tx.Now()) {
			return ErrInvalidDeadline.Errorf("deadline %s is not after %s", deadline.Format(time.RFC3339), tx.Now().Format(time.RFC3339))
		}
		if req.PriceUSD.IsNil() || !req.PriceUSD.IsPositive() {
			return ErrInvalidPrice
		}
		if req.TokenID.IsNil() || req.TokenID.IsNegative() {
			return ErrInvalidAmount.Errorf("token id must not be negative")
		}
		asset, err := m.tradedAsset(req.Token)
		if err != nil {
			return err
		}
		if asset.Standard() != standard {
			return ErrUnknownAsset.Errorf("%s is not a %s token", req.Token, standard)
		}
		var barter *model.BarterTerms
		if req.Barter != nil {
			if err := m.require("barter", 2); err != nil {
				return err
			}
			terms := *req.Barter
			barter = &terms
			barterAsset, err := m.tradedAsset(barter.Token)
			if err != nil {
				return err
			}
			if barter.ID.IsNil() || barter.ID.IsNegative() {
				return ErrInvalidAmount.Errorf("barter token id must not be negative")
			}
			if barter.Amount.IsNil() || !barter.Amount.IsPositive() {
				return ErrInvalidAmount.Errorf("barter amount must be positive")
			}
			if barterAsset.Standard() == model.StandardUnique && !barter.Amount.Equal(sdkmath.OneInt()) {
				return ErrInvalidAmount.Errorf("barter amount of a unique token must be 1")
			}
			if barter.TopUpUSD.IsNil() {
				barter.TopUpUSD = sdkmath.ZeroInt()
			}
			if barter.TopUpUSD.IsNegative() {
				return ErrInvalidPrice.Errorf("barter top-up must not be negative")
			}
		}

		prev, exists, err := s.offer(ctx, key)
		if err != nil {
			return err
		}
		if exists {
			if prev.Status == model.StatusActive {
				return ErrOfferExists.Errorf("offer %s is already active", key)
			}
			if err := s.archive(ctx, prev); err != nil {
				return err
			}
		}

		o := &model.Offer{
			OfferKey:  key,
			Standard:  standard,
			Amount:    req.Amount,
			Deadline:  deadline,
			PriceUSD:  req.PriceUSD,
			Status:    model.StatusActive,
			CreatedAt: tx.Now(),
			Barter:    barter,
		}
		if err := s.putOffer(o); err != nil {
			return err
		}
		tx.Emit(model.OfferCreated{
			Seller:   caller,
			Token:    req.Token,
			TokenID:  req.TokenID,
			Amount:   req.Amount,
			Deadline: o.Deadline,
			PriceUSD: req.PriceUSD,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.OfferCreated(standard.String())
	m.logger.Info("market.offer_created",
		zap.String("offer", key.String()),
		zap.String("standard", standard.String()),
		zap.String("amount", req.Amount.String()),
		zap.String("price_usd", pricing.FormatUSD(req.PriceUSD, m.usdDecimals)))
	return r, nil
}

// CancelOffer withdraws the seller's active offer at k.
func (m *Marketplace) CancelOffer(ctx context.Context, caller model.Address, k model.OfferKey) (*model.Receipt, error) {
	r, err := m.mutate(ctx, caller, "cancelOffer", 1, func(ctx context.Context, tx *chain.Tx, s *slots, _ settingsRecord) error {
		if caller != k.Seller {
			return ErrNotAuthorized
		}
		o, ok, err := s.offer(ctx, k)
		if err != nil {
			return err
		}
		if !ok || o.Status != model.StatusActive {
			return ErrOfferNotActive.Errorf("offer %s is not active", k)
		}
		o.Status = model.StatusCancelled
		o.SettledAt = tx.Now()
		if err := s.putOffer(o); err != nil {
			return err
		}
		tx.Emit(model.OfferCancelled{Seller: k.Seller, Token: k.Token, TokenID: k.TokenID})
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.metrics.OfferCancelled()
	m.logger.Info("market.offer_cancelled", zap.String("offer", k.String()))
	return r, nil
}

// Offer returns the current offer at k.
func (m *Marketplace) Offer(ctx context.Context, k model.OfferKey) (*model.Offer, error) {
	var out *model.Offer
	err := m.view(ctx, "offer", 1, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		o, ok, err := s.offer(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOfferNotFound.Errorf("no offer %s", k)
		}
		out = o
		return nil
	})
	return out, err
}

// OfferHistory returns the terminal offers previously listed at k, oldest first.
func (m *Marketplace) OfferHistory(ctx context.Context, k model.OfferKey) ([]model.Offer, error) {
	var out []model.Offer
	err := m.view(ctx, "offerHistory", 2, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		var err error
		out, err = s.history(ctx, k)
		return err
	})
	return out, err
}
