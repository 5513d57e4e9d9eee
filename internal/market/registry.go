package market

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/pricing"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// SetWhitelistedPaymentAsset enables or disables asset as a payment token.
// Disabling leaves the asset's feed registration in place.
func (m *Marketplace) SetWhitelistedPaymentAsset(ctx context.Context, caller, asset model.Address, enabled bool) (*model.Receipt, error) {
	return m.admin(ctx, caller, "setWhitelistedPaymentAsset", 1, func(ctx context.Context, tx *chain.Tx, s *slots, _ settingsRecord) error {
		if asset.IsZero() {
			return ErrInvalidAddress.Errorf("native currency needs a feed, not a whitelist entry")
		}
		if enabled {
			if _, err := m.paymentToken(asset); err != nil {
				return err
			}
		}
		if err := s.setWhitelisted(asset, enabled); err != nil {
			return err
		}
		tx.Emit(model.PaymentAssetWhitelisted{Asset: asset, Enabled: enabled})
		return nil
	})
}

// SetOracleFeed registers or replaces the USD price feed of asset. The native
// currency is registered under model.NativeAsset.
func (m *Marketplace) SetOracleFeed(ctx context.Context, caller, asset, feed model.Address) (*model.Receipt, error) {
	if asset.IsZero() {
		asset = model.NativeAsset
	}
	return m.admin(ctx, caller, "setOracleFeed", 2, func(ctx context.Context, tx *chain.Tx, s *slots, _ settingsRecord) error {
		if feed.IsZero() {
			return ErrInvalidAddress
		}
		if _, ok := m.priceFeed(feed); !ok {
			return ErrUnknownAsset.Errorf("%s is not a price feed", feed)
		}
		if err := s.setFeed(asset, feed); err != nil {
			return err
		}
		tx.Emit(model.OracleFeedSet{Asset: asset, Feed: feed})
		return nil
	})
}

func (m *Marketplace) IsWhitelisted(ctx context.Context, asset model.Address) (bool, error) {
	var ok bool
	err := m.view(ctx, "isWhitelisted", 1, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		var err error
		ok, err = s.whitelisted(ctx, asset)
		return err
	})
	return ok, err
}

// FeedFor returns the feed registered for asset, or the zero address.
func (m *Marketplace) FeedFor(ctx context.Context, asset model.Address) (model.Address, error) {
	if asset.IsZero() {
		asset = model.NativeAsset
	}
	feed := model.NativeAsset
	err := m.view(ctx, "feedFor", 2, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		f, ok, err := s.feed(ctx, asset)
		if ok {
			feed = f
		}
		return err
	})
	return feed, err
}

// Quote is the payment owed for a USD price in one payment asset.
type Quote struct {
	Asset        model.Address `json:"asset"`
	PriceUSD     sdkmath.Int   `json:"priceUsd"`
	Decimals     uint8         `json:"decimals"`
	Rate         sdkmath.Int   `json:"rate"`
	RateDecimals uint8         `json:"rateDecimals"`
	Gross        sdkmath.Int   `json:"gross"`
	Fee          sdkmath.Int   `json:"fee"`
	Net          sdkmath.Int   `json:"net"`
	FeeBps       uint32        `json:"feeBps"`
}

// QuotePayment previews the amounts an acceptance would move for priceUSD
// paid in asset.
func (m *Marketplace) QuotePayment(ctx context.Context, priceUSD sdkmath.Int, asset model.Address) (Quote, error) {
	var q Quote
	err := m.view(ctx, "quotePayment", 2, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		cfg, err := s.settings(ctx)
		if err != nil {
			return err
		}
		if priceUSD.IsNil() || !priceUSD.IsPositive() {
			return ErrInvalidPrice
		}
		q, err = m.quote(ctx, s, priceUSD, asset, cfg.FeeBps)
		return err
	})
	return q, err
}

// QuoteOffer previews the amounts accepting the offer at k with asset would move.
func (m *Marketplace) QuoteOffer(ctx context.Context, k model.OfferKey, asset model.Address) (Quote, error) {
	var q Quote
	err := m.view(ctx, "quoteOffer", 2, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		cfg, err := s.settings(ctx)
		if err != nil {
			return err
		}
		o, ok, err := s.offer(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			return ErrOfferNotFound
		}
		q, err = m.quote(ctx, s, o.PriceUSD, asset, cfg.FeeBps)
		return err
	})
	return q, err
}

// quote resolves asset's decimals and oracle rate and prices priceUSD in it.
// Native currency needs a feed but no whitelist entry.
func (m *Marketplace) quote(ctx context.Context, s *slots, priceUSD sdkmath.Int, asset model.Address, feeBps uint32) (Quote, error) {
	if asset.IsZero() {
		asset = model.NativeAsset
	}
	q := Quote{Asset: asset, PriceUSD: priceUSD, FeeBps: feeBps}
	if asset == model.NativeAsset {
		native, err := m.nativeCurrency()
		if err != nil {
			return q, err
		}
		q.Decimals = native.Decimals()
	} else {
		ok, err := s.whitelisted(ctx, asset)
		if err != nil {
			return q, err
		}
		if !ok {
			return q, ErrAssetNotWhitelisted.Errorf("%s is not whitelisted", asset)
		}
		token, err := m.paymentToken(asset)
		if err != nil {
			return q, err
		}
		q.Decimals = token.Decimals()
	}

	feedAddr, ok, err := s.feed(ctx, asset)
	if err != nil {
		return q, err
	}
	if !ok {
		return q, ErrNoOracleFeed.Errorf("no oracle feed for %s", asset)
	}
	feed, ok := m.priceFeed(feedAddr)
	if !ok {
		return q, ErrNoOracleFeed.Errorf("feed %s for %s is not deployed", feedAddr, asset)
	}
	round, err := feed.LatestRound(ctx)
	if err != nil {
		return q, err
	}
	if round.Answer.IsNil() || !round.Answer.IsPositive() {
		return q, ErrInvalidOracleRate.Errorf("feed %s answered %s", feedAddr, round.Answer)
	}
	q.Rate = round.Answer
	q.RateDecimals = feed.Decimals()

	q.Gross, err = pricing.Normalize(priceUSD, m.usdDecimals, q.Rate, q.RateDecimals, q.Decimals)
	if err != nil {
		return q, pricingError(err)
	}
	q.Fee, q.Net, err = pricing.SplitFee(q.Gross, feeBps)
	if err != nil {
		return q, pricingError(err)
	}
	return q, nil
}

func pricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrInvalidRate):
		return ErrInvalidOracleRate.Errorf("%v", err)
	case errors.Is(err, pricing.ErrOverflow), errors.Is(err, pricing.ErrDecimals), errors.Is(err, pricing.ErrInvalidPrice):
		return ErrInvalidPrice.Errorf("%v", err)
	default:
		return err
	}
}
