package proxy

import (
	"context"
	"errors"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// route runs fn on the active logic. A call that lost a race with an upgrade
// is retried on the new logic; versions only move forward, so this ends.
func route[T any](ctx context.Context, p *Proxy, fn func(m *market.Marketplace) (T, error)) (T, error) {
	for {
		m, err := p.Logic(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		out, err := fn(m)
		if errors.Is(err, market.ErrVersionChanged) {
			p.logger.Debug("proxy.rerouted", zap.Uint32("stale_version", m.Version()))
			continue
		}
		return out, err
	}
}

func (p *Proxy) Initialize(ctx context.Context, caller, feeRecipient model.Address, feeBps uint32) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.Initialize(ctx, caller, feeRecipient, feeBps)
	})
}

func (p *Proxy) SetFee(ctx context.Context, caller model.Address, feeBps uint32) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.SetFee(ctx, caller, feeBps)
	})
}

func (p *Proxy) SetFeeRecipient(ctx context.Context, caller, recipient model.Address) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.SetFeeRecipient(ctx, caller, recipient)
	})
}

func (p *Proxy) TransferAdmin(ctx context.Context, caller, next model.Address) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.TransferAdmin(ctx, caller, next)
	})
}

func (p *Proxy) SetWhitelistedPaymentAsset(ctx context.Context, caller, asset model.Address, enabled bool) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.SetWhitelistedPaymentAsset(ctx, caller, asset, enabled)
	})
}

func (p *Proxy) SetOracleFeed(ctx context.Context, caller, asset, feed model.Address) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.SetOracleFeed(ctx, caller, asset, feed)
	})
}

func (p *Proxy) Settings(ctx context.Context) (market.Settings, error) {
	return route(ctx, p, func(m *market.Marketplace) (market.Settings, error) {
		return m.Settings(ctx)
	})
}

func (p *Proxy) IsWhitelisted(ctx context.Context, asset model.Address) (bool, error) {
	return route(ctx, p, func(m *market.Marketplace) (bool, error) {
		return m.IsWhitelisted(ctx, asset)
	})
}

func (p *Proxy) FeedFor(ctx context.Context, asset model.Address) (model.Address, error) {
	return route(ctx, p, func(m *market.Marketplace) (model.Address, error) {
		return m.FeedFor(ctx, asset)
	})
}

func (p *Proxy) QuotePayment(ctx context.Context, priceUSD sdkmath.Int, asset model.Address) (market.Quote, error) {
	return route(ctx, p, func(m *market.Marketplace) (market.Quote, error) {
		return m.QuotePayment(ctx, priceUSD, asset)
	})
}

func (p *Proxy) QuoteOffer(ctx context.Context, k model.OfferKey, asset model.Address) (market.Quote, error) {
	return route(ctx, p, func(m *market.Marketplace) (market.Quote, error) {
		return m.QuoteOffer(ctx, k, asset)
	})
}

func (p *Proxy) CreateOffer(ctx context.Context, caller model.Address, req market.CreateOfferRequest) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.CreateOffer(ctx, caller, req)
	})
}

func (p *Proxy) CreateUniqueOffer(ctx context.Context, caller model.Address, req market.CreateOfferRequest) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.CreateUniqueOffer(ctx, caller, req)
	})
}

func (p *Proxy) CancelOffer(ctx context.Context, caller model.Address, k model.OfferKey) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.CancelOffer(ctx, caller, k)
	})
}

func (p *Proxy) Offer(ctx context.Context, k model.OfferKey) (*model.Offer, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Offer, error) {
		return m.Offer(ctx, k)
	})
}

func (p *Proxy) OfferHistory(ctx context.Context, k model.OfferKey) ([]model.Offer, error) {
	return route(ctx, p, func(m *market.Marketplace) ([]model.Offer, error) {
		return m.OfferHistory(ctx, k)
	})
}

func (p *Proxy) AcceptWithNative(ctx context.Context, caller model.Address, k model.OfferKey, value sdkmath.Int) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.AcceptWithNative(ctx, caller, k, value)
	})
}

func (p *Proxy) AcceptWithToken(ctx context.Context, caller model.Address, k model.OfferKey, req market.AcceptTokenRequest) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.AcceptWithToken(ctx, caller, k, req)
	})
}

func (p *Proxy) AcceptWithAsset(ctx context.Context, caller model.Address, k model.OfferKey, req market.AcceptAssetRequest) (*model.Receipt, error) {
	return route(ctx, p, func(m *market.Marketplace) (*model.Receipt, error) {
		return m.AcceptWithAsset(ctx, caller, k, req)
	})
}
