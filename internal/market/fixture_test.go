package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/state"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

func addr(n int) model.Address {
	return model.Address(fmt.Sprintf("0x%040x", n))
}

var (
	marketAddr = addr(0xa11)
	admin      = addr(1)
	recipient  = addr(2)
	seller     = addr(3)
	buyer      = addr(4)
	stranger   = addr(5)
	feedOp     = addr(6)

	usdcAddr  = addr(0xc1)
	daiAddr   = addr(0xc2)
	eurcAddr  = addr(0xc3)
	itemsAddr = addr(0x1155)
	artAddr   = addr(0x721)
	ethFeed   = addr(0xfe1)
	usdcFeed  = addr(0xfe2)
	daiFeed   = addr(0xfe3)

	genesisTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func ether(n int64) sdkmath.Int {
	return sdkmath.NewInt(n).Mul(sdkmath.NewInt(1_000_000_000_000_000_000))
}

func usd(cents int64) sdkmath.Int { return sdkmath.NewInt(cents) }

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *state.Memory
	host  *chain.Host
	clock *chain.ManualClock
	m     *Marketplace

	native chain.NativeCurrency
	usdc   *chain.FungibleToken
	dai    *chain.FungibleToken
	eurc   *chain.FungibleToken
	items  *chain.MultiToken
	art    *chain.UniqueToken
	feeds  map[model.Address]*chain.PriceFeed
}

// newFixture deploys the reference contracts, funds the buyer, gives the seller
// 10 of item 1 and art 7, and prices ETH at $2000 and both stablecoins at $1.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := state.NewMemory()
	clock := chain.NewManualClock(genesisTime)
	host, err := chain.NewHost(store, clock, 64, nil)
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		host:   host,
		clock:  clock,
		native: chain.NativeCurrency{},
		usdc:   chain.NewFungibleToken(usdcAddr, "USDC", 6),
		dai:    chain.NewFungibleToken(daiAddr, "DAI", 18),
		eurc:   chain.NewFungibleToken(eurcAddr, "EURC", 6),
		items:  chain.NewMultiToken(itemsAddr, "Items"),
		art:    chain.NewUniqueToken(artAddr, "Art"),
		feeds: map[model.Address]*chain.PriceFeed{
			ethFeed:  chain.NewPriceFeed(ethFeed, 8, feedOp),
			usdcFeed: chain.NewPriceFeed(usdcFeed, 8, feedOp),
			daiFeed:  chain.NewPriceFeed(daiFeed, 8, feedOp),
		},
	}
	host.Deploy(model.NativeAsset, f.native)
	host.Deploy(usdcAddr, f.usdc)
	host.Deploy(daiAddr, f.dai)
	host.Deploy(eurcAddr, f.eurc)
	host.Deploy(itemsAddr, f.items)
	host.Deploy(artAddr, f.art)
	for a, feed := range f.feeds {
		host.Deploy(a, feed)
	}

	f.exec(feedOp, func(ctx context.Context) error {
		steps := []error{
			f.items.Mint(ctx, seller, sdkmath.NewInt(1), sdkmath.NewInt(10)),
			f.art.Mint(ctx, seller, sdkmath.NewInt(7)),
			f.usdc.Mint(ctx, buyer, sdkmath.NewInt(1_000_000_000)),
			f.dai.Mint(ctx, buyer, ether(1000)),
			f.eurc.Mint(ctx, buyer, sdkmath.NewInt(1_000_000_000)),
			f.native.Mint(ctx, buyer, ether(10)),
			f.items.SetApprovalForAll(ctx, seller, marketAddr, true),
			f.art.SetApprovalForAll(ctx, seller, marketAddr, true),
		}
		for _, err := range steps {
			if err != nil {
				return err
			}
		}
		return nil
	})
	f.setRate(ethFeed, 200_000_000_000)
	f.setRate(usdcFeed, 100_000_000)
	f.setRate(daiFeed, 100_000_000)

	f.m = New(host, marketAddr, opts...)
	return f
}

// initialized returns a fixture with a 1% fee, USDC, DAI and EURC whitelisted
// and feeds registered for ETH, USDC and DAI.
func initialized(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := newFixture(t, opts...)
	_, err := f.m.Initialize(f.ctx, admin, recipient, 100)
	require.NoError(t, err)
	for _, a := range []model.Address{usdcAddr, daiAddr, eurcAddr} {
		_, err = f.m.SetWhitelistedPaymentAsset(f.ctx, admin, a, true)
		require.NoError(t, err)
	}
	if f.m.Version() >= 2 {
		for asset, feed := range map[model.Address]model.Address{
			model.NativeAsset: ethFeed,
			usdcAddr:          usdcFeed,
			daiAddr:           daiFeed,
		} {
			_, err = f.m.SetOracleFeed(f.ctx, admin, asset, feed)
			require.NoError(t, err)
		}
	}
	return f
}

func (f *fixture) exec(caller model.Address, fn func(ctx context.Context) error) {
	f.t.Helper()
	_, err := f.host.Execute(f.ctx, caller, "test", func(ctx context.Context, _ *chain.Tx) error {
		return fn(ctx)
	})
	require.NoError(f.t, err)
}

func (f *fixture) read(fn func(ctx context.Context) error) {
	f.t.Helper()
	require.NoError(f.t, f.host.View(f.ctx, func(ctx context.Context, _ *chain.Tx) error {
		return fn(ctx)
	}))
}

func (f *fixture) setRate(feed model.Address, answer int64) {
	f.t.Helper()
	f.exec(feedOp, func(ctx context.Context) error {
		_, err := f.feeds[feed].Submit(ctx, feedOp, sdkmath.NewInt(answer))
		return err
	})
}

func (f *fixture) approve(token *chain.FungibleToken, owner model.Address, amount sdkmath.Int) {
	f.t.Helper()
	f.exec(owner, func(ctx context.Context) error {
		return token.Approve(ctx, owner, marketAddr, amount)
	})
}

func (f *fixture) tokenBalance(token *chain.FungibleToken, owner model.Address) sdkmath.Int {
	f.t.Helper()
	var out sdkmath.Int
	f.read(func(ctx context.Context) error {
		var err error
		out, err = token.BalanceOf(ctx, owner)
		return err
	})
	return out
}

func (f *fixture) nativeBalance(owner model.Address) sdkmath.Int {
	f.t.Helper()
	var out sdkmath.Int
	f.read(func(ctx context.Context) error {
		var err error
		out, err = f.native.BalanceOf(ctx, owner)
		return err
	})
	return out
}

func (f *fixture) itemBalance(owner model.Address, id int64) sdkmath.Int {
	f.t.Helper()
	var out sdkmath.Int
	f.read(func(ctx context.Context) error {
		var err error
		out, err = f.items.BalanceOf(ctx, owner, sdkmath.NewInt(id))
		return err
	})
	return out
}

func (f *fixture) artOwner(id int64) model.Address {
	f.t.Helper()
	var out model.Address
	f.read(func(ctx context.Context) error {
		var err error
		out, err = f.art.OwnerOf(ctx, sdkmath.NewInt(id))
		return err
	})
	return out
}

func itemKey() model.OfferKey {
	return model.OfferKey{Seller: seller, Token: itemsAddr, TokenID: sdkmath.NewInt(1)}
}

func artKey() model.OfferKey {
	return model.OfferKey{Seller: seller, Token: artAddr, TokenID: sdkmath.NewInt(7)}
}

// listItems lists 10 of item 1 at $2.50 for 360 seconds.
func (f *fixture) listItems() *model.Receipt {
	f.t.Helper()
	r, err := f.m.CreateOffer(f.ctx, seller, CreateOfferRequest{
		Token:    itemsAddr,
		TokenID:  sdkmath.NewInt(1),
		Amount:   sdkmath.NewInt(10),
		Deadline: f.clock.Now().Add(360 * time.Second),
		PriceUSD: usd(250),
	})
	require.NoError(f.t, err)
	return r
}

func (f *fixture) offer(k model.OfferKey) *model.Offer {
	f.t.Helper()
	o, err := f.m.Offer(f.ctx, k)
	require.NoError(f.t, err)
	return o
}
