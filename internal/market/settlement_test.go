package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

func mustInt(t *testing.T, s string) sdkmath.Int {
	t.Helper()
	v, ok := sdkmath.NewIntFromString(s)
	require.True(t, ok, s)
	return v
}

func maxPayment(v int64) *sdkmath.Int {
	i := sdkmath.NewInt(v)
	return &i
}

func TestAcceptWithNative_Scenario(t *testing.T) {
	f := initialized(t)
	f.listItems()

	value := mustInt(t, "2000000000000000")
	r, err := f.m.AcceptWithNative(f.ctx, buyer, itemKey(), value)
	require.NoError(t, err)

	gross := mustInt(t, "1250000000000000")
	fee := mustInt(t, "12500000000000")
	net := mustInt(t, "1237500000000000")

	o := f.offer(itemKey())
	assert.Equal(t, model.StatusAccepted, o.Status)
	assert.Equal(t, buyer, o.Buyer)
	assert.Equal(t, model.NativeAsset, o.PaymentAsset)
	assert.True(t, gross.Equal(o.PaymentAmount))
	assert.True(t, fee.Equal(o.FeeAmount))
	assert.True(t, f.clock.Now().Equal(o.SettledAt))

	assert.Equal(t, int64(10), f.itemBalance(buyer, 1).Int64())
	assert.True(t, f.itemBalance(seller, 1).IsZero())

	assert.Equal(t, net.String(), f.nativeBalance(seller).String())
	assert.Equal(t, fee.String(), f.nativeBalance(recipient).String())
	assert.Equal(t, ether(10).Sub(gross).String(), f.nativeBalance(buyer).String())
	assert.True(t, f.nativeBalance(marketAddr).IsZero(), "escrow is fully paid out")

	evs := r.EventsNamed(model.EventOfferAccepted)
	require.Len(t, evs, 1)
	accepted := evs[0].(model.OfferAccepted)
	assert.Equal(t, buyer, accepted.Buyer)
	assert.Equal(t, seller, accepted.Seller)
	assert.True(t, accepted.Amount.Equal(sdkmath.NewInt(10)))
	assert.True(t, accepted.PriceUSD.Equal(usd(250)))
	assert.True(t, accepted.PaymentAmount.Equal(gross))
	assert.True(t, accepted.Fee.Equal(fee))
}

func TestAcceptWithToken_SplitsPayment(t *testing.T) {
	f := initialized(t)
	f.listItems()
	f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000))

	_, err := f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{PaymentAsset: usdcAddr})
	require.NoError(t, err)

	assert.Equal(t, "2475000", f.tokenBalance(f.usdc, seller).String())
	assert.Equal(t, "25000", f.tokenBalance(f.usdc, recipient).String())
	assert.Equal(t, "997500000", f.tokenBalance(f.usdc, buyer).String())
	assert.Equal(t, int64(10), f.itemBalance(buyer, 1).Int64())
	assert.Equal(t, model.StatusAccepted, f.offer(itemKey()).Status)
}

func TestAcceptWithToken_EighteenDecimals(t *testing.T) {
	f := initialized(t)
	f.listItems()
	f.approve(f.dai, buyer, ether(1000))

	_, err := f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{PaymentAsset: daiAddr})
	require.NoError(t, err)

	assert.Equal(t, "2475000000000000000", f.tokenBalance(f.dai, seller).String())
	assert.Equal(t, "25000000000000000", f.tokenBalance(f.dai, recipient).String())
}

func TestQuote_DecimalsAgreeWithinOneUnit(t *testing.T) {
	f := initialized(t)
	f.setRate(usdcFeed, 99_970_000)
	f.setRate(daiFeed, 99_970_000)
	price := usd(12_345)

	six, err := f.m.QuotePayment(f.ctx, price, usdcAddr)
	require.NoError(t, err)
	eighteen, err := f.m.QuotePayment(f.ctx, price, daiAddr)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), six.Decimals)
	assert.Equal(t, uint8(18), eighteen.Decimals)

	unit := sdkmath.NewInt(1_000_000_000_000)
	diff := six.Gross.Mul(unit).Sub(eighteen.Gross)
	assert.False(t, diff.IsNegative())
	assert.True(t, diff.LT(unit))
}

func TestQuotePayment(t *testing.T) {
	f := initialized(t)

	q, err := f.m.QuotePayment(f.ctx, usd(250), model.NativeAsset)
	require.NoError(t, err)
	assert.Equal(t, "1250000000000000", q.Gross.String())
	assert.Equal(t, "12500000000000", q.Fee.String())
	assert.Equal(t, "1237500000000000", q.Net.String())
	assert.Equal(t, uint8(18), q.Decimals)

	_, err = f.m.QuotePayment(f.ctx, usd(0), usdcAddr)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = f.m.QuoteOffer(f.ctx, itemKey(), usdcAddr)
	assert.ErrorIs(t, err, ErrOfferNotFound)

	f.listItems()
	q, err = f.m.QuoteOffer(f.ctx, itemKey(), usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, "2500000", q.Gross.String())
}

func TestAccept_ExactlyOnceAcrossPaths(t *testing.T) {
	f := initialized(t)
	f.listItems()
	f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000))

	_, err := f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{PaymentAsset: usdcAddr})
	require.NoError(t, err)

	_, err = f.m.AcceptWithNative(f.ctx, buyer, itemKey(), ether(1))
	require.ErrorIs(t, err, ErrOfferNotActive)
	e, _ := AsError(err)
	assert.Equal(t, KindState, e.Kind)

	_, err = f.m.AcceptWithToken(f.ctx, stranger, itemKey(), AcceptTokenRequest{PaymentAsset: usdcAddr})
	assert.ErrorIs(t, err, ErrOfferNotActive)

	_, err = f.m.AcceptWithToken(f.ctx, stranger, itemKey(), AcceptTokenRequest{})
	assert.ErrorIs(t, err, ErrOfferNotActive)

	_, err = f.m.AcceptWithAsset(f.ctx, stranger, itemKey(), AcceptAssetRequest{})
	assert.ErrorIs(t, err, ErrOfferNotActive)

	assert.Equal(t, ether(10).String(), f.nativeBalance(buyer).String())
}

func TestAccept_ConcurrentBuyersSettleOnce(t *testing.T) {
	f := initialized(t)
	f.listItems()

	buyers := make([]model.Address, 8)
	for i := range buyers {
		buyers[i] = addr(100 + i)
		b := buyers[i]
		f.exec(b, func(ctx context.Context) error { return f.native.Mint(ctx, b, ether(1)) })
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		notActive int
	)
	value := mustInt(t, "2000000000000000")
	for _, b := range buyers {
		wg.Add(1)
		go func(b model.Address) {
			defer wg.Done()
			_, err := f.m.AcceptWithNative(f.ctx, b, itemKey(), value)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrOfferNotActive):
				notActive++
			}
		}(b)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, len(buyers)-1, notActive)
	assert.Equal(t, "1237500000000000", f.nativeBalance(seller).String())
}

func TestAccept_InsufficientAllowanceChangesNothing(t *testing.T) {
	f := initialized(t)
	f.listItems()
	f.approve(f.usdc, buyer, sdkmath.NewInt(2_499_999))
	before := f.store.Len()

	_, err := f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{PaymentAsset: usdcAddr})
	require.ErrorIs(t, err, ErrInsufficientAllowance)
	e, _ := AsError(err)
	assert.Equal(t, KindFunds, e.Kind)

	assert.Equal(t, before, f.store.Len())
	assert.Equal(t, model.StatusActive, f.offer(itemKey()).Status)
	assert.Equal(t, "1000000000", f.tokenBalance(f.usdc, buyer).String())
	assert.True(t, f.tokenBalance(f.usdc, seller).IsZero())
	assert.Equal(t, int64(10), f.itemBalance(seller, 1).Int64())
}

func TestAccept_CancelledOfferNotActive(t *testing.T) {
	f := initialized(t)
	f.listItems()
	_, err := f.m.CancelOffer(f.ctx, seller, itemKey())
	require.NoError(t, err)

	_, err = f.m.AcceptWithNative(f.ctx, buyer, itemKey(), ether(1))
	assert.ErrorIs(t, err, ErrOfferNotActive)
}

func TestAccept_Preconditions(t *testing.T) {
	tokenPath := func(f *fixture, who model.Address) error {
		_, err := f.m.AcceptWithToken(f.ctx, who, itemKey(), AcceptTokenRequest{PaymentAsset: usdcAddr})
		return err
	}
	tests := []struct {
		name    string
		arrange func(f *fixture)
		act     func(f *fixture) error
		want    *Error
	}{
		{
			name: "own offer",
			act:  func(f *fixture) error { return tokenPath(f, seller) },
			want: ErrCannotAcceptOwnOffer,
		},
		{
			name:    "deadline passed",
			arrange: func(f *fixture) { f.clock.Advance(361 * time.Second) },
			act:     func(f *fixture) error { return tokenPath(f, buyer) },
			want:    ErrDeadlinePassed,
		},
		{
			name: "seller revoked approval",
			arrange: func(f *fixture) {
				f.exec(seller, func(ctx context.Context) error {
					return f.items.SetApprovalForAll(ctx, seller, marketAddr, false)
				})
			},
			act:  func(f *fixture) error { return tokenPath(f, buyer) },
			want: ErrNotApproved,
		},
		{
			name: "seller moved tokens",
			arrange: func(f *fixture) {
				f.exec(seller, func(ctx context.Context) error {
					return f.items.SafeTransferFrom(ctx, seller, seller, stranger, sdkmath.NewInt(1), sdkmath.NewInt(5))
				})
			},
			act:  func(f *fixture) error { return tokenPath(f, buyer) },
			want: ErrInsufficientTokenBalance,
		},
		{
			name: "asset not whitelisted",
			arrange: func(f *fixture) {
				_, err := f.m.SetWhitelistedPaymentAsset(f.ctx, admin, usdcAddr, false)
				require.NoError(f.t, err)
			},
			act:  func(f *fixture) error { return tokenPath(f, buyer) },
			want: ErrAssetNotWhitelisted,
		},
		{
			name: "no oracle feed",
			act: func(f *fixture) error {
				_, err := f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{PaymentAsset: eurcAddr})
				return err
			},
			want: ErrNoOracleFeed,
		},
		{
			name:    "zero oracle rate",
			arrange: func(f *fixture) { f.setRate(usdcFeed, 0) },
			act:     func(f *fixture) error { return tokenPath(f, buyer) },
			want:    ErrInvalidOracleRate,
		},
		{
			name:    "negative oracle rate",
			arrange: func(f *fixture) { f.setRate(ethFeed, -1) },
			act: func(f *fixture) error {
				_, err := f.m.AcceptWithNative(f.ctx, buyer, itemKey(), ether(1))
				return err
			},
			want: ErrInvalidOracleRate,
		},
		{
			name: "no allowance",
			act:  func(f *fixture) error { return tokenPath(f, buyer) },
			want: ErrInsufficientAllowance,
		},
		{
			name:    "no balance",
			arrange: func(f *fixture) { f.approve(f.usdc, stranger, sdkmath.NewInt(1_000_000_000)) },
			act:     func(f *fixture) error { return tokenPath(f, stranger) },
			want:    ErrInsufficientBalance,
		},
		{
			name: "attached value too low",
			act: func(f *fixture) error {
				_, err := f.m.AcceptWithNative(f.ctx, buyer, itemKey(), mustInt(f.t, "1249999999999999"))
				return err
			},
			want: ErrInsufficientValue,
		},
		{
			name: "attached value above balance",
			act: func(f *fixture) error {
				_, err := f.m.AcceptWithNative(f.ctx, buyer, itemKey(), ether(11))
				return err
			},
			want: ErrInsufficientBalance,
		},
		{
			name:    "price above buyer maximum",
			arrange: func(f *fixture) { f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000)) },
			act: func(f *fixture) error {
				_, err := f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{
					PaymentAsset: usdcAddr,
					MaxPayment:   maxPayment(2_499_999),
				})
				return err
			},
			want: ErrPriceExceedsMax,
		},
		{
			name: "barter not accepted",
			act: func(f *fixture) error {
				_, err := f.m.AcceptWithAsset(f.ctx, buyer, itemKey(), AcceptAssetRequest{
					BarterID:     sdkmath.NewInt(2),
					BarterAmount: sdkmath.NewInt(1),
					PaymentAsset: usdcAddr,
				})
				return err
			},
			want: ErrBarterNotAccepted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := initialized(t)
			f.listItems()
			if tt.arrange != nil {
				tt.arrange(f)
			}
			err := tt.act(f)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, model.StatusActive, f.offer(itemKey()).Status)
		})
	}
}

func TestAccept_AtDeadline(t *testing.T) {
	f := initialized(t)
	f.listItems()
	f.clock.Advance(360 * time.Second)

	_, err := f.m.AcceptWithNative(f.ctx, buyer, itemKey(), ether(1))
	assert.NoError(t, err)
}

func TestAccept_FeeReadAtAcceptTime(t *testing.T) {
	f := initialized(t)
	f.listItems()
	f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000))
	_, err := f.m.SetFee(f.ctx, admin, 1000)
	require.NoError(t, err)

	_, err = f.m.AcceptWithToken(f.ctx, buyer, itemKey(), AcceptTokenRequest{PaymentAsset: usdcAddr})
	require.NoError(t, err)
	assert.Equal(t, "250000", f.tokenBalance(f.usdc, recipient).String())
	assert.Equal(t, "2250000", f.tokenBalance(f.usdc, seller).String())
}

func TestAccept_ZeroFeeSkipsRecipient(t *testing.T) {
	f := initialized(t)
	_, err := f.m.SetFee(f.ctx, admin, 0)
	require.NoError(t, err)
	f.listItems()

	r, err := f.m.AcceptWithNative(f.ctx, buyer, itemKey(), mustInt(t, "1250000000000000"))
	require.NoError(t, err)
	assert.True(t, f.nativeBalance(recipient).IsZero())
	assert.Equal(t, "1250000000000000", f.nativeBalance(seller).String())
	assert.True(t, r.EventsNamed(model.EventOfferAccepted)[0].(model.OfferAccepted).Fee.IsZero())
}

func TestAcceptUniqueOffer_PerTokenApproval(t *testing.T) {
	f := initialized(t)
	f.exec(seller, func(ctx context.Context) error {
		if err := f.art.SetApprovalForAll(ctx, seller, marketAddr, false); err != nil {
			return err
		}
		return f.art.Approve(ctx, seller, marketAddr, sdkmath.NewInt(7))
	})
	_, err := f.m.CreateUniqueOffer(f.ctx, seller, CreateOfferRequest{
		Token:    artAddr,
		TokenID:  sdkmath.NewInt(7),
		Deadline: f.clock.Now().Add(time.Hour),
		PriceUSD: usd(10_000),
	})
	require.NoError(t, err)
	f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000))

	_, err = f.m.AcceptWithToken(f.ctx, buyer, artKey(), AcceptTokenRequest{
		PaymentAsset: usdcAddr,
		MaxPayment:   maxPayment(100_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, buyer, f.artOwner(7))
	assert.Equal(t, "99000000", f.tokenBalance(f.usdc, seller).String())
}

func TestAcceptWithAsset_Barter(t *testing.T) {
	f := initialized(t)
	f.exec(buyer, func(ctx context.Context) error {
		if err := f.items.Mint(ctx, buyer, sdkmath.NewInt(2), sdkmath.NewInt(5)); err != nil {
			return err
		}
		return f.items.SetApprovalForAll(ctx, buyer, marketAddr, true)
	})
	f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000))

	_, err := f.m.CreateUniqueOffer(f.ctx, seller, CreateOfferRequest{
		Token:    artAddr,
		TokenID:  sdkmath.NewInt(7),
		Deadline: f.clock.Now().Add(time.Hour),
		PriceUSD: usd(250),
		Barter: &model.BarterTerms{
			Token:    itemsAddr,
			ID:       sdkmath.NewInt(2),
			Amount:   sdkmath.NewInt(5),
			TopUpUSD: usd(100),
		},
	})
	require.NoError(t, err)
	terms := f.offer(artKey()).Barter
	require.NotNil(t, terms)
	assert.Equal(t, itemsAddr, terms.Token)
	assert.Equal(t, "2", terms.ID.String())
	assert.Equal(t, "5", terms.Amount.String())

	r, err := f.m.AcceptWithAsset(f.ctx, buyer, artKey(), AcceptAssetRequest{
		BarterID:     sdkmath.NewInt(2),
		BarterAmount: sdkmath.NewInt(5),
		PaymentAsset: usdcAddr,
	})
	require.NoError(t, err)

	assert.Equal(t, buyer, f.artOwner(7))
	assert.Equal(t, int64(5), f.itemBalance(seller, 2).Int64())
	assert.True(t, f.itemBalance(buyer, 2).IsZero())
	assert.Equal(t, "1000000", f.tokenBalance(f.usdc, seller).String())
	assert.Equal(t, "25000", f.tokenBalance(f.usdc, recipient).String())
	assert.Equal(t, "998975000", f.tokenBalance(f.usdc, buyer).String())

	accepted := r.EventsNamed(model.EventOfferAccepted)[0].(model.OfferAccepted)
	assert.Equal(t, "1025000", accepted.PaymentAmount.String())
	assert.Equal(t, "25000", accepted.Fee.String())
}

func TestAcceptWithAsset_BuyerMustApprove(t *testing.T) {
	f := initialized(t)
	f.exec(buyer, func(ctx context.Context) error {
		return f.items.Mint(ctx, buyer, sdkmath.NewInt(2), sdkmath.NewInt(5))
	})
	_, err := f.m.CreateUniqueOffer(f.ctx, seller, CreateOfferRequest{
		Token:    artAddr,
		TokenID:  sdkmath.NewInt(7),
		Deadline: f.clock.Now().Add(time.Hour),
		PriceUSD: usd(250),
		Barter:   &model.BarterTerms{Token: itemsAddr, ID: sdkmath.NewInt(2), Amount: sdkmath.NewInt(5)},
	})
	require.NoError(t, err)

	_, err = f.m.AcceptWithAsset(f.ctx, buyer, artKey(), AcceptAssetRequest{
		BarterID:     sdkmath.NewInt(2),
		BarterAmount: sdkmath.NewInt(5),
		PaymentAsset: usdcAddr,
	})
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = f.m.AcceptWithAsset(f.ctx, buyer, artKey(), AcceptAssetRequest{
		BarterID:     sdkmath.NewInt(2),
		BarterAmount: sdkmath.NewInt(0),
		PaymentAsset: usdcAddr,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAcceptWithAsset_BarterMustMatchTerms(t *testing.T) {
	f := initialized(t)
	f.exec(buyer, func(ctx context.Context) error {
		if err := f.items.Mint(ctx, buyer, sdkmath.NewInt(2), sdkmath.NewInt(5)); err != nil {
			return err
		}
		if err := f.items.Mint(ctx, buyer, sdkmath.NewInt(999), sdkmath.NewInt(1)); err != nil {
			return err
		}
		return f.items.SetApprovalForAll(ctx, buyer, marketAddr, true)
	})
	f.approve(f.usdc, buyer, sdkmath.NewInt(1_000_000_000))

	_, err := f.m.CreateUniqueOffer(f.ctx, seller, CreateOfferRequest{
		Token:    artAddr,
		TokenID:  sdkmath.NewInt(7),
		Deadline: f.clock.Now().Add(time.Hour),
		PriceUSD: usd(2_500),
		Barter:   &model.BarterTerms{Token: itemsAddr, ID: sdkmath.NewInt(2), Amount: sdkmath.NewInt(5)},
	})
	require.NoError(t, err)

	tests := []struct {
		name string
		req  AcceptAssetRequest
	}{
		{"other id", AcceptAssetRequest{BarterID: sdkmath.NewInt(999), BarterAmount: sdkmath.NewInt(1), PaymentAsset: usdcAddr}},
		{"short quantity", AcceptAssetRequest{BarterID: sdkmath.NewInt(2), BarterAmount: sdkmath.NewInt(1), PaymentAsset: usdcAddr}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.m.AcceptWithAsset(f.ctx, buyer, artKey(), tt.req)
			require.ErrorIs(t, err, ErrBarterMismatch)
			e, _ := AsError(err)
			assert.Equal(t, KindAsset, e.Kind)
		})
	}

	assert.Equal(t, model.StatusActive, f.offer(artKey()).Status)
	assert.Equal(t, seller, f.artOwner(7))
	assert.Equal(t, int64(1), f.itemBalance(buyer, 999).Int64())
	assert.True(t, f.tokenBalance(f.usdc, recipient).IsZero())
}

// reentrantBuyer tries to buy the same offer again when the asset arrives.
type reentrantBuyer struct {
	m         *Marketplace
	self      model.Address
	propagate bool

	seen    model.OfferStatus
	reentry error
}

func (b *reentrantBuyer) OnAssetReceived(ctx context.Context, _, _ model.Address, _, _ sdkmath.Int) error {
	o, err := b.m.Offer(ctx, itemKey())
	if err != nil {
		return err
	}
	b.seen = o.Status
	_, b.reentry = b.m.AcceptWithNative(ctx, b.self, itemKey(), ether(1))
	if b.propagate {
		return b.reentry
	}
	return nil
}

func TestAccept_ReentrantCallRejected(t *testing.T) {
	for _, propagate := range []bool{true, false} {
		f := initialized(t)
		f.listItems()
		attacker := addr(0xbad)
		hook := &reentrantBuyer{m: f.m, self: attacker, propagate: propagate}
		f.host.Deploy(attacker, hook)
		f.exec(attacker, func(ctx context.Context) error { return f.native.Mint(ctx, attacker, ether(1)) })

		r, err := f.m.AcceptWithNative(f.ctx, attacker, itemKey(), mustInt(t, "1250000000000000"))

		assert.ErrorIs(t, hook.reentry, ErrReentrantCall)
		assert.Equal(t, model.StatusAccepted, hook.seen, "offer is marked accepted before the asset moves")
		if propagate {
			require.ErrorIs(t, err, ErrReentrantCall)
			assert.Equal(t, model.StatusActive, f.offer(itemKey()).Status)
			assert.Equal(t, ether(1).String(), f.nativeBalance(attacker).String())
			continue
		}
		require.NoError(t, err)
		assert.Len(t, r.EventsNamed(model.EventOfferAccepted), 1)
		assert.Equal(t, int64(10), f.itemBalance(attacker, 1).Int64())
		assert.Equal(t, "1237500000000000", f.nativeBalance(seller).String())
	}
}
