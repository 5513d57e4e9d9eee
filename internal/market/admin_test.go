package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

func TestInitialize_Once(t *testing.T) {
	f := newFixture(t)

	r, err := f.m.Initialize(f.ctx, admin, recipient, 100)
	require.NoError(t, err)
	evs := r.EventsNamed(model.EventInitialized)
	require.Len(t, evs, 1)
	assert.Equal(t, model.Initialized{Admin: admin, FeeRecipient: recipient, FeeBps: 100}, evs[0])

	s, err := f.m.Settings(f.ctx)
	require.NoError(t, err)
	assert.True(t, s.Initialized)
	assert.Equal(t, admin, s.Admin)
	assert.Equal(t, recipient, s.FeeRecipient)
	assert.Equal(t, uint32(100), s.FeeBps)

	_, err = f.m.Initialize(f.ctx, stranger, stranger, 0)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)

	got, err := f.m.Admin(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, admin, got)
}

func TestInitialize_Validates(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.Initialize(f.ctx, admin, model.NativeAsset, 100)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = f.m.Initialize(f.ctx, admin, recipient, 10_001)
	assert.ErrorIs(t, err, ErrFeeOutOfRange)

	s, err := f.m.Settings(f.ctx)
	require.NoError(t, err)
	assert.False(t, s.Initialized)
}

func TestMutationsRequireInitialize(t *testing.T) {
	f := newFixture(t)

	_, err := f.m.SetFee(f.ctx, admin, 10)
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = f.m.CreateOffer(f.ctx, seller, CreateOfferRequest{})
	assert.ErrorIs(t, err, ErrNotInitialized)

	_, err = f.m.CancelOffer(f.ctx, seller, itemKey())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSetFee(t *testing.T) {
	f := initialized(t)

	r, err := f.m.SetFee(f.ctx, admin, 1000)
	require.NoError(t, err)
	assert.Equal(t, []model.Event{model.FeeUpdated{FeeBps: 1000}}, r.EventsNamed(model.EventFeeUpdated))

	fee, err := f.m.Fee(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), fee)

	_, err = f.m.SetFee(f.ctx, admin, 999999)
	require.ErrorIs(t, err, ErrFeeOutOfRange)
	e, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindConfig, e.Kind)

	_, err = f.m.SetFee(f.ctx, stranger, 5)
	require.ErrorIs(t, err, ErrNotAdmin)
	e, _ = AsError(err)
	assert.Equal(t, KindAuthorization, e.Kind)

	fee, err = f.m.Fee(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), fee)

	_, err = f.m.SetFee(f.ctx, admin, 10_000)
	assert.NoError(t, err)
}

func TestSetFeeRecipient(t *testing.T) {
	f := initialized(t)

	_, err := f.m.SetFeeRecipient(f.ctx, stranger, stranger)
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = f.m.SetFeeRecipient(f.ctx, admin, model.NativeAsset)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	r, err := f.m.SetFeeRecipient(f.ctx, admin, stranger)
	require.NoError(t, err)
	assert.Len(t, r.EventsNamed(model.EventFeeRecipientUpdated), 1)

	got, err := f.m.FeeRecipient(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, stranger, got)
}

func TestTransferAdmin(t *testing.T) {
	f := initialized(t)

	_, err := f.m.TransferAdmin(f.ctx, stranger, stranger)
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = f.m.TransferAdmin(f.ctx, admin, stranger)
	require.NoError(t, err)

	_, err = f.m.SetFee(f.ctx, admin, 5)
	assert.ErrorIs(t, err, ErrNotAdmin)
	_, err = f.m.SetFee(f.ctx, stranger, 5)
	assert.NoError(t, err)
}

func TestWhitelistAndFeeds(t *testing.T) {
	f := initialized(t)

	_, err := f.m.SetWhitelistedPaymentAsset(f.ctx, stranger, usdcAddr, false)
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = f.m.SetWhitelistedPaymentAsset(f.ctx, admin, itemsAddr, true)
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = f.m.SetWhitelistedPaymentAsset(f.ctx, admin, model.NativeAsset, true)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = f.m.SetOracleFeed(f.ctx, admin, usdcAddr, usdcAddr)
	assert.ErrorIs(t, err, ErrUnknownAsset)

	_, err = f.m.SetOracleFeed(f.ctx, stranger, usdcAddr, usdcFeed)
	assert.ErrorIs(t, err, ErrNotAdmin)

	r, err := f.m.SetWhitelistedPaymentAsset(f.ctx, admin, usdcAddr, false)
	require.NoError(t, err)
	assert.Equal(t, []model.Event{model.PaymentAssetWhitelisted{Asset: usdcAddr, Enabled: false}},
		r.EventsNamed(model.EventPaymentAssetWhitelisted))

	ok, err := f.m.IsWhitelisted(f.ctx, usdcAddr)
	require.NoError(t, err)
	assert.False(t, ok)

	feed, err := f.m.FeedFor(f.ctx, usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, usdcFeed, feed, "disabling keeps the feed")

	feed, err = f.m.FeedFor(f.ctx, eurcAddr)
	require.NoError(t, err)
	assert.Equal(t, model.NativeAsset, feed)

	_, err = f.m.SetOracleFeed(f.ctx, admin, usdcAddr, daiFeed)
	require.NoError(t, err)
	feed, err = f.m.FeedFor(f.ctx, usdcAddr)
	require.NoError(t, err)
	assert.Equal(t, daiFeed, feed)
}
