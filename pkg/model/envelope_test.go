package model

import (
	"encoding/json"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType(t *testing.T) {
	assert.Equal(t, "offer.accepted", EventType(EventOfferAccepted))
	assert.Equal(t, "fee.recipient.updated", EventType(EventFeeRecipientUpdated))
	assert.Equal(t, "initialized", EventType(EventInitialized))
}

func TestNewEnvelope(t *testing.T) {
	r := &Receipt{
		ID:        uuid.New(),
		Caller:    MustAddress("0x0000000000000000000000000000000000000b0b"),
		BlockTime: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	ev := OfferCancelled{Seller: r.Caller, Token: NativeAsset, TokenID: sdkmath.NewInt(42)}

	env, err := NewEnvelope(NativeAsset, r, ev, "evt.marketplace.offer.cancelled.v1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, env.CorrelationID)
	assert.Equal(t, "offer.cancelled", env.EventType)
	assert.Equal(t, r.Caller, env.Caller)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "42", payload["tokenId"])
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0x00000000000000000000000000000000000A11CE")
	require.NoError(t, err)
	assert.Equal(t, Address("0x00000000000000000000000000000000000a11ce"), a)

	for _, bad := range []string{"", "a11ce", "0x123", "0xzz000000000000000000000000000000000a11ce"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, NativeAsset.IsZero())
}

func TestStandardJSON(t *testing.T) {
	var s Standard
	require.NoError(t, json.Unmarshal([]byte(`"erc721"`), &s))
	assert.Equal(t, StandardUnique, s)
	require.NoError(t, json.Unmarshal([]byte(`"multi"`), &s))
	assert.Equal(t, StandardMulti, s)
	assert.Error(t, json.Unmarshal([]byte(`"erc20"`), &s))
}
