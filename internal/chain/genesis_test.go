package chain

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

const testGenesis = `{
  "native": [{"owner": "0x0000000000000000000000000000000000000b0b", "amount": "5000000000000000000"}],
  "fungible": [{
    "address": "0x00000000000000000000000000000000000000c1",
    "symbol": "USDC",
    "decimals": 6,
    "balances": [{"owner": "0x0000000000000000000000000000000000000b0b", "amount": "1000000000"}]
  }],
  "multi": [{
    "address": "0x0000000000000000000000000000000000001155",
    "name": "Items",
    "balances": [{"owner": "0x00000000000000000000000000000000000a11ce", "id": "1", "amount": "10"}]
  }],
  "feeds": [{
    "address": "0x00000000000000000000000000000000000000fe",
    "asset": "0x00000000000000000000000000000000000000c1",
    "symbol": "USDC",
    "decimals": 8,
    "updater": "0x00000000000000000000000000000000000a11ce",
    "answer": "100000000"
  }]
}`

func TestApplyGenesis_SeedsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte(testGenesis), 0o600))

	g, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Len(t, g.Feeds, 1)
	assert.Equal(t, "USDC", g.Feeds[0].Symbol)

	h, _, _ := newTestHost(t)
	ctx := context.Background()
	require.NoError(t, ApplyGenesis(ctx, h, g))
	require.NoError(t, ApplyGenesis(ctx, h, g))

	code, ok := h.Lookup(usdc)
	require.True(t, ok)
	tok := code.(*FungibleToken)
	assert.Equal(t, uint8(6), tok.Decimals())

	require.NoError(t, h.View(ctx, func(ctx context.Context, tx *Tx) error {
		bal, err := tok.BalanceOf(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, "1000000000", bal.String())

		native, err := NativeCurrency{}.BalanceOf(ctx, bob)
		require.NoError(t, err)
		assert.Equal(t, "5000000000000000000", native.String())

		multi := NewMultiToken(model.MustAddress("0x0000000000000000000000000000000000001155"), "Items")
		items, err := multi.BalanceOf(ctx, alice, sdkmath.NewInt(1))
		require.NoError(t, err)
		assert.Equal(t, int64(10), items.Int64())
		return nil
	}))
}

func TestLoadGenesis_RejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := LoadGenesis(path)
	assert.Error(t, err)
}
