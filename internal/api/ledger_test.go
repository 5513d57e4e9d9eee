package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/proxy"
	"github.com/Checker-Finance/marketplace/internal/state"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// ledgerApp serves the API over an in-memory ledger with a version 2
// marketplace behind the proxy and ETH priced at 2000 USD.
func ledgerApp(t *testing.T) (*fiber.App, *chain.Host, *chain.ManualClock, model.Address) {
	t.Helper()
	ctx := context.Background()
	var (
		deployer  = addr(1)
		admin     = addr(2)
		recipient = addr(3)
		proxyAddr = addr(0xa11)
		ethFeed   = addr(0xfe1)
	)

	clock := chain.NewManualClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	host, err := chain.NewHost(state.NewMemory(), clock, 16, nil)
	require.NoError(t, err)

	require.NoError(t, chain.ApplyGenesis(ctx, host, &chain.Genesis{
		Native: []chain.Balance{{Owner: buyerAddr, Amount: "1000000000000000000"}},
		Multi: []chain.MultiSpec{{
			Address:  itemsAddr,
			Name:     "Items",
			Balances: []chain.Balance{{Owner: sellerAddr, ID: "1", Amount: "10"}},
		}},
		Feeds: []chain.FeedSpec{{
			Address:  ethFeed,
			Decimals: 8,
			Updater:  deployer,
			Answer:   "200000000000",
		}},
	}))

	p := proxy.New(host, proxyAddr, nil)
	require.NoError(t, p.Deploy(ctx, deployer, 2))
	_, err = p.Initialize(ctx, admin, recipient, 100)
	require.NoError(t, err)
	_, err = p.SetOracleFeed(ctx, admin, model.NativeAsset, ethFeed)
	require.NoError(t, err)

	app := fiber.New()
	h := NewHandler(zap.NewNop(), p, chain.NewWallet(host), host)
	RegisterRoutes(app, h, RequireCaller(testAuth, nil, nil), nil)
	return app, host, clock, proxyAddr
}

func TestLedger_ListQuoteAndBuyWithNative(t *testing.T) {
	app, host, clock, proxyAddr := ledgerApp(t)
	var committed []string
	host.OnCommit(func(r *model.Receipt) { committed = append(committed, r.Method) })

	resp, raw := doJSON(t, app, http.MethodPost, "/api/v1/assets/approve-all", "seller-key", map[string]any{
		"token":    itemsAddr.String(),
		"operator": proxyAddr.String(),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(raw))

	resp, raw = doJSON(t, app, http.MethodPost, "/api/v1/offers", "seller-key", map[string]any{
		"token":    itemsAddr.String(),
		"tokenId":  1,
		"amount":   4,
		"deadline": clock.Now().Add(time.Hour).Format(time.RFC3339),
		"priceUsd": 250,
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(raw))

	quotePath := fmt.Sprintf("/api/v1/quote?seller=%s&token=%s&tokenId=1", sellerAddr, itemsAddr)
	resp, raw = doJSON(t, app, http.MethodGet, quotePath, "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(raw))
	var quote struct {
		Gross sdkmath.Int `json:"gross"`
		Fee   sdkmath.Int `json:"fee"`
	}
	require.NoError(t, json.Unmarshal(raw, &quote))
	require.True(t, quote.Gross.IsPositive())

	// underpaying is refused and leaves the offer active
	resp, raw = doJSON(t, app, http.MethodPost, "/api/v1/offers/accept/native", "buyer-key", map[string]any{
		"seller":  sellerAddr.String(),
		"token":   itemsAddr.String(),
		"tokenId": 1,
		"value":   quote.Gross.SubRaw(1).String(),
	})
	assert.Equal(t, fiber.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_VALUE", decodeError(t, raw).Code)

	resp, raw = doJSON(t, app, http.MethodPost, "/api/v1/offers/accept/native", "buyer-key", map[string]any{
		"seller":  sellerAddr.String(),
		"token":   itemsAddr.String(),
		"tokenId": 1,
		"value":   quote.Gross.String(),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(raw))
	var receipt struct {
		ID     string `json:"id"`
		Events []struct {
			Name string `json:"name"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(raw, &receipt))
	var names []string
	for _, ev := range receipt.Events {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, model.EventOfferAccepted)

	resp, _ = doJSON(t, app, http.MethodGet, "/api/v1/receipts/"+receipt.ID, "", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, raw = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/assets/%s/balance/%s?tokenId=1", itemsAddr, buyerAddr), "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var bal map[string]any
	require.NoError(t, json.Unmarshal(raw, &bal))
	assert.Equal(t, "4", bal["balance"])

	resp, raw = doJSON(t, app, http.MethodGet, fmt.Sprintf("/api/v1/offers/%s/%s/1", sellerAddr, itemsAddr), "", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var offer map[string]any
	require.NoError(t, json.Unmarshal(raw, &offer))
	assert.Equal(t, "accepted", offer["status"])
	assert.Equal(t, string(buyerAddr), offer["buyer"])
	assert.Equal(t, quote.Fee.String(), offer["feeAmount"])

	// a second acceptance finds nothing to buy
	resp, raw = doJSON(t, app, http.MethodPost, "/api/v1/offers/accept/native", "buyer-key", map[string]any{
		"seller":  sellerAddr.String(),
		"token":   itemsAddr.String(),
		"tokenId": 1,
		"value":   quote.Gross.String(),
	})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "OFFER_NOT_ACTIVE", decodeError(t, raw).Code)

	assert.Contains(t, committed, "SetApprovalForAll")
}

func TestLedger_NonAdminCannotSetFee(t *testing.T) {
	app, _, _, _ := ledgerApp(t)

	resp, raw := doJSON(t, app, http.MethodPost, "/api/v1/admin/fee", "buyer-key", map[string]any{"feeBps": 50})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_ADMIN", decodeError(t, raw).Code)

	resp, raw = doJSON(t, app, http.MethodPost, "/api/v1/proxy/upgrade", "buyer-key", map[string]any{"version": 2})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode, string(raw))
}
