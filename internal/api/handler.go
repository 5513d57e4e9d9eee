package api

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Marketplace is the set of marketplace operations served over HTTP.
// *proxy.Proxy implements it.
type Marketplace interface {
	SetFee(ctx context.Context, caller model.Address, feeBps uint32) (*model.Receipt, error)
	SetFeeRecipient(ctx context.Context, caller, recipient model.Address) (*model.Receipt, error)
	TransferAdmin(ctx context.Context, caller, next model.Address) (*model.Receipt, error)
	SetWhitelistedPaymentAsset(ctx context.Context, caller, asset model.Address, enabled bool) (*model.Receipt, error)
	SetOracleFeed(ctx context.Context, caller, asset, feed model.Address) (*model.Receipt, error)
	Settings(ctx context.Context) (market.Settings, error)
	QuotePayment(ctx context.Context, priceUSD sdkmath.Int, asset model.Address) (market.Quote, error)
	QuoteOffer(ctx context.Context, k model.OfferKey, asset model.Address) (market.Quote, error)

	CreateOffer(ctx context.Context, caller model.Address, req market.CreateOfferRequest) (*model.Receipt, error)
	CreateUniqueOffer(ctx context.Context, caller model.Address, req market.CreateOfferRequest) (*model.Receipt, error)
	CancelOffer(ctx context.Context, caller model.Address, k model.OfferKey) (*model.Receipt, error)
	Offer(ctx context.Context, k model.OfferKey) (*model.Offer, error)
	OfferHistory(ctx context.Context, k model.OfferKey) ([]model.Offer, error)

	AcceptWithNative(ctx context.Context, caller model.Address, k model.OfferKey, value sdkmath.Int) (*model.Receipt, error)
	AcceptWithToken(ctx context.Context, caller model.Address, k model.OfferKey, req market.AcceptTokenRequest) (*model.Receipt, error)
	AcceptWithAsset(ctx context.Context, caller model.Address, k model.OfferKey, req market.AcceptAssetRequest) (*model.Receipt, error)

	Owner(ctx context.Context) (model.Address, error)
	Version(ctx context.Context) (uint32, error)
	Upgrade(ctx context.Context, caller model.Address, version uint32) (*model.Receipt, error)
	TransferProxyOwnership(ctx context.Context, caller, next model.Address) (*model.Receipt, error)
}

// Wallet performs token approvals and balance lookups. *chain.Wallet implements it.
type Wallet interface {
	SetApprovalForAll(ctx context.Context, caller, token, operator model.Address, approved bool) (*model.Receipt, error)
	Approve(ctx context.Context, caller, token, spender model.Address, value sdkmath.Int) (*model.Receipt, error)
	Balance(ctx context.Context, token, owner model.Address, id sdkmath.Int) (sdkmath.Int, error)
}

// Receipts looks up recently committed calls.
type Receipts interface {
	Receipt(id uuid.UUID) (*model.Receipt, bool)
}

// EventView is one emitted event in a receipt response.
type EventView struct {
	Name string      `json:"name"`
	Data model.Event `json:"data"`
}

type ReceiptResponse struct {
	ID        uuid.UUID     `json:"id"`
	Caller    model.Address `json:"caller"`
	Method    string        `json:"method"`
	Sequence  uint64        `json:"sequence"`
	BlockTime time.Time     `json:"blockTime"`
	Events    []EventView   `json:"events"`
}

func toReceiptResponse(r *model.Receipt) ReceiptResponse {
	events := make([]EventView, len(r.Events))
	for i, ev := range r.Events {
		events[i] = EventView{Name: ev.EventName(), Data: ev}
	}
	return ReceiptResponse{
		ID:        r.ID,
		Caller:    r.Caller,
		Method:    r.Method,
		Sequence:  r.Sequence,
		BlockTime: r.BlockTime,
		Events:    events,
	}
}

type ConfigResponse struct {
	market.Settings
	ProxyOwner   model.Address `json:"proxyOwner"`
	ProxyVersion uint32        `json:"proxyVersion"`
}

type BalanceResponse struct {
	Token   model.Address `json:"token"`
	Owner   model.Address `json:"owner"`
	TokenID sdkmath.Int   `json:"tokenId"`
	Balance sdkmath.Int   `json:"balance"`
}

// Handler serves the marketplace HTTP API.
type Handler struct {
	logger   *zap.Logger
	market   Marketplace
	wallet   Wallet
	receipts Receipts
}

func NewHandler(logger *zap.Logger, m Marketplace, wallet Wallet, receipts Receipts) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger, market: m, wallet: wallet, receipts: receipts}
}

// committed answers a state-changing call.
func (h *Handler) committed(c *fiber.Ctx, op string, status int, r *model.Receipt, err error) error {
	if err != nil {
		code := market.Code(err)
		if code == "INTERNAL" {
			h.logger.Error("api.call_failed",
				zap.String("op", op),
				zap.String("caller", callerOf(c).String()),
				zap.Error(err))
		} else {
			h.logger.Info("api.call_rejected",
				zap.String("op", op),
				zap.String("caller", callerOf(c).String()),
				zap.String("code", code))
		}
		return writeError(c, err)
	}
	return c.Status(status).JSON(toReceiptResponse(r))
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return invalid("malformed request body: " + err.Error())
	}
	return nil
}

// --- offers ---

func (h *Handler) createOffer(c *fiber.Ctx, unique bool) error {
	var req CreateOfferRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	mreq, err := req.toMarket(unique)
	if err != nil {
		return writeError(c, err)
	}
	caller := callerOf(c)
	var r *model.Receipt
	if unique {
		r, err = h.market.CreateUniqueOffer(c.UserContext(), caller, mreq)
	} else {
		r, err = h.market.CreateOffer(c.UserContext(), caller, mreq)
	}
	return h.committed(c, "create_offer", fiber.StatusCreated, r, err)
}

// CreateOffer lists a multi token.
func (h *Handler) CreateOffer(c *fiber.Ctx) error { return h.createOffer(c, false) }

// CreateUniqueOffer lists a unique token.
func (h *Handler) CreateUniqueOffer(c *fiber.Ctx) error { return h.createOffer(c, true) }

func (h *Handler) CancelOffer(c *fiber.Ctx) error {
	var req OfferKeyRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	k, err := req.key()
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.CancelOffer(c.UserContext(), callerOf(c), k)
	return h.committed(c, "cancel_offer", fiber.StatusOK, r, err)
}

func paramKey(c *fiber.Ctx) (model.OfferKey, error) {
	return OfferKeyRequest{
		Seller:  c.Params("seller"),
		Token:   c.Params("token"),
		TokenID: jsonNumber(c.Params("tokenId")),
	}.key()
}

func (h *Handler) GetOffer(c *fiber.Ctx) error {
	k, err := paramKey(c)
	if err != nil {
		return writeError(c, err)
	}
	o, err := h.market.Offer(c.UserContext(), k)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(o)
}

func (h *Handler) OfferHistory(c *fiber.Ctx) error {
	k, err := paramKey(c)
	if err != nil {
		return writeError(c, err)
	}
	history, err := h.market.OfferHistory(c.UserContext(), k)
	if err != nil {
		return writeError(c, err)
	}
	if history == nil {
		history = []model.Offer{}
	}
	return c.JSON(history)
}

// --- settlement ---

func (h *Handler) AcceptWithNative(c *fiber.Ctx) error {
	var req AcceptNativeRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	k, err := req.key()
	if err != nil {
		return writeError(c, err)
	}
	value, err := parseInt("value", req.Value, true)
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.AcceptWithNative(c.UserContext(), callerOf(c), k, value)
	return h.committed(c, "accept_native", fiber.StatusOK, r, err)
}

func (h *Handler) AcceptWithToken(c *fiber.Ctx) error {
	var req AcceptTokenRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	k, err := req.key()
	if err != nil {
		return writeError(c, err)
	}
	mreq, err := req.toMarket()
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.AcceptWithToken(c.UserContext(), callerOf(c), k, mreq)
	return h.committed(c, "accept_token", fiber.StatusOK, r, err)
}

func (h *Handler) AcceptWithAsset(c *fiber.Ctx) error {
	var req AcceptAssetRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	k, err := req.key()
	if err != nil {
		return writeError(c, err)
	}
	mreq, err := req.toMarket()
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.AcceptWithAsset(c.UserContext(), callerOf(c), k, mreq)
	return h.committed(c, "accept_asset", fiber.StatusOK, r, err)
}

// Quote previews a payment. With seller, token and tokenId it prices that
// offer; otherwise it prices priceUsd.
func (h *Handler) Quote(c *fiber.Ctx) error {
	asset, err := parseAddress("asset", c.Query("asset", model.NativeAsset.String()))
	if err != nil {
		return writeError(c, err)
	}

	var q market.Quote
	if c.Query("seller") != "" {
		k, kerr := OfferKeyRequest{
			Seller:  c.Query("seller"),
			Token:   c.Query("token"),
			TokenID: jsonNumber(c.Query("tokenId")),
		}.key()
		if kerr != nil {
			return writeError(c, kerr)
		}
		q, err = h.market.QuoteOffer(c.UserContext(), k, asset)
	} else {
		price, perr := parseInt("priceUsd", jsonNumber(c.Query("priceUsd")), true)
		if perr != nil {
			return writeError(c, perr)
		}
		q, err = h.market.QuotePayment(c.UserContext(), price, asset)
	}
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(q)
}

// --- admin ---

func (h *Handler) Config(c *fiber.Ctx) error {
	s, err := h.market.Settings(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	owner, err := h.market.Owner(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	version, err := h.market.Version(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ConfigResponse{Settings: s, ProxyOwner: owner, ProxyVersion: version})
}

func (h *Handler) SetFee(c *fiber.Ctx) error {
	var req FeeRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	if req.FeeBps == nil {
		return writeError(c, invalid("feeBps is required"))
	}
	r, err := h.market.SetFee(c.UserContext(), callerOf(c), *req.FeeBps)
	return h.committed(c, "set_fee", fiber.StatusOK, r, err)
}

func (h *Handler) SetFeeRecipient(c *fiber.Ctx) error {
	var req AddressRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.SetFeeRecipient(c.UserContext(), callerOf(c), addr)
	return h.committed(c, "set_fee_recipient", fiber.StatusOK, r, err)
}

func (h *Handler) TransferAdmin(c *fiber.Ctx) error {
	var req AddressRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.TransferAdmin(c.UserContext(), callerOf(c), addr)
	return h.committed(c, "transfer_admin", fiber.StatusOK, r, err)
}

func (h *Handler) SetWhitelist(c *fiber.Ctx) error {
	var req WhitelistRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return writeError(c, err)
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	r, err := h.market.SetWhitelistedPaymentAsset(c.UserContext(), callerOf(c), asset, enabled)
	return h.committed(c, "set_whitelist", fiber.StatusOK, r, err)
}

func (h *Handler) SetOracleFeed(c *fiber.Ctx) error {
	var req OracleFeedRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return writeError(c, err)
	}
	feed, err := parseAddress("feed", req.Feed)
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.SetOracleFeed(c.UserContext(), callerOf(c), asset, feed)
	return h.committed(c, "set_oracle_feed", fiber.StatusOK, r, err)
}

// --- proxy ---

func (h *Handler) Upgrade(c *fiber.Ctx) error {
	var req UpgradeRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	r, err := h.market.Upgrade(c.UserContext(), callerOf(c), req.Version)
	return h.committed(c, "upgrade", fiber.StatusOK, r, err)
}

func (h *Handler) TransferProxyOwnership(c *fiber.Ctx) error {
	var req AddressRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.market.TransferProxyOwnership(c.UserContext(), callerOf(c), addr)
	return h.committed(c, "transfer_proxy_ownership", fiber.StatusOK, r, err)
}

// --- assets ---

func (h *Handler) ApproveAll(c *fiber.Ctx) error {
	var req ApproveAllRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return writeError(c, err)
	}
	operator, err := parseAddress("operator", req.Operator)
	if err != nil {
		return writeError(c, err)
	}
	approved := true
	if req.Approved != nil {
		approved = *req.Approved
	}
	r, err := h.wallet.SetApprovalForAll(c.UserContext(), callerOf(c), token, operator, approved)
	return h.committed(c, "approve_all", fiber.StatusOK, r, err)
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	var req ApproveRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return writeError(c, err)
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		return writeError(c, err)
	}
	value, err := parseInt("value", req.Value, true)
	if err != nil {
		return writeError(c, err)
	}
	r, err := h.wallet.Approve(c.UserContext(), callerOf(c), token, spender, value)
	return h.committed(c, "approve", fiber.StatusOK, r, err)
}

func (h *Handler) Balance(c *fiber.Ctx) error {
	token, err := parseAddress("token", c.Params("token"))
	if err != nil {
		return writeError(c, err)
	}
	owner, err := parseAddress("owner", c.Params("owner"))
	if err != nil {
		return writeError(c, err)
	}
	id, err := parseInt("tokenId", jsonNumber(c.Query("tokenId")), false)
	if err != nil {
		return writeError(c, err)
	}
	if id.IsNil() {
		id = sdkmath.ZeroInt()
	}
	bal, err := h.wallet.Balance(c.UserContext(), token, owner, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(BalanceResponse{Token: token, Owner: owner, TokenID: id, Balance: bal})
}

// --- receipts ---

func (h *Handler) Receipt(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, invalid("id must be a uuid"))
	}
	r, ok := h.receipts.Receipt(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: "receipt not found or evicted",
			Code:  "RECEIPT_NOT_FOUND",
			Kind:  string(market.KindState),
		})
	}
	return c.JSON(toReceiptResponse(r))
}
