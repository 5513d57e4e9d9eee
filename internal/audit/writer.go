package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/pkg/eventbus"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Execer is the subset of pgxpool.Pool the writer needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS marketplace;
	CREATE TABLE IF NOT EXISTS marketplace.t_offer_event (
		s_id_receipt  UUID        NOT NULL,
		n_sequence    BIGINT      NOT NULL,
		s_event       TEXT        NOT NULL,
		s_seller      TEXT        NOT NULL,
		s_token       TEXT        NOT NULL,
		dec_token_id  NUMERIC(78) NOT NULL,
		dec_amount    NUMERIC(78),
		dec_price_usd NUMERIC(78),
		dt_deadline   TIMESTAMPTZ,
		dt_event      TIMESTAMPTZ NOT NULL,
		s_source      TEXT        NOT NULL,
		PRIMARY KEY (s_id_receipt, s_event, s_seller, s_token, dec_token_id)
	);
	CREATE TABLE IF NOT EXISTS marketplace.t_settlement (
		s_id_receipt      UUID PRIMARY KEY,
		n_sequence        BIGINT      NOT NULL,
		s_buyer           TEXT        NOT NULL,
		s_seller          TEXT        NOT NULL,
		s_token           TEXT        NOT NULL,
		dec_token_id      NUMERIC(78) NOT NULL,
		dec_amount        NUMERIC(78) NOT NULL,
		dec_price_usd     NUMERIC(78) NOT NULL,
		s_payment_asset   TEXT        NOT NULL,
		dec_payment_total NUMERIC(78) NOT NULL,
		dec_fee           NUMERIC(78) NOT NULL,
		dt_settled        TIMESTAMPTZ NOT NULL,
		s_source          TEXT        NOT NULL
	);
`

const settlementQuery = `
	INSERT INTO marketplace.t_settlement (
		s_id_receipt,
		n_sequence,
		s_buyer,
		s_seller,
		s_token,
		dec_token_id,
		dec_amount,
		dec_price_usd,
		s_payment_asset,
		dec_payment_total,
		dec_fee,
		dt_settled,
		s_source
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (s_id_receipt) DO NOTHING;
`

const offerEventQuery = `
	INSERT INTO marketplace.t_offer_event (
		s_id_receipt,
		n_sequence,
		s_event,
		s_seller,
		s_token,
		dec_token_id,
		dec_amount,
		dec_price_usd,
		dt_deadline,
		dt_event,
		s_source
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT DO NOTHING;
`

// Writer keeps an append-only SQL trail of offer lifecycle events and settlements.
type Writer struct {
	db     Execer
	logger *zap.Logger
	source string
}

// NewWriter constructs an audit writer. source identifies the service instance.
func NewWriter(db Execer, logger *zap.Logger, source string) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, logger: logger, source: source}
}

// EnsureSchema creates the audit tables if they are missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	_, err := w.db.Exec(ctx, schemaSQL)
	return err
}

// Attach subscribes the writer to the offer events on the bus.
func (w *Writer) Attach(bus *eventbus.EventBus) {
	handler := func(r *model.Receipt, ev model.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.Record(ctx, r, ev); err != nil {
			metrics.IncError("audit", "write_failed")
		}
	}
	bus.Subscribe(model.EventOfferCreated, handler)
	bus.Subscribe(model.EventOfferCancelled, handler)
	bus.Subscribe(model.EventOfferAccepted, handler)
}

// Record writes one event. Events other than offer lifecycle events are ignored.
func (w *Writer) Record(ctx context.Context, r *model.Receipt, ev model.Event) error {
	switch e := ev.(type) {
	case model.OfferAccepted:
		return w.WriteSettlement(ctx, r, e)
	case model.OfferCreated:
		deadline := e.Deadline
		return w.writeOfferEvent(ctx, r, ev.EventName(), e.Seller, e.Token, e.TokenID.String(),
			e.Amount.String(), e.PriceUSD.String(), &deadline)
	case model.OfferCancelled:
		return w.writeOfferEvent(ctx, r, ev.EventName(), e.Seller, e.Token, e.TokenID.String(), nil, nil, nil)
	default:
		return nil
	}
}

// WriteSettlement inserts a settlement row; replays of the same receipt are no-ops.
func (w *Writer) WriteSettlement(ctx context.Context, r *model.Receipt, e model.OfferAccepted) error {
	_, err := w.db.Exec(ctx, settlementQuery,
		r.ID,                     // s_id_receipt
		int64(r.Sequence),        // n_sequence
		e.Buyer.String(),         // s_buyer
		e.Seller.String(),        // s_seller
		e.Token.String(),         // s_token
		e.TokenID.String(),       // dec_token_id
		e.Amount.String(),        // dec_amount
		e.PriceUSD.String(),      // dec_price_usd
		e.PaymentAsset.String(),  // s_payment_asset
		e.PaymentAmount.String(), // dec_payment_total
		e.Fee.String(),           // dec_fee
		r.BlockTime,              // dt_settled
		w.source,                 // s_source
	)
	if err != nil {
		w.logger.Error("audit.settlement_write_failed",
			zap.String("receipt", r.ID.String()),
			zap.String("seller", e.Seller.String()),
			zap.String("token_id", e.TokenID.String()),
			zap.Error(err))
		return err
	}

	w.logger.Info("audit.settlement_recorded",
		zap.String("receipt", r.ID.String()),
		zap.String("buyer", e.Buyer.String()),
		zap.String("seller", e.Seller.String()),
		zap.String("payment_asset", e.PaymentAsset.String()),
		zap.Time("settled_at", r.BlockTime))
	return nil
}

func (w *Writer) writeOfferEvent(ctx context.Context, r *model.Receipt, name string,
	seller, token model.Address, tokenID string, amount, priceUSD any, deadline *time.Time) error {
	_, err := w.db.Exec(ctx, offerEventQuery,
		r.ID,              // s_id_receipt
		int64(r.Sequence), // n_sequence
		name,              // s_event
		seller.String(),   // s_seller
		token.String(),    // s_token
		tokenID,           // dec_token_id
		amount,            // dec_amount
		priceUSD,          // dec_price_usd
		deadline,          // dt_deadline
		r.BlockTime,       // dt_event
		w.source,          // s_source
	)
	if err != nil {
		w.logger.Error("audit.offer_event_write_failed",
			zap.String("receipt", r.ID.String()),
			zap.String("event", name),
			zap.Error(err))
		return err
	}
	w.logger.Debug("audit.offer_event_recorded",
		zap.String("receipt", r.ID.String()),
		zap.String("event", name))
	return nil
}
