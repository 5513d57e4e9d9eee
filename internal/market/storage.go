package market

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ugorji/go/codec"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Records are msgpack arrays: a field's position is its identity. New fields
// are only ever appended, so a record written by an older layout decodes with
// the appended fields at their zero value.
var msgpack = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.StructToArray = true
	h.WriteExt = true
	return h
}()

func encode(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpack).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func decode(raw []byte, v any) error {
	return codec.NewDecoderBytes(raw, msgpack).Decode(v)
}

type settingsRecord struct {
	Initialized  bool
	Admin        string
	FeeRecipient string
	FeeBps       uint32
}

// offerRecordV1 is the layout written by version 1 logic.
type offerRecordV1 struct {
	Token    string
	TokenID  string
	Amount   string
	Deadline int64
	PriceUSD string
	Status   uint8
}

type offerRecord struct {
	Token    string
	TokenID  string
	Amount   string
	Deadline int64
	PriceUSD string
	Status   uint8

	// version 2
	Standard       uint8
	CreatedAt      int64
	BarterToken    string
	BarterTopUpUSD string
	Buyer          string
	PaymentAsset   string
	PaymentAmount  string
	FeeAmount      string
	SettledAt      int64
	BarterID       string
	BarterAmount   string
}

func intString(v sdkmath.Int) string {
	if v.IsNil() {
		return ""
	}
	return v.String()
}

func parseInt(s string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("malformed integer %q", s)
	}
	return v, nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func toRecord(o *model.Offer) offerRecord {
	r := offerRecord{
		Token:         o.Token.String(),
		TokenID:       intString(o.TokenID),
		Amount:        intString(o.Amount),
		Deadline:      o.Deadline.Unix(),
		PriceUSD:      intString(o.PriceUSD),
		Status:        uint8(o.Status),
		Standard:      uint8(o.Standard),
		CreatedAt:     unixSeconds(o.CreatedAt),
		Buyer:         o.Buyer.String(),
		PaymentAsset:  o.PaymentAsset.String(),
		PaymentAmount: intString(o.PaymentAmount),
		FeeAmount:     intString(o.FeeAmount),
		SettledAt:     unixSeconds(o.SettledAt),
	}
	if o.Barter != nil {
		r.BarterToken = o.Barter.Token.String()
		r.BarterTopUpUSD = intString(o.Barter.TopUpUSD)
		r.BarterID = intString(o.Barter.ID)
		r.BarterAmount = intString(o.Barter.Amount)
	}
	return r
}

func fromRecord(seller model.Address, r offerRecord) (*model.Offer, error) {
	o := &model.Offer{
		OfferKey:     model.OfferKey{Seller: seller, Token: model.Address(r.Token)},
		Standard:     model.Standard(r.Standard),
		Deadline:     time.Unix(r.Deadline, 0).UTC(),
		Status:       model.OfferStatus(r.Status),
		CreatedAt:    unixTime(r.CreatedAt),
		Buyer:        model.Address(r.Buyer),
		PaymentAsset: model.Address(r.PaymentAsset),
		SettledAt:    unixTime(r.SettledAt),
	}
	var err error
	if o.TokenID, err = parseInt(r.TokenID); err != nil {
		return nil, err
	}
	if o.Amount, err = parseInt(r.Amount); err != nil {
		return nil, err
	}
	if o.PriceUSD, err = parseInt(r.PriceUSD); err != nil {
		return nil, err
	}
	if o.PaymentAmount, err = parseInt(r.PaymentAmount); err != nil {
		return nil, err
	}
	if o.FeeAmount, err = parseInt(r.FeeAmount); err != nil {
		return nil, err
	}
	if r.BarterToken != "" {
		b := &model.BarterTerms{Token: model.Address(r.BarterToken)}
		if b.TopUpUSD, err = parseInt(r.BarterTopUpUSD); err != nil {
			return nil, err
		}
		if b.ID, err = parseInt(r.BarterID); err != nil {
			return nil, err
		}
		if b.Amount, err = parseInt(r.BarterAmount); err != nil {
			return nil, err
		}
		o.Barter = b
	}
	return o, nil
}

// slots is the marketplace's view of its storage for the duration of one call.
// Every key lives under the proxy address so logic versions share state.
type slots struct {
	tx      *chain.Tx
	prefix  string
	version uint32
}

func (m *Marketplace) slots(tx *chain.Tx) *slots {
	return &slots{tx: tx, prefix: m.address.String() + "/market/", version: m.version}
}

func (s *slots) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += "/"
		}
		k += p
	}
	return k
}

func offerSlot(k model.OfferKey) string {
	return k.Seller.String() + "/" + k.Token.String() + "/" + k.TokenID.String()
}

func (s *slots) settings(ctx context.Context) (settingsRecord, error) {
	var rec settingsRecord
	raw, ok, err := s.tx.Get(ctx, s.key("settings"))
	if err != nil || !ok {
		return rec, err
	}
	if err := decode(raw, &rec); err != nil {
		return rec, fmt.Errorf("decode settings: %w", err)
	}
	return rec, nil
}

func (s *slots) putSettings(rec settingsRecord) error {
	raw, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return s.tx.Set(s.key("settings"), raw)
}

// enter takes the non-reentrant guard. The guard slot is set and cleared
// inside the same call, so a committed state never holds it.
func (s *slots) enter(ctx context.Context) error {
	_, held, err := s.tx.Get(ctx, s.key("guard"))
	if err != nil {
		return err
	}
	if held {
		return ErrReentrantCall
	}
	return s.tx.Set(s.key("guard"), []byte{1})
}

func (s *slots) exit() error {
	return s.tx.Delete(s.key("guard"))
}

func (s *slots) whitelisted(ctx context.Context, asset model.Address) (bool, error) {
	raw, ok, err := s.tx.Get(ctx, s.key("whitelist", asset.String()))
	if err != nil || !ok {
		return false, err
	}
	return len(raw) == 1 && raw[0] == 1, nil
}

func (s *slots) setWhitelisted(asset model.Address, enabled bool) error {
	v := byte(0)
	if enabled {
		v = 1
	}
	return s.tx.Set(s.key("whitelist", asset.String()), []byte{v})
}

func (s *slots) feed(ctx context.Context, asset model.Address) (model.Address, bool, error) {
	raw, ok, err := s.tx.Get(ctx, s.key("feed", asset.String()))
	if err != nil || !ok {
		return "", false, err
	}
	return model.Address(raw), true, nil
}

func (s *slots) setFeed(asset, feed model.Address) error {
	return s.tx.Set(s.key("feed", asset.String()), []byte(feed))
}

func (s *slots) offer(ctx context.Context, k model.OfferKey) (*model.Offer, bool, error) {
	raw, ok, err := s.tx.Get(ctx, s.key("offer", offerSlot(k)))
	if err != nil || !ok {
		return nil, false, err
	}
	var rec offerRecord
	if err := decode(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("decode offer %s: %w", k, err)
	}
	o, err := fromRecord(k.Seller, rec)
	if err != nil {
		return nil, false, fmt.Errorf("decode offer %s: %w", k, err)
	}
	return o, true, nil
}

// putOffer writes o in the layout of the running logic version.
func (s *slots) putOffer(o *model.Offer) error {
	rec := toRecord(o)
	var (
		raw []byte
		err error
	)
	if s.version < 2 {
		raw, err = encode(offerRecordV1{
			Token:    rec.Token,
			TokenID:  rec.TokenID,
			Amount:   rec.Amount,
			Deadline: rec.Deadline,
			PriceUSD: rec.PriceUSD,
			Status:   rec.Status,
		})
	} else {
		raw, err = encode(rec)
	}
	if err != nil {
		return fmt.Errorf("encode offer %s: %w", o.OfferKey, err)
	}
	return s.tx.Set(s.key("offer", offerSlot(o.OfferKey)), raw)
}

// archive appends a terminal offer to its identity's history.
func (s *slots) archive(ctx context.Context, o *model.Offer) error {
	countKey := s.key("history", offerSlot(o.OfferKey), "n")
	n, err := s.tx.GetInt(ctx, countKey)
	if err != nil {
		return err
	}
	raw, err := encode(toRecord(o))
	if err != nil {
		return fmt.Errorf("encode history %s: %w", o.OfferKey, err)
	}
	if err := s.tx.Set(s.key("history", offerSlot(o.OfferKey), n.String()), raw); err != nil {
		return err
	}
	return s.tx.SetInt(countKey, n.AddRaw(1))
}

func (s *slots) history(ctx context.Context, k model.OfferKey) ([]model.Offer, error) {
	n, err := s.tx.GetInt(ctx, s.key("history", offerSlot(k), "n"))
	if err != nil {
		return nil, err
	}
	count := n.Int64()
	out := make([]model.Offer, 0, count)
	for i := int64(0); i < count; i++ {
		raw, ok, err := s.tx.Get(ctx, s.key("history", offerSlot(k), fmt.Sprint(i)))
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var rec offerRecord
		if err := decode(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode history %s/%d: %w", k, i, err)
		}
		o, err := fromRecord(k.Seller, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}
