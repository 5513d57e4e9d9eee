package chain

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

// PriceFeed is a reference aggregator holding the latest USD price of one asset.
type PriceFeed struct {
	addr     model.Address
	decimals uint8
	updater  model.Address
}

func NewPriceFeed(addr model.Address, decimals uint8, updater model.Address) *PriceFeed {
	return &PriceFeed{addr: addr, decimals: decimals, updater: updater}
}

func (f *PriceFeed) Address() model.Address { return f.addr }
func (f *PriceFeed) Decimals() uint8        { return f.decimals }
func (f *PriceFeed) Updater() model.Address { return f.updater }

func (f *PriceFeed) key(field string) string {
	return f.addr.String() + "/round/" + field
}

// LatestRound returns the most recent answer. A feed that never received an
// answer reports round 0 with a zero answer.
func (f *PriceFeed) LatestRound(ctx context.Context) (model.Round, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return model.Round{}, err
	}
	id, err := tx.GetInt(ctx, f.key("id"))
	if err != nil {
		return model.Round{}, err
	}
	answer, err := tx.GetInt(ctx, f.key("answer"))
	if err != nil {
		return model.Round{}, err
	}
	updated, err := tx.GetInt(ctx, f.key("updated"))
	if err != nil {
		return model.Round{}, err
	}
	r := model.Round{ID: id.Uint64(), Answer: answer}
	if !updated.IsZero() {
		r.UpdatedAt = time.Unix(updated.Int64(), 0).UTC()
	}
	return r, nil
}

// Submit records a new answer. Only the feed's updater may submit.
func (f *PriceFeed) Submit(ctx context.Context, caller model.Address, answer sdkmath.Int) (model.Round, error) {
	tx, err := mustTx(ctx)
	if err != nil {
		return model.Round{}, err
	}
	if caller != f.updater {
		return model.Round{}, ErrNotUpdater
	}
	prev, err := tx.GetInt(ctx, f.key("id"))
	if err != nil {
		return model.Round{}, err
	}
	id := prev.AddRaw(1)
	if err := tx.SetInt(f.key("id"), id); err != nil {
		return model.Round{}, err
	}
	if err := tx.Set(f.key("answer"), []byte(answer.String())); err != nil {
		return model.Round{}, err
	}
	if err := tx.SetInt(f.key("updated"), sdkmath.NewInt(tx.Now().Unix())); err != nil {
		return model.Round{}, err
	}
	return model.Round{ID: id.Uint64(), Answer: answer, UpdatedAt: tx.Now()}, nil
}
