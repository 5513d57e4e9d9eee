package chain

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/Checker-Finance/marketplace/internal/state"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

type txKey struct{}

// Tx is the state of one call in progress.
type Tx struct {
	host     *Host
	overlay  *state.Overlay
	caller   model.Address
	now      time.Time
	events   []model.Event
	depth    int
	readOnly bool
}

func withTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the call carried by ctx.
func TxFrom(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*Tx)
	return tx, ok
}

func mustTx(ctx context.Context) (*Tx, error) {
	tx, ok := TxFrom(ctx)
	if !ok {
		return nil, ErrNoActiveCall
	}
	return tx, nil
}

// Caller is the account that submitted the outermost call.
func (tx *Tx) Caller() model.Address { return tx.caller }

// Now is the block time of the call.
func (tx *Tx) Now() time.Time { return tx.now }

// Depth is zero for the outermost frame.
func (tx *Tx) Depth() int { return tx.depth }

// Host returns the executing host.
func (tx *Tx) Host() *Host { return tx.host }

func (tx *Tx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return tx.overlay.Get(ctx, key)
}

func (tx *Tx) Set(key string, value []byte) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.overlay.Set(key, value)
	return nil
}

func (tx *Tx) Delete(key string) error {
	if tx.readOnly {
		return ErrReadOnly
	}
	tx.overlay.Delete(key)
	return nil
}

// Emit records an event; it is dropped if the frame reverts.
func (tx *Tx) Emit(e model.Event) {
	if tx.readOnly {
		return
	}
	tx.events = append(tx.events, e)
}

// GetInt reads an integer slot; missing slots read as zero.
func (tx *Tx) GetInt(ctx context.Context, key string) (sdkmath.Int, error) {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !ok || len(raw) == 0 {
		return sdkmath.ZeroInt(), nil
	}
	v, valid := sdkmath.NewIntFromString(string(raw))
	if !valid {
		return sdkmath.Int{}, fmt.Errorf("slot %s: malformed integer %q", key, raw)
	}
	return v, nil
}

// SetInt writes an integer slot; zero deletes it.
func (tx *Tx) SetInt(key string, v sdkmath.Int) error {
	if v.IsZero() {
		return tx.Delete(key)
	}
	return tx.Set(key, []byte(v.String()))
}

func (tx *Tx) run(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("call aborted: %v", r)
		}
	}()
	return fn(ctx, tx)
}

func (tx *Tx) nested(ctx context.Context, caller model.Address, fn func(ctx context.Context, tx *Tx) error) error {
	sp := tx.overlay.Savepoint()
	events := len(tx.events)
	prevCaller := tx.caller
	tx.depth++
	tx.caller = caller

	err := tx.run(ctx, fn)

	tx.depth--
	tx.caller = prevCaller
	if err != nil {
		tx.overlay.RevertTo(sp)
		tx.events = tx.events[:events]
	}
	return err
}
