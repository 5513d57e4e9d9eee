package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/pkg/model"
)

const genesisKey = "host/genesis"

// Genesis describes the contracts deployed on a fresh ledger and their
// initial balances and approvals.
type Genesis struct {
	Native   []Balance      `json:"native"`
	Fungible []FungibleSpec `json:"fungible"`
	Multi    []MultiSpec    `json:"multi"`
	Unique   []UniqueSpec   `json:"unique"`
	Feeds    []FeedSpec     `json:"feeds"`
}

type Balance struct {
	Owner  model.Address `json:"owner"`
	ID     string        `json:"id,omitempty"`
	Amount string        `json:"amount"`
}

type Allowance struct {
	Owner   model.Address `json:"owner"`
	Spender model.Address `json:"spender"`
	Amount  string        `json:"amount"`
}

type Operator struct {
	Owner    model.Address `json:"owner"`
	Operator model.Address `json:"operator"`
}

type FungibleSpec struct {
	Address    model.Address `json:"address"`
	Symbol     string        `json:"symbol"`
	Decimals   uint8         `json:"decimals"`
	Balances   []Balance     `json:"balances"`
	Allowances []Allowance   `json:"allowances"`
}

type MultiSpec struct {
	Address   model.Address `json:"address"`
	Name      string        `json:"name"`
	Balances  []Balance     `json:"balances"`
	Operators []Operator    `json:"operators"`
}

type UniqueSpec struct {
	Address   model.Address `json:"address"`
	Name      string        `json:"name"`
	Owners    []Balance     `json:"owners"`
	Operators []Operator    `json:"operators"`
}

// FeedSpec deploys a price feed. Asset, when set, is the payment asset the
// feed prices; Symbol is the off-chain ticker used to refresh it.
type FeedSpec struct {
	Address  model.Address `json:"address"`
	Asset    model.Address `json:"asset"`
	Symbol   string        `json:"symbol"`
	Decimals uint8         `json:"decimals"`
	Updater  model.Address `json:"updater"`
	Answer   string        `json:"answer"`
}

// LoadGenesis reads a genesis document from path.
func LoadGenesis(path string) (*Genesis, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	return &g, nil
}

func parseAmount(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok || v.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

// ApplyGenesis deploys every contract in g on h and, on a ledger that has not
// been seeded yet, writes the initial balances in a single call.
func ApplyGenesis(ctx context.Context, h *Host, g *Genesis) error {
	h.Deploy(model.NativeAsset, NativeCurrency{})
	for _, f := range g.Fungible {
		h.Deploy(f.Address, NewFungibleToken(f.Address, f.Symbol, f.Decimals))
	}
	for _, m := range g.Multi {
		h.Deploy(m.Address, NewMultiToken(m.Address, m.Name))
	}
	for _, u := range g.Unique {
		h.Deploy(u.Address, NewUniqueToken(u.Address, u.Name))
	}
	for _, f := range g.Feeds {
		h.Deploy(f.Address, NewPriceFeed(f.Address, f.Decimals, f.Updater))
	}

	_, err := h.Execute(ctx, model.NativeAsset, "genesis", func(ctx context.Context, tx *Tx) error {
		if _, seeded, err := tx.Get(ctx, genesisKey); err != nil || seeded {
			return err
		}
		if err := seed(ctx, tx, g); err != nil {
			return err
		}
		return tx.Set(genesisKey, []byte{1})
	})
	if err != nil {
		return fmt.Errorf("apply genesis: %w", err)
	}
	h.logger.Info("chain.genesis_applied",
		zap.Int("fungible", len(g.Fungible)),
		zap.Int("multi", len(g.Multi)),
		zap.Int("unique", len(g.Unique)),
		zap.Int("feeds", len(g.Feeds)))
	return nil
}

func seed(ctx context.Context, tx *Tx, g *Genesis) error {
	native := NativeCurrency{}
	for _, b := range g.Native {
		amt, err := parseAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("native %s: %w", b.Owner, err)
		}
		if err := native.Mint(ctx, b.Owner, amt); err != nil {
			return err
		}
	}

	for _, f := range g.Fungible {
		tok := NewFungibleToken(f.Address, f.Symbol, f.Decimals)
		for _, b := range f.Balances {
			amt, err := parseAmount(b.Amount)
			if err != nil {
				return fmt.Errorf("%s %s: %w", f.Symbol, b.Owner, err)
			}
			if err := tok.Mint(ctx, b.Owner, amt); err != nil {
				return err
			}
		}
		for _, a := range f.Allowances {
			amt, err := parseAmount(a.Amount)
			if err != nil {
				return fmt.Errorf("%s allowance %s: %w", f.Symbol, a.Owner, err)
			}
			if err := tok.Approve(ctx, a.Owner, a.Spender, amt); err != nil {
				return err
			}
		}
	}

	for _, m := range g.Multi {
		tok := NewMultiToken(m.Address, m.Name)
		for _, b := range m.Balances {
			id, err := parseAmount(b.ID)
			if err != nil {
				return fmt.Errorf("%s id: %w", m.Name, err)
			}
			amt, err := parseAmount(b.Amount)
			if err != nil {
				return fmt.Errorf("%s %s: %w", m.Name, b.Owner, err)
			}
			if err := tok.Mint(ctx, b.Owner, id, amt); err != nil {
				return err
			}
		}
		for _, op := range m.Operators {
			if err := tok.SetApprovalForAll(ctx, op.Owner, op.Operator, true); err != nil {
				return err
			}
		}
	}

	for _, u := range g.Unique {
		tok := NewUniqueToken(u.Address, u.Name)
		for _, b := range u.Owners {
			id, err := parseAmount(b.ID)
			if err != nil {
				return fmt.Errorf("%s id: %w", u.Name, err)
			}
			if err := tok.Mint(ctx, b.Owner, id); err != nil {
				return err
			}
		}
		for _, op := range u.Operators {
			if err := tok.SetApprovalForAll(ctx, op.Owner, op.Operator, true); err != nil {
				return err
			}
		}
	}

	for _, f := range g.Feeds {
		if f.Answer == "" {
			continue
		}
		answer, err := parseAmount(f.Answer)
		if err != nil {
			return fmt.Errorf("feed %s: %w", f.Symbol, err)
		}
		if _, err := NewPriceFeed(f.Address, f.Decimals, f.Updater).Submit(ctx, f.Updater, answer); err != nil {
			return err
		}
	}
	return nil
}
