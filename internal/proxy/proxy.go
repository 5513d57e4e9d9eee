// Package proxy keeps the marketplace at a fixed address while its logic is
// upgraded. State stays under the proxy address; only the version changes.
package proxy

import (
	"context"
	"fmt"
	"sync"

	"github.com/ugorji/go/codec"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/market"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

var (
	ErrNotProxyOwner  = market.NewError(market.KindAuthorization, "NOT_PROXY_OWNER", "caller is not the proxy owner")
	ErrInvalidVersion = market.NewError(market.KindConfig, "INVALID_VERSION", "version must move forward to a known version")
	ErrNotDeployed    = market.NewError(market.KindState, "NOT_DEPLOYED", "proxy is not deployed")
)

var msgpack = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.StructToArray = true
	return h
}()

type record struct {
	Owner   string
	Version uint32
}

// Proxy routes calls to the active logic version.
type Proxy struct {
	ledger  market.Ledger
	address model.Address
	opts    []market.Option
	logger  *zap.Logger

	mu    sync.Mutex
	logic map[uint32]*market.Marketplace
}

func New(ledger market.Ledger, address model.Address, logger *zap.Logger, opts ...market.Option) *Proxy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		ledger:  ledger,
		address: address,
		opts:    opts,
		logger:  logger,
		logic:   make(map[uint32]*market.Marketplace),
	}
}

func (p *Proxy) Address() model.Address { return p.address }

func (p *Proxy) key() string {
	return p.address.String() + "/proxy"
}

func (p *Proxy) load(ctx context.Context, tx *chain.Tx) (record, bool, error) {
	var rec record
	raw, ok, err := tx.Get(ctx, p.key())
	if err != nil || !ok {
		return rec, ok, err
	}
	if err := codec.NewDecoderBytes(raw, msgpack).Decode(&rec); err != nil {
		return rec, false, fmt.Errorf("decode proxy record: %w", err)
	}
	return rec, true, nil
}

func (p *Proxy) store(tx *chain.Tx, rec record) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, msgpack).Encode(rec); err != nil {
		return fmt.Errorf("encode proxy record: %w", err)
	}
	return tx.Set(p.key(), raw)
}

// Deploy installs the proxy with owner and version on first start. On a ledger
// where the proxy already exists it does nothing.
func (p *Proxy) Deploy(ctx context.Context, owner model.Address, version uint32) error {
	if version == 0 || version > market.LatestVersion {
		return ErrInvalidVersion.Errorf("unknown version %d", version)
	}
	_, err := p.ledger.Execute(ctx, owner, "deployProxy", func(ctx context.Context, tx *chain.Tx) error {
		_, ok, err := p.load(ctx, tx)
		if err != nil || ok {
			return err
		}
		if owner.IsZero() {
			return market.ErrInvalidAddress
		}
		if err := p.store(tx, record{Owner: owner.String(), Version: version}); err != nil {
			return err
		}
		tx.Emit(model.Upgraded{Proxy: p.address, Version: version})
		return nil
	})
	return err
}

func (p *Proxy) state(ctx context.Context) (record, error) {
	var rec record
	err := p.ledger.View(ctx, func(ctx context.Context, tx *chain.Tx) error {
		r, ok, err := p.load(ctx, tx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDeployed
		}
		rec = r
		return nil
	})
	return rec, err
}

func (p *Proxy) Owner(ctx context.Context) (model.Address, error) {
	rec, err := p.state(ctx)
	return model.Address(rec.Owner), err
}

func (p *Proxy) Version(ctx context.Context) (uint32, error) {
	rec, err := p.state(ctx)
	return rec.Version, err
}

// installed reads the active version inside a running call.
func (p *Proxy) installed(ctx context.Context, tx *chain.Tx) (uint32, error) {
	rec, ok, err := p.load(ctx, tx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotDeployed
	}
	return rec.Version, nil
}

// Logic returns the marketplace implementation for the active version. Each
// call it makes checks the version again inside its own transaction and fails
// with market.ErrVersionChanged if an upgrade committed in between.
func (p *Proxy) Logic(ctx context.Context) (*market.Marketplace, error) {
	v, err := p.Version(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.logic[v]
	if !ok {
		opts := append(append([]market.Option{}, p.opts...), market.WithVersion(v), market.WithActiveVersion(p.installed))
		m = market.New(p.ledger, p.address, opts...)
		p.logic[v] = m
	}
	return m, nil
}

// Upgrade switches the proxy to a newer logic version. Only the proxy owner
// may upgrade, and versions never go backwards.
func (p *Proxy) Upgrade(ctx context.Context, caller model.Address, version uint32) (*model.Receipt, error) {
	r, err := p.ledger.Execute(ctx, caller, "upgrade", func(ctx context.Context, tx *chain.Tx) error {
		rec, ok, err := p.load(ctx, tx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDeployed
		}
		if model.Address(rec.Owner) != caller {
			return ErrNotProxyOwner
		}
		if version <= rec.Version || version > market.LatestVersion {
			return ErrInvalidVersion.Errorf("cannot move from version %d to %d", rec.Version, version)
		}
		rec.Version = version
		if err := p.store(tx, rec); err != nil {
			return err
		}
		tx.Emit(model.Upgraded{Proxy: p.address, Version: version})
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("proxy.upgraded", zap.String("proxy", p.address.String()), zap.Uint32("version", version))
	return r, nil
}

// TransferProxyOwnership hands the upgrade right to next.
func (p *Proxy) TransferProxyOwnership(ctx context.Context, caller, next model.Address) (*model.Receipt, error) {
	return p.ledger.Execute(ctx, caller, "transferProxyOwnership", func(ctx context.Context, tx *chain.Tx) error {
		rec, ok, err := p.load(ctx, tx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotDeployed
		}
		if model.Address(rec.Owner) != caller {
			return ErrNotProxyOwner
		}
		if next.IsZero() {
			return market.ErrInvalidAddress
		}
		rec.Owner = next.String()
		return p.store(tx, rec)
	})
}
