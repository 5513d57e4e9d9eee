// Package market implements the offer ledger, settlement engine, admin
// controls and payment-asset registry of the marketplace.
package market

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// LatestVersion is the newest logic version.
const LatestVersion uint32 = 2

// Recorder receives operational measurements.
type Recorder interface {
	ObserveCall(method, code string, d time.Duration)
	OfferCreated(standard string)
	OfferCancelled()
	OfferSettled(path string, paymentAsset model.Address)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCall(string, string, time.Duration) {}
func (nopRecorder) OfferCreated(string)                       {}
func (nopRecorder) OfferCancelled()                           {}
func (nopRecorder) OfferSettled(string, model.Address)        {}

// Marketplace is one logic version operating on the storage of the proxy at
// address. It is stateless; all state lives in the ledger.
type Marketplace struct {
	ledger      Ledger
	address     model.Address
	version     uint32
	usdDecimals uint8
	logger      *zap.Logger
	metrics     Recorder
	active      ActiveVersion
}

// ActiveVersion reads the logic version currently installed for the
// marketplace inside the call's transaction.
type ActiveVersion func(ctx context.Context, tx *chain.Tx) (uint32, error)

type Option func(*Marketplace)

func WithVersion(v uint32) Option {
	return func(m *Marketplace) { m.version = v }
}

// WithActiveVersion makes every call fail with ErrVersionChanged when the
// installed version no longer matches this logic's version.
func WithActiveVersion(fn ActiveVersion) Option {
	return func(m *Marketplace) { m.active = fn }
}

// WithUSDDecimals sets the precision of USD prices; 2 means cents.
func WithUSDDecimals(d uint8) Option {
	return func(m *Marketplace) { m.usdDecimals = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Marketplace) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(m *Marketplace) {
		if r != nil {
			m.metrics = r
		}
	}
}

func New(ledger Ledger, address model.Address, opts ...Option) *Marketplace {
	m := &Marketplace{
		ledger:      ledger,
		address:     address,
		version:     LatestVersion,
		usdDecimals: 2,
		logger:      zap.NewNop(),
		metrics:     nopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Marketplace) Address() model.Address { return m.address }
func (m *Marketplace) Version() uint32        { return m.version }
func (m *Marketplace) USDDecimals() uint8     { return m.usdDecimals }

func (m *Marketplace) require(method string, min uint32) error {
	if m.version < min {
		return ErrUnsupported.Errorf("%s requires version %d, active version is %d", method, min, m.version)
	}
	return nil
}

// current fails when the version installed in tx is not m's.
func (m *Marketplace) current(ctx context.Context, tx *chain.Tx) error {
	if m.active == nil {
		return nil
	}
	v, err := m.active(ctx, tx)
	if err != nil {
		return err
	}
	if v != m.version {
		return ErrVersionChanged.Errorf("logic version %d is not active, installed version is %d", m.version, v)
	}
	return nil
}

// call runs fn as one guarded, atomic ledger call.
func (m *Marketplace) call(ctx context.Context, caller model.Address, method string, min uint32, fn func(ctx context.Context, tx *chain.Tx, s *slots) error) (*model.Receipt, error) {
	start := time.Now()
	receipt, err := m.ledger.Execute(ctx, caller, method, func(ctx context.Context, tx *chain.Tx) error {
		if err := m.current(ctx, tx); err != nil {
			return err
		}
		if err := m.require(method, min); err != nil {
			return err
		}
		s := m.slots(tx)
		if err := s.enter(ctx); err != nil {
			return err
		}
		if err := fn(ctx, tx, s); err != nil {
			return err
		}
		return s.exit()
	})
	if errors.Is(err, ErrVersionChanged) {
		return nil, err
	}
	if err != nil {
		m.metrics.ObserveCall(method, Code(err), time.Since(start))
		m.logger.Info("market.call_rejected",
			zap.String("method", method),
			zap.String("caller", caller.String()),
			zap.String("code", Code(err)),
			zap.Error(err))
		return nil, err
	}
	m.metrics.ObserveCall(method, "OK", time.Since(start))
	return receipt, nil
}

// mutate is call for operations that need an initialized marketplace.
func (m *Marketplace) mutate(ctx context.Context, caller model.Address, method string, min uint32, fn func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error) (*model.Receipt, error) {
	return m.call(ctx, caller, method, min, func(ctx context.Context, tx *chain.Tx, s *slots) error {
		cfg, err := s.settings(ctx)
		if err != nil {
			return err
		}
		if !cfg.Initialized {
			return ErrNotInitialized
		}
		return fn(ctx, tx, s, cfg)
	})
}

func (m *Marketplace) view(ctx context.Context, method string, min uint32, fn func(ctx context.Context, tx *chain.Tx, s *slots) error) error {
	return m.ledger.View(ctx, func(ctx context.Context, tx *chain.Tx) error {
		if err := m.current(ctx, tx); err != nil {
			return err
		}
		if err := m.require(method, min); err != nil {
			return err
		}
		return fn(ctx, tx, m.slots(tx))
	})
}
