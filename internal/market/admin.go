package market

import (
	"context"

	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/pricing"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// Settings is the marketplace configuration.
type Settings struct {
	Initialized  bool          `json:"initialized"`
	Admin        model.Address `json:"admin"`
	FeeRecipient model.Address `json:"feeRecipient"`
	FeeBps       uint32        `json:"feeBps"`
	Version      uint32        `json:"version"`
	USDDecimals  uint8         `json:"usdDecimals"`
}

// Initialize sets caller as admin and configures the fee. It succeeds once per
// proxy.
func (m *Marketplace) Initialize(ctx context.Context, caller, feeRecipient model.Address, feeBps uint32) (*model.Receipt, error) {
	r, err := m.call(ctx, caller, "initialize", 1, func(ctx context.Context, tx *chain.Tx, s *slots) error {
		cfg, err := s.settings(ctx)
		if err != nil {
			return err
		}
		if cfg.Initialized {
			return ErrAlreadyInitialized
		}
		if caller.IsZero() || feeRecipient.IsZero() {
			return ErrInvalidAddress
		}
		if feeBps > pricing.MaxFeeBps {
			return ErrFeeOutOfRange.Errorf("fee %d bps exceeds %d", feeBps, pricing.MaxFeeBps)
		}
		if err := s.putSettings(settingsRecord{
			Initialized:  true,
			Admin:        caller.String(),
			FeeRecipient: feeRecipient.String(),
			FeeBps:       feeBps,
		}); err != nil {
			return err
		}
		tx.Emit(model.Initialized{Admin: caller, FeeRecipient: feeRecipient, FeeBps: feeBps})
		return nil
	})
	if err == nil {
		m.logger.Info("market.initialized",
			zap.String("admin", caller.String()),
			zap.String("fee_recipient", feeRecipient.String()),
			zap.Uint32("fee_bps", feeBps))
	}
	return r, err
}

func (m *Marketplace) admin(ctx context.Context, caller model.Address, method string, min uint32, fn func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error) (*model.Receipt, error) {
	return m.mutate(ctx, caller, method, min, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		if model.Address(cfg.Admin) != caller {
			return ErrNotAdmin
		}
		return fn(ctx, tx, s, cfg)
	})
}

// SetFee changes the fee rate applied to future acceptances.
func (m *Marketplace) SetFee(ctx context.Context, caller model.Address, feeBps uint32) (*model.Receipt, error) {
	return m.admin(ctx, caller, "setFee", 1, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		if feeBps > pricing.MaxFeeBps {
			return ErrFeeOutOfRange.Errorf("fee %d bps exceeds %d", feeBps, pricing.MaxFeeBps)
		}
		cfg.FeeBps = feeBps
		if err := s.putSettings(cfg); err != nil {
			return err
		}
		tx.Emit(model.FeeUpdated{FeeBps: feeBps})
		return nil
	})
}

func (m *Marketplace) SetFeeRecipient(ctx context.Context, caller, recipient model.Address) (*model.Receipt, error) {
	return m.admin(ctx, caller, "setFeeRecipient", 1, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		if recipient.IsZero() {
			return ErrInvalidAddress
		}
		cfg.FeeRecipient = recipient.String()
		if err := s.putSettings(cfg); err != nil {
			return err
		}
		tx.Emit(model.FeeRecipientUpdated{Recipient: recipient})
		return nil
	})
}

// TransferAdmin hands the admin role to next.
func (m *Marketplace) TransferAdmin(ctx context.Context, caller, next model.Address) (*model.Receipt, error) {
	return m.admin(ctx, caller, "transferAdmin", 1, func(ctx context.Context, tx *chain.Tx, s *slots, cfg settingsRecord) error {
		if next.IsZero() {
			return ErrInvalidAddress
		}
		cfg.Admin = next.String()
		if err := s.putSettings(cfg); err != nil {
			return err
		}
		tx.Emit(model.AdminTransferred{Previous: caller, Current: next})
		return nil
	})
}

// Settings returns the current configuration. An uninitialized marketplace
// reports zero values.
func (m *Marketplace) Settings(ctx context.Context) (Settings, error) {
	var out Settings
	err := m.view(ctx, "settings", 1, func(ctx context.Context, _ *chain.Tx, s *slots) error {
		cfg, err := s.settings(ctx)
		if err != nil {
			return err
		}
		out = Settings{
			Initialized:  cfg.Initialized,
			Admin:        model.Address(cfg.Admin),
			FeeRecipient: model.Address(cfg.FeeRecipient),
			FeeBps:       cfg.FeeBps,
			Version:      m.version,
			USDDecimals:  m.usdDecimals,
		}
		return nil
	})
	return out, err
}

func (m *Marketplace) Fee(ctx context.Context) (uint32, error) {
	s, err := m.Settings(ctx)
	return s.FeeBps, err
}

func (m *Marketplace) FeeRecipient(ctx context.Context) (model.Address, error) {
	s, err := m.Settings(ctx)
	return s.FeeRecipient, err
}

func (m *Marketplace) Admin(ctx context.Context) (model.Address, error) {
	s, err := m.Settings(ctx)
	return s.Admin, err
}
