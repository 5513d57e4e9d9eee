package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace/internal/state"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

const sequenceKey = "host/sequence"

// ErrNoActiveCall is returned by contract methods invoked outside Execute or View.
var ErrNoActiveCall = errors.New("chain: no active call")

// ErrReadOnly is returned when a view attempts to write.
var ErrReadOnly = errors.New("chain: write attempted in read-only call")

// Host is the execution environment of the marketplace: it orders calls,
// gives each one all-or-nothing semantics over the state store, keeps block
// time, and holds the deployed contract code.
type Host struct {
	mu     sync.RWMutex
	store  state.Store
	clock  Clock
	logger *zap.Logger

	codeMu    sync.RWMutex
	contracts map[model.Address]any

	receipts *lru.Cache[uuid.UUID, *model.Receipt]

	listenMu  sync.RWMutex
	listeners []func(*model.Receipt)
}

// NewHost creates a host over store. receiptCache bounds the number of recent
// receipts retrievable by id.
func NewHost(store state.Store, clock Clock, receiptCache int, logger *zap.Logger) (*Host, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if receiptCache <= 0 {
		receiptCache = 1024
	}
	cache, err := lru.New[uuid.UUID, *model.Receipt](receiptCache)
	if err != nil {
		return nil, fmt.Errorf("receipt cache: %w", err)
	}
	return &Host{
		store:     store,
		clock:     clock,
		logger:    logger,
		contracts: make(map[model.Address]any),
		receipts:  cache,
	}, nil
}

// Deploy registers contract code at addr.
func (h *Host) Deploy(addr model.Address, contract any) {
	h.codeMu.Lock()
	defer h.codeMu.Unlock()
	h.contracts[addr] = contract
}

// Lookup returns the contract deployed at addr.
func (h *Host) Lookup(addr model.Address) (any, bool) {
	h.codeMu.RLock()
	defer h.codeMu.RUnlock()
	c, ok := h.contracts[addr]
	return c, ok
}

// OnCommit registers a listener invoked with every committed receipt, after the
// host lock is released.
func (h *Host) OnCommit(fn func(*model.Receipt)) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Now returns the current block time.
func (h *Host) Now() time.Time {
	return h.clock.Now().Truncate(time.Second)
}

// Receipt returns a recently committed receipt.
func (h *Host) Receipt(id uuid.UUID) (*model.Receipt, bool) {
	return h.receipts.Get(id)
}

// HealthCheck reports the health of the backing store.
func (h *Host) HealthCheck(ctx context.Context) error {
	return h.store.HealthCheck(ctx)
}

// Execute runs fn as one call by caller. Either every write and event of fn is
// committed, or none is. When ctx already carries a call (a contract calling
// back into another during execution), fn runs as a nested frame of that call
// and only its own effects are undone on failure.
func (h *Host) Execute(ctx context.Context, caller model.Address, method string, fn func(ctx context.Context, tx *Tx) error) (*model.Receipt, error) {
	if parent, ok := TxFrom(ctx); ok {
		if parent.readOnly {
			return nil, ErrReadOnly
		}
		return nil, parent.nested(ctx, caller, fn)
	}

	h.mu.Lock()
	receipt, err := h.execute(ctx, caller, method, fn)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}

	h.receipts.Add(receipt.ID, receipt)
	h.listenMu.RLock()
	listeners := append([]func(*model.Receipt){}, h.listeners...)
	h.listenMu.RUnlock()
	for _, l := range listeners {
		l(receipt)
	}
	return receipt, nil
}

func (h *Host) execute(ctx context.Context, caller model.Address, method string, fn func(ctx context.Context, tx *Tx) error) (*model.Receipt, error) {
	tx := &Tx{
		host:    h,
		overlay: state.NewOverlay(h.store),
		caller:  caller,
		now:     h.Now(),
	}
	if err := tx.run(withTx(ctx, tx), fn); err != nil {
		h.logger.Debug("chain.call_reverted",
			zap.String("method", method),
			zap.String("caller", caller.String()),
			zap.Error(err))
		return nil, err
	}

	seq, err := tx.nextSequence(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.store.Commit(ctx, tx.overlay.Writes()); err != nil {
		h.logger.Error("chain.commit_failed", zap.String("method", method), zap.Error(err))
		return nil, fmt.Errorf("commit %s: %w", method, err)
	}

	return &model.Receipt{
		ID:          uuid.New(),
		Caller:      caller,
		Method:      method,
		BlockTime:   tx.now,
		Sequence:    seq,
		Events:      tx.events,
		CommittedAt: time.Now().UTC(),
	}, nil
}

// View runs fn against the current state without committing anything.
func (h *Host) View(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	if parent, ok := TxFrom(ctx); ok {
		return fn(ctx, parent)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	tx := &Tx{
		host:     h,
		overlay:  state.NewOverlay(h.store),
		now:      h.Now(),
		readOnly: true,
	}
	return tx.run(withTx(ctx, tx), fn)
}

func (tx *Tx) nextSequence(ctx context.Context) (uint64, error) {
	raw, ok, err := tx.overlay.Get(ctx, sequenceKey)
	if err != nil {
		return 0, err
	}
	var seq uint64
	if ok && len(raw) == 8 {
		seq = binary.BigEndian.Uint64(raw)
	}
	seq++
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	tx.overlay.Set(sequenceKey, buf)
	return seq, nil
}
