package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Checker-Finance/marketplace/internal/chain"
	"github.com/Checker-Finance/marketplace/internal/metrics"
	"github.com/Checker-Finance/marketplace/internal/oracle"
	"github.com/Checker-Finance/marketplace/pkg/model"
)

// FeedBinding ties an off-chain symbol to the price feed it updates.
type FeedBinding struct {
	Symbol string
	Feed   model.Address
}

// ParseBindings reads "SYMBOL=0xfeed" pairs.
func ParseBindings(pairs []string) ([]FeedBinding, error) {
	out := make([]FeedBinding, 0, len(pairs))
	for _, p := range pairs {
		symbol, addr, ok := strings.Cut(p, "=")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if !ok || symbol == "" {
			return nil, fmt.Errorf("invalid price binding %q: want SYMBOL=address", p)
		}
		feed, err := model.ParseAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid price binding %q: %w", p, err)
		}
		out = append(out, FeedBinding{Symbol: symbol, Feed: feed})
	}
	return out, nil
}

// PriceRefresher polls a price source and submits new answers to the
// on-ledger feeds, signing each submission as the feed's updater.
type PriceRefresher struct {
	logger      *zap.Logger
	host        *chain.Host
	source      oracle.Source
	feeds       map[string]model.Address
	interval    time.Duration
	concurrency int
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewPriceRefresher constructs a background job that runs periodically.
func NewPriceRefresher(logger *zap.Logger, host *chain.Host, source oracle.Source, bindings []FeedBinding, interval time.Duration) *PriceRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	feeds := make(map[string]model.Address, len(bindings))
	for _, b := range bindings {
		feeds[b.Symbol] = b.Feed
	}
	return &PriceRefresher{
		logger:      logger,
		host:        host,
		source:      source,
		feeds:       feeds,
		interval:    interval,
		concurrency: 4,
		stopCh:      make(chan struct{}),
	}
}

// Start runs the refresh loop. The first poll happens immediately.
func (r *PriceRefresher) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("price_refresher.started",
		zap.Duration("interval", r.interval),
		zap.Int("feeds", len(r.feeds)))

	r.poll(ctx)
	for {
		select {
		case <-ticker.C:
			r.poll(ctx)
		case <-r.stopCh:
			r.logger.Info("price_refresher.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("price_refresher.stopped (context canceled)")
			return
		}
	}
}

// Stop gracefully halts the refresher.
func (r *PriceRefresher) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *PriceRefresher) poll(ctx context.Context) {
	if r.source == nil {
		return
	}
	if err := r.RunOnce(ctx); err != nil {
		r.logger.Warn("price_refresher.partial_failure", zap.Error(err))
	}
}

// RunOnce fetches every bound symbol concurrently and applies the results.
// A failing symbol does not stop the others; all failures are returned joined.
func (r *PriceRefresher) RunOnce(ctx context.Context) error {
	start := time.Now()

	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for symbol := range r.feeds {
		g.Go(func() error {
			q, err := r.source.Fetch(gctx, symbol)
			if err != nil {
				metrics.IncFeedUpdate(symbol, "fetch_failed")
				fail(err)
				return nil
			}
			if err := r.Apply(gctx, q); err != nil {
				fail(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	metrics.SetLastPoll("price_refresher", time.Now())
	r.logger.Debug("price_refresher.poll_complete",
		zap.Int("feeds", len(r.feeds)),
		zap.Int("failures", len(errs)),
		zap.Duration("duration", time.Since(start)))
	return errors.Join(errs...)
}

// AttachStream applies every streamed quote as it arrives.
func (r *PriceRefresher) AttachStream(s *oracle.Stream) {
	s.AddHandler(func(q oracle.Quote) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Apply(ctx, q)
	})
}

// Apply submits q to its feed unless the feed already holds the same answer.
func (r *PriceRefresher) Apply(ctx context.Context, q oracle.Quote) error {
	symbol := strings.ToUpper(q.Symbol)
	addr, ok := r.feeds[symbol]
	if !ok {
		return nil
	}
	contract, ok := r.host.Lookup(addr)
	if !ok {
		metrics.IncFeedUpdate(symbol, "error")
		return fmt.Errorf("feed %s for %s is not deployed", addr, symbol)
	}
	feed, ok := contract.(*chain.PriceFeed)
	if !ok {
		metrics.IncFeedUpdate(symbol, "error")
		return fmt.Errorf("contract %s is not a price feed", addr)
	}

	answer, err := q.Answer(feed.Decimals())
	if err != nil {
		metrics.IncFeedUpdate(symbol, "invalid")
		return err
	}

	var current sdkmath.Int
	if err := r.host.View(ctx, func(ctx context.Context, _ *chain.Tx) error {
		round, err := feed.LatestRound(ctx)
		current = round.Answer
		return err
	}); err != nil {
		metrics.IncFeedUpdate(symbol, "error")
		return fmt.Errorf("read feed %s: %w", addr, err)
	}
	if !current.IsNil() && current.Equal(answer) {
		metrics.IncFeedUpdate(symbol, "unchanged")
		return nil
	}

	_, err = r.host.Execute(ctx, feed.Updater(), "PriceFeed.Submit", func(ctx context.Context, tx *chain.Tx) error {
		_, err := feed.Submit(ctx, tx.Caller(), answer)
		return err
	})
	if err != nil {
		metrics.IncFeedUpdate(symbol, "error")
		r.logger.Error("price_refresher.submit_failed",
			zap.String("symbol", symbol),
			zap.String("feed", addr.String()),
			zap.Error(err))
		return fmt.Errorf("submit %s: %w", symbol, err)
	}

	metrics.IncFeedUpdate(symbol, "ok")
	r.logger.Info("price_refresher.feed_updated",
		zap.String("symbol", symbol),
		zap.String("feed", addr.String()),
		zap.String("answer", answer.String()),
		zap.String("price", q.Price.String()))
	return nil
}
