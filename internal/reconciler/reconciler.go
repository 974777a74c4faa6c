package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/settlement"
	"github.com/adwave/pointpay/internal/storage"
)

// Reconciler periodically resolves withdrawal requests stuck in PROCESSING
// after an unknown gateway outcome. A request is only picked up once it has
// sat in PROCESSING past the grace period, so an approval call still in
// flight is never raced.
type Reconciler struct {
	log      *slog.Logger
	store    storage.Storage
	settler  *settlement.Service
	interval time.Duration
	grace    time.Duration
	poolSize int
}

type Config struct {
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
	poolSize int
}

func New(store storage.Storage, settler *settlement.Service, opts ...Option) *Reconciler {
	cfg := &Config{
		logger:   slog.New(&slog.JSONHandler{}),
		interval: 1 * time.Minute,
		grace:    5 * time.Minute,
		poolSize: 2,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return &Reconciler{
		log:      cfg.logger.With(slog.String("module", "reconciler")),
		store:    store,
		settler:  settler,
		interval: cfg.interval,
		grace:    cfg.grace,
		poolSize: cfg.poolSize,
	}
}

type Option func(c *Config)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.logger = logger
	}
}

func WithInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.interval = interval
	}
}

func WithGrace(grace time.Duration) Option {
	return func(c *Config) {
		c.grace = grace
	}
}

func WithPoolSize(size int) Option {
	return func(c *Config) {
		c.poolSize = size
	}
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Start reconciler daemon")

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Context done, stopping reconciler daemon")

			return nil

		case <-ticker.C:
			if err := r.Process(ctx); err != nil {
				r.log.Error("reconciler.Process", slog.Any("error", err))
			}
		}
	}
}

// Process runs a single reconciliation pass.
func (r *Reconciler) Process(ctx context.Context) error {
	reqs, _, err := r.store.ListWithdrawals(ctx, storage.ListFilter{
		Statuses: []withdrawals.Status{withdrawals.StatusProcessing},
		Page:     1,
		Limit:    100,
	})
	if err != nil {
		return fmt.Errorf("store.ListWithdrawals: %w", err)
	}

	cutoff := time.Now().Add(-r.grace)

	stuck := make([]*withdrawals.Request, 0, len(reqs))
	for _, req := range reqs {
		if req.UpdatedAt().Before(cutoff) {
			stuck = append(stuck, req)
		}
	}

	if len(stuck) == 0 {
		return nil
	}

	r.log.Info("Reconciling processing withdrawals", slog.Int("count", len(stuck)))

	reqCh := requestGenerator(ctx, stuck)

	wg := &sync.WaitGroup{}

	for w := 1; w <= r.poolSize; w++ {
		wg.Add(1)
		go r.worker(ctx, wg, reqCh)
	}

	wg.Wait()

	return nil
}

func requestGenerator(ctx context.Context, reqs []*withdrawals.Request) chan *withdrawals.Request {
	reqCh := make(chan *withdrawals.Request)

	go func() {
		defer close(reqCh)

		for _, req := range reqs {
			select {
			case <-ctx.Done():
				return
			case reqCh <- req:
			}
		}
	}()

	return reqCh
}

func (r *Reconciler) worker(ctx context.Context, wg *sync.WaitGroup, reqCh chan *withdrawals.Request) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case req, ok := <-reqCh:
			if !ok {
				return
			}

			if err := r.settler.Reconcile(ctx, req.ID()); err != nil {
				r.log.Warn("withdrawal still unresolved",
					slog.String("withdrawal_id", req.ID()),
					slog.Any("error", err),
				)
			}
		}
	}
}
