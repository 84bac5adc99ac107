package payment

import (
	"context"
	"sync"
	"time"

	"github.com/sokoworks/payment-hub/internal"
	datamodel "github.com/sokoworks/payment-hub/internal/core/datamodel/payment"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

type reconcileJob struct {
	payment *datamodel.Payment
	expire  bool
}

type reconcileWorker struct {
	id         int
	workerPool chan chan reconcileJob
	jobs       chan reconcileJob
	quit       chan struct{}
}

func newReconcileWorker(id int, workerPool chan chan reconcileJob) *reconcileWorker {
	return &reconcileWorker{
		id:         id,
		workerPool: workerPool,
		jobs:       make(chan reconcileJob),
		quit:       make(chan struct{}),
	}
}

func (w *reconcileWorker) start(r *Reconciler) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			w.workerPool <- w.jobs
			select {
			case job := <-w.jobs:
				r.process(job)
			case <-w.quit:
				return
			}
		}
	}()
}

func (w *reconcileWorker) stop() {
	close(w.quit)
}

// Reconciler is the drift-repair loop. Webhooks can be lost, so pending
// payments are periodically reverified against their provider, and
// payments that never settle are expired once their window passes. Work
// fans out over a fixed worker pool so a slow provider cannot stall a
// whole sweep.
type Reconciler struct {
	svc  *Service
	repo RepositoryAPI
	cfg  internal.PaymentsConfig

	jobQueue   chan reconcileJob
	workerPool chan chan reconcileJob
	workers    []*reconcileWorker
	once       sync.Once
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

func NewReconciler(svc *Service, repo RepositoryAPI, cfg internal.PaymentsConfig) *Reconciler {
	return &Reconciler{
		svc:        svc,
		repo:       repo,
		cfg:        cfg,
		jobQueue:   make(chan reconcileJob, cfg.BatchSize),
		workerPool: make(chan chan reconcileJob, cfg.MaxWorkers),
	}
}

func (r *Reconciler) Run(ctx context.Context) {
	r.once.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel

		for i := 0; i < r.cfg.MaxWorkers; i++ {
			worker := newReconcileWorker(i+1, r.workerPool)
			r.workers = append(r.workers, worker)
			worker.start(r)
		}

		r.wg.Add(1)
		go r.dispatch(runCtx)

		r.wg.Add(1)
		go r.tick(runCtx)

		logger.L().Info("reconciler started",
			"workers", r.cfg.MaxWorkers,
			"verify_interval", r.cfg.VerifyInterval.String(),
			"expire_interval", r.cfg.ExpireInterval.String())
	})
}

func (r *Reconciler) dispatch(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.jobQueue:
			select {
			case jobs := <-r.workerPool:
				jobs <- job
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) {
	defer r.wg.Done()

	verifyTicker := time.NewTicker(r.cfg.VerifyInterval)
	defer verifyTicker.Stop()
	expireTicker := time.NewTicker(r.cfg.ExpireInterval)
	defer expireTicker.Stop()

	for {
		select {
		case <-verifyTicker.C:
			r.enqueueVerifySweep(ctx)
		case <-expireTicker.C:
			r.enqueueExpireSweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// enqueueVerifySweep queues pending payments that have not been touched
// recently for provider reverification.
func (r *Reconciler) enqueueVerifySweep(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.VerifyAge)
	payments, err := r.repo.ListPendingForReverify(cutoff, r.cfg.BatchSize)
	if err != nil {
		logger.L().Warn("reverify sweep query failed", "error", err)
		return
	}
	r.enqueue(ctx, payments, false)
	if len(payments) > 0 {
		logger.L().Info("queued payments for reverification", "count", len(payments))
	}
}

// enqueueExpireSweep queues unsettled payments whose expiry window has
// passed.
func (r *Reconciler) enqueueExpireSweep(ctx context.Context) {
	payments, err := r.repo.ListPendingOlderThan(time.Now(), r.cfg.BatchSize)
	if err != nil {
		logger.L().Warn("expire sweep query failed", "error", err)
		return
	}
	r.enqueue(ctx, payments, true)
	if len(payments) > 0 {
		logger.L().Info("queued payments for expiry", "count", len(payments))
	}
}

func (r *Reconciler) enqueue(ctx context.Context, payments []*datamodel.Payment, expire bool) {
	for _, p := range payments {
		select {
		case r.jobQueue <- reconcileJob{payment: p, expire: expire}:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) process(job reconcileJob) {
	ctx := logger.With(context.Background(),
		"component", "reconciler",
		"reference", job.payment.Reference)

	if job.expire {
		if _, err := r.svc.expirePayment(ctx, job.payment, "payment window expired"); err != nil {
			logger.From(ctx).Warn("could not expire payment", "error", err)
		}
		return
	}
	r.svc.reconcileVerify(ctx, job.payment)
}

// Shutdown stops the sweeps and waits for in-flight jobs to finish or
// the context to give up.
func (r *Reconciler) Shutdown(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	for _, worker := range r.workers {
		worker.stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.L().Info("reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
