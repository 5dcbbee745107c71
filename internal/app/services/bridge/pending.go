package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/voidwallet/voidd/internal/app/storage"
	"github.com/voidwallet/voidd/pkg/logger"
)

// PendingWorker drains the durable pending-deposit queue. Deposits land
// there when their wallet has not enrolled a balance secret yet; the worker
// re-attempts them until enrollment happens, so no deposit is ever dropped.
type PendingWorker struct {
	bridge   *Service
	interval time.Duration
	log      *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPendingWorker(bridge *Service, interval time.Duration, log *logger.Logger) *PendingWorker {
	if log == nil {
		log = logger.NewDefault("pending-deposits")
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PendingWorker{bridge: bridge, interval: interval, log: log}
}

func (w *PendingWorker) Name() string { return "pending-deposit-worker" }

func (w *PendingWorker) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	w.log.WithField("interval", w.interval.String()).Info("pending-deposit worker started")
	return nil
}

func (w *PendingWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	return nil
}

func (w *PendingWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.DrainOnce(ctx); err != nil {
				w.log.WithError(err).Warn("pending-deposit drain failed")
			}
		}
	}
}

// DrainOnce applies every queued deposit whose wallet has enrolled since.
// Unenrolled ones stay queued untouched.
func (w *PendingWorker) DrainOnce(ctx context.Context) error {
	pending, err := w.bridge.deposits.ListPending(ctx)
	if err != nil {
		return err
	}
	for _, dep := range pending {
		enrolled, err := w.bridge.secrets.IsEnrolled(ctx, dep.User, storage.SecretBalance)
		if err != nil {
			w.log.WithError(err).WithField("deposit", dep.ID).Warn("enrollment check failed")
			continue
		}
		if !enrolled {
			continue
		}
		if err := w.bridge.applyOrQueue(ctx, dep); err != nil {
			w.log.WithError(err).WithField("deposit", dep.ID).Warn("pending deposit re-apply failed")
		}
	}
	return nil
}
