package hook

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// RuleInstaller checks and installs the kernel rule that diverts traffic to
// the queue. NftablesController implements it.
type RuleInstaller interface {
	Verify() (bool, error)
	Install() error
}

// Reconciler periodically checks that the queue rule is still installed and
// reinstalls it when another tool flushed the ruleset. Without the rule,
// traffic bypasses the filter entirely.
type Reconciler struct {
	nft       RuleInstaller
	interval  time.Duration
	logger    *slog.Logger
	triggerCh chan struct{}
	repairs   atomic.Uint64
}

// NewReconciler creates a Reconciler checking at cfg.ReconcileInterval.
// Config defaults are applied automatically.
func NewReconciler(nft RuleInstaller, cfg Config, logger *slog.Logger) *Reconciler {
	cfg.ApplyDefaults()
	return &Reconciler{
		nft:       nft,
		interval:  cfg.ReconcileInterval,
		logger:    logger.With("component", "hook"),
		triggerCh: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate check. Rapid calls are coalesced.
func (r *Reconciler) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

// Repairs returns how many times the rule had to be reinstalled.
func (r *Reconciler) Repairs() uint64 {
	return r.repairs.Load()
}

// Run checks the rule every interval until ctx is cancelled. The caller
// installs the rule before starting Run.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("hook reconciler stopped", "repairs", r.repairs.Load())
			return ctx.Err()
		case <-ticker.C:
			r.check()
		case <-r.triggerCh:
			r.check()
			ticker.Reset(r.interval)
		}
	}
}

func (r *Reconciler) check() {
	ok, err := r.nft.Verify()
	if err != nil {
		r.logger.Warn("verify queue rule failed", "error", err)
		return
	}
	if ok {
		return
	}

	r.logger.Warn("queue rule missing, reinstalling")
	if err := r.nft.Install(); err != nil {
		r.logger.Error("reinstall queue rule failed", "error", err)
		return
	}
	r.repairs.Add(1)
}
