package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/metrics"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/returnsapi"
)

const LockName = "reconcile-returns"

// Engine applies one normalized event; the batch job reuses the exact same
// primitive the webhook handlers use, so interleaving with live events is
// safe without any extra coordination.
type Engine interface {
	Apply(ctx context.Context, p restoration.Proposal) (*restoration.ApplyResult, error)
}

// ReturnsLister pages through the returns platform's current returns.
type ReturnsLister interface {
	ListReturns(ctx context.Context, page int) ([]returnsapi.Return, bool, error)
}

// LockManager serializes runs; see the lock package.
type LockManager interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// Summary is what batch callers get instead of a bare error: enough to see
// what happened without digging through logs.
type Summary struct {
	Skipped    bool      `json:"skipped"`
	Processed  int       `json:"processed"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FailedIDs  []string  `json:"failed_ids,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type ReconcilerConfig struct {
	PageDelay time.Duration
	MaxPages  int
}

// Reconciler re-applies the returns platform's view of every open return
// against the restoration records, catching up on any webhook deliveries
// that were lost. Exactly one run at a time holds the named lock.
type Reconciler struct {
	locks  LockManager
	client ReturnsLister
	engine Engine
	config ReconcilerConfig
	logger *zap.Logger
}

func NewReconciler(locks LockManager, client ReturnsLister, engine Engine, config ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if config.PageDelay <= 0 {
		config.PageDelay = 500 * time.Millisecond
	}
	if config.MaxPages <= 0 {
		config.MaxPages = 200
	}
	return &Reconciler{
		locks:  locks,
		client: client,
		engine: engine,
		config: config,
		logger: logger,
	}
}

// Run executes one reconciliation pass. A held lock yields a skipped summary
// without touching any record. One bad return never aborts the run; its id
// lands in the summary instead.
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{StartedAt: time.Now().UTC()}

	acquired, err := r.locks.Acquire(ctx, LockName)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire %s lock: %w", LockName, err)
	}
	if !acquired {
		summary.Skipped = true
		summary.FinishedAt = time.Now().UTC()
		metrics.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
		return summary, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.locks.Release(releaseCtx, LockName); err != nil {
			r.logger.Error("failed to release reconcile lock", zap.Error(err))
		}
	}()

	r.logger.Info("reconciliation run started")

	for page := 1; page <= r.config.MaxPages; page++ {
		returns, hasMore, err := r.client.ListReturns(ctx, page)
		if err != nil {
			summary.FinishedAt = time.Now().UTC()
			metrics.ReconcileRunsTotal.WithLabelValues("failed").Inc()
			return summary, fmt.Errorf("failed to list returns page %d: %w", page, err)
		}

		for i := range returns {
			summary.Processed++
			if err := r.applyReturn(ctx, &returns[i]); err != nil {
				summary.Failed++
				summary.FailedIDs = append(summary.FailedIDs, returns[i].ID)
				r.logger.Warn("reconciliation failed for return",
					zap.String("returns_platform_id", returns[i].ID),
					zap.Error(err))
				continue
			}
			summary.Succeeded++
		}

		if !hasMore {
			break
		}

		// Fixed delay between pages keeps us inside the provider rate limit.
		select {
		case <-time.After(r.config.PageDelay):
		case <-ctx.Done():
			summary.FinishedAt = time.Now().UTC()
			metrics.ReconcileRunsTotal.WithLabelValues("cancelled").Inc()
			return summary, ctx.Err()
		}
	}

	summary.FinishedAt = time.Now().UTC()
	metrics.ReconcileRunsTotal.WithLabelValues("completed").Inc()
	r.logger.Info("reconciliation run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

func (r *Reconciler) applyReturn(ctx context.Context, ret *returnsapi.Return) error {
	proposal := restoration.Proposal{
		Keys: restoration.LinkKeys{
			ReturnsPlatformID: ret.ID,
			OrderReference:    ret.OrderNumber,
			RMANumber:         ret.RMANumber,
		},
		EventType: "reconcile.sync",
		Source:    restoration.SourceTracking,
		Actor:     "reconciler",
		Proposed:  restoration.NormalizeCarrierStatus(ret.TrackingStatus),
		Payload: map[string]interface{}{
			"returns_platform_id": ret.ID,
			"tracking_status":     ret.TrackingStatus,
			"page_synced_at":      time.Now().UTC(),
		},
	}
	if !ret.UpdatedAt.IsZero() {
		proposal.OccurredAt = ret.UpdatedAt
	}
	if ret.TrackingNumber != "" || ret.Carrier != "" || ret.TrackingStatus != "" {
		proposal.Tracking = &restoration.TrackingUpdate{
			Number:    ret.TrackingNumber,
			Carrier:   ret.Carrier,
			StatusRaw: ret.TrackingStatus,
		}
	}

	_, err := r.engine.Apply(ctx, proposal)
	return err
}
