package workflow

import (
	"context"
	"time"

	"github.com/bsm/redislock"
	"github.com/openshelf/library_backend/config"
	"github.com/sirupsen/logrus"
)

const reconcilerLeaderKey = "reconciler:leader"

// StartReconciler runs the reconciliation sweep on a fixed interval until
// ctx is cancelled. A Redis leader lock keeps concurrent replicas from
// sweeping at the same time; a replica that misses the lock skips the tick
// quietly and tries again on the next one.
func StartReconciler(ctx context.Context) {
	logger := config.GetLogger()
	interval := config.ReconcileInterval()

	logger.WithFields(logrus.Fields{
		"module":   "workflow",
		"interval": interval.String(),
	}).Info("reconciler started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.WithFields(logrus.Fields{"module": "workflow"}).Info("reconciler stopped")
			return
		case <-ticker.C:
			runReconcilerTick(ctx, logger, interval)
		}
	}
}

func runReconcilerTick(ctx context.Context, logger *logrus.Logger, interval time.Duration) {
	if locker := config.GetRedisLock(); locker != nil {
		lock, err := locker.Obtain(ctx, reconcilerLeaderKey, interval, nil)
		if err == redislock.ErrNotObtained {
			return
		}
		if err != nil {
			config.LogError(logger, "workflow", "runReconcilerTick", "obtaining leader lock", nil, err)
			return
		}
		defer lock.Release(ctx)
	}

	cid, err := RunReconciliation(ctx)
	if err != nil {
		config.LogError(logger, "workflow", "runReconcilerTick", "running reconciliation", nil, err)
		return
	}
	logger.WithFields(logrus.Fields{
		"module":         "workflow",
		"correlation_id": cid,
	}).Debug("reconciliation tick completed")
}
