package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Mayorlee0/verify-protocol-mvp/internal/metrics"
)

const (
	intentSweepInterval      = 30 * time.Second
	reconcileInterval        = 15 * time.Second
	idempotencySweepInterval = 10 * time.Minute
	limiterSweepInterval     = time.Minute
	dbStatsInterval          = 30 * time.Second
	sponsorBalanceInterval   = 5 * time.Minute
)

// StartBackground runs the housekeeping loops until ctx is cancelled.
// Intent expiry is still enforced at confirm time; the sweep only tidies status for reporting.
func (c *ServiceContainer) StartBackground(ctx context.Context) {
	go c.Hub.Run(ctx)

	go c.every(ctx, intentSweepInterval, "expire_intents", func(ctx context.Context) error {
		n, err := c.VerificationService.ExpireStale(ctx)
		if err == nil && n > 0 {
			c.Logger.WithField("count", n).Info("Expired stale verify intents")
		}
		return err
	})
	go c.every(ctx, reconcileInterval, "reconcile_payouts", func(ctx context.Context) error {
		_, err := c.VerificationService.ReconcileUnrecordedPayouts(ctx)
		return err
	})
	go c.every(ctx, idempotencySweepInterval, "sweep_idempotency", func(ctx context.Context) error {
		_, err := c.IdempotencyService.Sweep(ctx)
		return err
	})
	go c.every(ctx, limiterSweepInterval, "sweep_rate_limiter", func(context.Context) error {
		c.Limiter.Sweep()
		return nil
	})
	go c.every(ctx, dbStatsInterval, "db_stats", c.recordDBStats)
	if c.EVMLedger != nil {
		go c.every(ctx, sponsorBalanceInterval, "sponsor_balance", c.EVMLedger.RefreshSponsorBalance)
	}
}

func (c *ServiceContainer) every(ctx context.Context, interval time.Duration, name string, job func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job(ctx); err != nil && ctx.Err() == nil {
				c.Logger.WithFields(logrus.Fields{
					"job":   name,
					"error": err.Error(),
				}).Warn("Background job failed")
			}
		}
	}
}

func (c *ServiceContainer) recordDBStats(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	stats := sqlDB.Stats()
	metrics.DBConnectionOpen.Set(float64(stats.OpenConnections))
	metrics.DBConnectionInUse.Set(float64(stats.InUse))
	if err := sqlDB.PingContext(ctx); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return err
	}
	metrics.DBConnectionStatus.Set(1)
	return nil
}
