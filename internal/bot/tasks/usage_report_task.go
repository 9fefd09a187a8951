package tasks

import (
	"context"
	"fmt"
	"time"
)

// newUsageReportTask creates a scheduled task that logs today's per-user
// message counts, flagging users who spent their daily budget.
func newUsageReportTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "usage_report")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting scheduled usage report task...")

		timeoutCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		usage, err := deps.Store.DailyUsage(timeoutCtx)
		if err != nil {
			log.ErrorContext(ctx, "Usage report task failed", "error", err)
			return fmt.Errorf("usage report failed: %w", err)
		}

		if len(usage) == 0 {
			log.InfoContext(ctx, "No messages recorded today")
			return nil
		}

		limit := deps.Config.Telegram.MaxDailyMessages
		var atLimit int
		for userID, count := range usage {
			if count >= limit {
				atLimit++
				log.InfoContext(ctx, "User spent the daily budget", "user_id", userID, "count", count, "limit", limit)
			}
		}

		log.InfoContext(ctx, "Usage report", "active_users", len(usage), "users_at_limit", atLimit)
		return nil
	}
}
