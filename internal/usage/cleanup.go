package usage

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartRetentionJob schedules a daily purge of usage rows past the retention
// window. Correctness never depends on it (records are keyed by day); it
// only keeps the table from growing without bound. Returns the scheduler so
// the caller can Stop it on shutdown.
func StartRetentionJob(store *PostgresStore, retentionDays int) *cron.Cron {
	sched := cron.New()
	_, err := sched.AddFunc("15 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		n, err := store.PurgeBefore(ctx, retentionDays)
		if err != nil {
			log.Printf("usage retention: purge failed: %v", err)
			return
		}
		log.Printf("usage retention: purged %d rows older than %d days", n, retentionDays)
	})
	if err != nil {
		log.Printf("usage retention: schedule failed: %v", err)
		return sched
	}
	sched.Start()
	return sched
}
