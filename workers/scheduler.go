package workers

import (
	"context"
	"time"

	"user-level-system/logger"

	"github.com/go-co-op/gocron/v2"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// StartScheduler registers jobs on a gocron scheduler and starts it. Each job runs
// in singleton mode so a slow run is never overlapped by the next tick. Callers
// stop it with Shutdown.
func StartScheduler(ctx context.Context, log *logger.Logger, jobs ...Job) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	for _, j := range jobs {
		j := j
		_, err := sched.NewJob(
			gocron.DurationJob(j.Interval),
			gocron.NewTask(func() {
				if ctx.Err() != nil {
					return
				}
				started := time.Now()
				if err := j.Run(ctx); err != nil {
					log.Error("[Scheduler] job failed", "job", j.Name, "error", err)
					return
				}
				log.Debug("[Scheduler] job finished", "job", j.Name, "took", time.Since(started).String())
			}),
			gocron.WithName(j.Name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, err
		}
		log.Info("[Scheduler] job registered", "job", j.Name, "every", j.Interval.String())
	}

	sched.Start()
	return sched, nil
}
