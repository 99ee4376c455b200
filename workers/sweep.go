package workers

import (
	"context"
	"sync/atomic"

	"user-level-system/logger"
	"user-level-system/services"

	"golang.org/x/sync/errgroup"
)

// ProgressUsers is satisfied by *services.ProgressService.
type ProgressUsers interface {
	UserIDsWithProgress(ctx context.Context) ([]string, error)
}

// Sweeper runs one Advance for every user that has progress, so users whose
// counters changed outside the sync path still get promoted.
type Sweeper struct {
	users       ProgressUsers
	upgrades    Advancer
	log         *logger.Logger
	concurrency int
}

func NewSweeper(users ProgressUsers, upgrades Advancer, log *logger.Logger, concurrency int) *Sweeper {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Sweeper{users: users, upgrades: upgrades, log: log, concurrency: concurrency}
}

type SweepResult struct {
	Users    int
	Advanced int
	Failed   int
}

// Run processes every user once. Per-user failures are logged and counted; only a
// failed user listing or a cancelled ctx aborts the sweep.
func (s *Sweeper) Run(ctx context.Context) (SweepResult, error) {
	ids, err := s.users.UserIDsWithProgress(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var advanced, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, id := range ids {
		id := id
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := s.upgrades.Advance(gctx, services.UserID(id))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.log.Warn("[SWEEP] advance failed", "user_id", id, "error", err)
				return nil
			}
			if out.Changed() {
				advanced.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()

	res := SweepResult{Users: len(ids), Advanced: int(advanced.Load()), Failed: int(failed.Load())}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.log.Warn("[SWEEP] aborted", "users", res.Users, "advanced", res.Advanced, "error", err)
		return res, err
	}
	s.log.Info("[SWEEP] done", "users", res.Users, "advanced", res.Advanced, "failed", res.Failed)
	return res, nil
}
