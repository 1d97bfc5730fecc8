package daemon

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
)

// cleanupScheduler runs the memory cleanup job on a cron schedule that can
// change at runtime. Runs never overlap.
type cleanupScheduler struct {
	cron *cron.Cron
	job  cron.Job

	mu   sync.Mutex
	spec string
	id   cron.EntryID
}

func newCleanupScheduler(run func(), log logr.Logger) *cleanupScheduler {
	return &cleanupScheduler{
		cron: cron.New(cron.WithLogger(log.V(1))),
		job:  cron.NewChain(cron.SkipIfStillRunning(log)).Then(cron.FuncJob(run)),
	}
}

// Schedule replaces the current schedule. Standard five-field specs and
// descriptors such as "@daily" are accepted; an empty spec disables the job.
// An invalid spec leaves the current schedule in place.
func (s *cleanupScheduler) Schedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec == s.spec {
		return nil
	}

	var sched cron.Schedule
	if spec != "" {
		var err error
		sched, err = cron.ParseStandard(spec)
		if err != nil {
			return fmt.Errorf("parsing cleanup schedule %q: %w", spec, err)
		}
	}

	if s.id != 0 {
		s.cron.Remove(s.id)
		s.id = 0
	}
	s.spec = spec
	if sched != nil {
		s.id = s.cron.Schedule(sched, s.job)
	}
	return nil
}

// Spec returns the active schedule.
func (s *cleanupScheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

func (s *cleanupScheduler) Start() { s.cron.Start() }

// Stop halts scheduling; the returned context is done once a running job
// has finished.
func (s *cleanupScheduler) Stop() context.Context { return s.cron.Stop() }
