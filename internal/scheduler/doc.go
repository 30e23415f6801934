// Package scheduler runs named tasks on fixed intervals and on demand.
//
// A task never overlaps itself: a tick that arrives while the previous run
// is still going is skipped, and RunNow returns ErrTaskRunning. Different
// tasks run independently.
//
// Usage:
//
//	s := scheduler.New()
//	s.Add(scheduler.Task{Name: "fleet-sync", Interval: 5 * time.Minute, Run: sync})
//	s.Start(ctx)
//	defer s.Stop()
//
//	err := s.RunNow(ctx, "fleet-sync")
package scheduler
