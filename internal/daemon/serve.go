package daemon

import (
	"context"
	"time"
)

// Serve runs the supervisor loop until the context is cancelled: recovery,
// then handlers and pollers, then the reconcile ticker. The caller owns
// component construction and the shutdown ordering (the DI container's
// Dispose sequence); Serve only drives the steady state.
func (s *Supervisor) Serve(ctx context.Context, startPollers func()) error {
	if err := s.Recover(); err != nil {
		return err
	}
	if err := s.StartHandlers(); err != nil {
		return err
	}
	defer s.StopHandlers()

	if startPollers != nil {
		startPollers()
	}

	// Initial pass picks up whatever recovery queued.
	s.Dispatch()

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Reconcile()
		case <-ctx.Done():
			return nil
		}
	}
}
