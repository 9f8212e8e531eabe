package worker

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Handle is the supervised view of one background job.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (h *Handle) Name() string { return h.name }

// Cancel asks the job to stop. Jobs that never look at their context run on.
func (h *Handle) Cancel() { h.cancel() }

func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the job's result. It is only meaningful once Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Supervisor runs jobs detached from the caller's request. Jobs share a
// root context that survives the parent's cancellation until Stop.
type Supervisor struct {
	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running map[*Handle]struct{}
}

func NewSupervisor(parent context.Context) *Supervisor {
	root, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Supervisor{root: root, cancel: cancel, running: map[*Handle]struct{}{}}
}

// Go starts fn on its own goroutine and returns immediately. A panic in fn is
// recovered and becomes the handle's error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) *Handle {
	ctx, cancel := context.WithCancel(s.root)
	ctx = log.Ctx(s.root).With().Str("job", name).Logger().WithContext(ctx)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.running[h] = struct{}{}
	s.mu.Unlock()
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.err = errors.Errorf("panic in %s: %v", name, r)
				log.Ctx(ctx).Error().Stack().Err(h.err).Msg("job panicked")
			}
			cancel()
			s.mu.Lock()
			delete(s.running, h)
			s.mu.Unlock()
			close(h.done)
		}()
		h.err = fn(ctx)
	}()
	return h
}

func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Wait blocks until every job has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop gives in-flight jobs until ctx ends to finish, then cancels the rest.
func (s *Supervisor) Stop(ctx context.Context) error {
	err := s.Wait(ctx)
	if err != nil {
		log.Warn().Msgf("cancelling %d unfinished jobs", s.Running())
	}
	s.cancel()
	return err
}
