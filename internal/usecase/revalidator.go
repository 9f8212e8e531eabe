package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
	"omnipost/pkg/backoff"
)

// Revalidator periodically re-checks credentials whose last validation is
// older than StaleAfter, at most Concurrency at a time.
type Revalidator struct {
	Creds       ports.CredentialStore
	Checker     ports.Checker
	Lease       ports.Lease
	LeaseKey    string
	LeaseTTL    time.Duration
	Interval    time.Duration
	StaleAfter  time.Duration
	Concurrency int64
	Pace        time.Duration
	Now         func() time.Time
}

type SweepResult struct {
	Skipped bool `json:"skipped"`
	Stale   int  `json:"stale"`
	Valid   int  `json:"valid"`
	Invalid int  `json:"invalid"`
	Failed  int  `json:"failed"`
}

func (r *Revalidator) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run sweeps immediately, then once per Interval, until ctx ends.
func (r *Revalidator) Run(ctx context.Context) error {
	log.Ctx(ctx).Info().Msgf("revalidation every %s, stale after %s, %d at a time", r.Interval, r.StaleAfter, r.Concurrency)
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
			log.Ctx(ctx).Error().Err(err).Msg("revalidation sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep validates every stale credential once. Per-row failures are logged
// and counted; they never abort the sweep.
func (r *Revalidator) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if r.Lease != nil {
		ok, err := r.Lease.Acquire(ctx, r.LeaseKey, r.LeaseTTL)
		switch {
		case err != nil:
			log.Ctx(ctx).Warn().Err(err).Msg("sweep lease unavailable, sweeping without it")
		case !ok:
			log.Ctx(ctx).Info().Msg("another process holds the sweep lease, skipping")
			res.Skipped = true
			return res, nil
		default:
			defer func() {
				if err := r.Lease.Release(context.WithoutCancel(ctx), r.LeaseKey); err != nil {
					log.Ctx(ctx).Warn().Err(err).Msg("release sweep lease")
				}
			}()
		}
	}

	var stale []domain.Credential
	err := backoff.Retry(ctx, 3, time.Second, 10*time.Second, func(ctx context.Context) error {
		var err error
		stale, err = r.Creds.ListStale(ctx, r.now().Add(-r.StaleAfter))
		return err
	})
	if err != nil {
		return res, err
	}
	res.Stale = len(stale)
	if len(stale) == 0 {
		log.Ctx(ctx).Debug().Msg("no stale credentials")
		return res, nil
	}
	log.Ctx(ctx).Info().Msgf("revalidating %d stale credentials", len(stale))

	var valid, invalid, failed atomic.Int64
	sem := semaphore.NewWeighted(max(r.Concurrency, 1))
	var wg sync.WaitGroup
	for _, c := range stale {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			switch status, err := r.revalidate(ctx, c); {
			case err != nil:
				failed.Add(1)
			case status == domain.CredentialValid:
				valid.Add(1)
			default:
				invalid.Add(1)
			}
			r.pause(ctx)
		}()
	}
	wg.Wait()

	res.Valid, res.Invalid, res.Failed = int(valid.Load()), int(invalid.Load()), int(failed.Load())
	log.Ctx(ctx).Info().Msgf("sweep done: %d valid, %d invalid, %d failed", res.Valid, res.Invalid, res.Failed)
	return res, ctx.Err()
}

func (r *Revalidator) revalidate(ctx context.Context, c domain.Credential) (domain.CredentialStatus, error) {
	logger := log.Ctx(ctx).With().Int64("credential_id", c.ID).Str("platform", c.Platform.String()).Str("label", c.Label).Logger()
	ok, err := r.Checker.Check(ctx, c.Platform, c.Ref)
	if err != nil {
		logger.Error().Err(err).Msg("validation failed")
		return "", err
	}
	status := domain.StatusOf(ok)
	if err := r.Creds.SetValidation(ctx, c.ID, status, r.now()); err != nil {
		logger.Error().Err(err).Msg("validation result not stored")
		return "", err
	}
	logger.Debug().Msgf("credential is %s", status)
	return status, nil
}

// pause holds the semaphore slot for Pace so the next check on the same
// platform does not start straight away.
func (r *Revalidator) pause(ctx context.Context) {
	if r.Pace <= 0 {
		return
	}
	t := time.NewTimer(r.Pace)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
