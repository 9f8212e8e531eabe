package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

// Gate answers "is this credential live" for read paths, reusing a recent
// verdict instead of opening a session.
type Gate struct {
	Checker  ports.Checker
	Creds    ports.CredentialStore
	Cooldown time.Duration
	Now      func() time.Time
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Status returns c's cached status while it is younger than the cooldown,
// unless force is set. Otherwise it checks and writes the result back. A
// failed check returns the cached status with the error.
func (g *Gate) Status(ctx context.Context, c domain.Credential, force bool) (domain.CredentialStatus, error) {
	fresh, err := g.refresh(ctx, c, force)
	return fresh.Status, err
}

func (g *Gate) refresh(ctx context.Context, c domain.Credential, force bool) (domain.Credential, error) {
	if !force && c.LastValidatedAt != nil && g.now().Sub(*c.LastValidatedAt) < g.Cooldown {
		return c, nil
	}
	ok, err := g.Checker.Check(ctx, c.Platform, c.Ref)
	if err != nil {
		return c, err
	}
	at := g.now()
	c.Status = domain.StatusOf(ok)
	c.LastValidatedAt = &at
	return c, g.Creds.SetValidation(ctx, c.ID, c.Status, at)
}

// Refresh runs Status over creds concurrently and returns the rows as they
// stand afterwards. Per-row failures are logged and keep the cached status.
func (g *Gate) Refresh(ctx context.Context, creds []domain.Credential, force bool) []domain.Credential {
	out := make([]domain.Credential, len(creds))
	var wg sync.WaitGroup
	for i, c := range creds {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh, err := g.refresh(ctx, c, force)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Int64("credential_id", c.ID).Msg("on-demand validation failed")
			}
			out[i] = fresh
		}()
	}
	wg.Wait()
	return out
}
