package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/platform"
	"omnipost/internal/ports"
)

// ResolvePath maps a stored reference to a file under dir. Absolute
// references are used as they are.
func ResolvePath(dir, ref string) string {
	if filepath.IsAbs(ref) {
		return ref
	}
	return filepath.Join(dir, ref)
}

// Checker opens a fresh session per call, so one check can never observe
// another's state.
type Checker struct {
	Sessions   ports.SessionProvider
	Table      platform.Table
	CookiesDir string
	ProbeWait  time.Duration
}

var _ ports.Checker = (*Checker)(nil)

func (c *Checker) Check(ctx context.Context, p domain.Platform, ref string) (bool, error) {
	spec, err := c.Table.Lookup(p)
	if err != nil {
		return false, err
	}
	path := ResolvePath(c.CookiesDir, ref)
	logger := log.Ctx(ctx).With().Str("platform", p.String()).Str("ref", ref).Logger()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Warn().Msgf("credential file %s missing, treating as invalid", path)
		return false, nil
	}

	ok, err := c.probe(ctx, spec.Probe, path)
	if err != nil {
		return false, &domain.ProcedureError{Op: "check " + p.String(), Err: errors.WithStack(err)}
	}
	logger.Debug().Bool("valid", ok).Msg("credential checked")
	return ok, nil
}

func (c *Checker) probe(ctx context.Context, probe platform.Probe, statePath string) (bool, error) {
	s, err := c.Sessions.Open(ctx, statePath)
	if err != nil {
		return false, err
	}
	defer s.Close()

	if err := s.Navigate(ctx, probe.EntryURL); err != nil {
		return false, err
	}
	if probe.ExpectURL != "" {
		err := s.WaitURL(ctx, func(u string) bool { return strings.HasPrefix(u, probe.ExpectURL) }, c.ProbeWait)
		if errors.Is(err, ports.ErrWaitTimeout) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
	if probe.SignInRedirect != "" {
		u, err := s.URL(ctx)
		if err != nil {
			return false, err
		}
		if strings.Contains(u, probe.SignInRedirect) {
			return false, nil
		}
	}
	if !probe.SignInMarker.IsZero() {
		err := s.WaitVisible(ctx, probe.SignInMarker, c.ProbeWait)
		switch {
		case err == nil:
			return false, nil
		case errors.Is(err, ports.ErrWaitTimeout):
			return true, nil
		default:
			return false, err
		}
	}
	return true, nil
}
