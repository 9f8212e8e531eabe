package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

type AccountService struct {
	Creds      ports.CredentialStore
	Groups     ports.GroupStore
	Gate       *Gate
	States     ports.StateFiles
	CookiesDir string
}

// List returns stored rows as they are, without touching any platform.
func (s *AccountService) List(ctx context.Context, platform *domain.Platform) ([]domain.Credential, error) {
	return s.Creds.List(ctx, platform)
}

// ListValidated passes every row through the gate first.
func (s *AccountService) ListValidated(ctx context.Context, platform *domain.Platform, force bool) ([]domain.Credential, error) {
	creds, err := s.Creds.List(ctx, platform)
	if err != nil {
		return nil, err
	}
	return s.Gate.Refresh(ctx, creds, force), nil
}

// Check forces a fresh validation of one credential.
func (s *AccountService) Check(ctx context.Context, id int64) (*domain.Credential, error) {
	c, err := s.Creds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	fresh, err := s.Gate.refresh(ctx, *c, true)
	if err != nil {
		return nil, err
	}
	return &fresh, nil
}

func (s *AccountService) Update(ctx context.Context, id int64, platform domain.Platform, label string) error {
	return s.Creds.Rename(ctx, id, platform, label)
}

// Delete drops the row, then its state file. A file that cannot be removed
// is logged and left behind.
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	c, err := s.Creds.Delete(ctx, id)
	if err != nil {
		return err
	}
	path := ResolvePath(s.CookiesDir, c.Ref)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Ctx(ctx).Warn().Err(err).Msgf("credential %d deleted but %s was not", id, path)
	}
	return nil
}

// Stats tallies credentials by platform and by their last recorded status.
// It never opens a session.
func (s *AccountService) Stats(ctx context.Context) (domain.AccountStats, error) {
	counts, err := s.Creds.Counts(ctx)
	if err != nil {
		return domain.AccountStats{}, err
	}
	return domain.TallyAccounts(counts), nil
}

// ImportState replaces the state file of credential id with raw. The stored
// status is left as is until the next validation.
func (s *AccountService) ImportState(ctx context.Context, id int64, raw []byte) (*domain.Credential, error) {
	c, err := s.Creds.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	path, err := s.statePath(c.Ref)
	if err != nil {
		return nil, err
	}
	if err := s.States.Replace(path, raw); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Msgf("state file of %s account %q replaced", c.Platform, c.Label)
	return c, nil
}

// ExportState returns the state file of credential id and its file name.
func (s *AccountService) ExportState(ctx context.Context, id int64) (string, []byte, error) {
	c, err := s.Creds.Get(ctx, id)
	if err != nil {
		return "", nil, err
	}
	path, err := s.statePath(c.Ref)
	if err != nil {
		return "", nil, err
	}
	raw, err := s.States.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, &domain.NotFoundError{Kind: "state file", ID: c.Ref}
	}
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(path), raw, nil
}

// statePath resolves ref and refuses any path outside CookiesDir.
func (s *AccountService) statePath(ref string) (string, error) {
	root, err := filepath.Abs(s.CookiesDir)
	if err != nil {
		return "", errors.WithStack(err)
	}
	path, err := filepath.Abs(ResolvePath(root, ref))
	if err != nil {
		return "", errors.WithStack(err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &domain.ValidationError{Field: "credential_ref", Reason: "points outside the credential directory"}
	}
	return path, nil
}

func (s *AccountService) ListGroups(ctx context.Context) ([]domain.Group, error) {
	return s.Groups.List(ctx)
}

func (s *AccountService) CreateGroup(ctx context.Context, name, description string) (*domain.Group, error) {
	return s.Groups.Create(ctx, name, description)
}

func (s *AccountService) UpdateGroup(ctx context.Context, id int64, name, description string) error {
	return s.Groups.Update(ctx, id, name, description)
}

func (s *AccountService) DeleteGroup(ctx context.Context, id int64) error {
	return s.Groups.Delete(ctx, id)
}

func (s *AccountService) GroupAccounts(ctx context.Context, id int64) ([]domain.Credential, error) {
	if _, err := s.Groups.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.Creds.ListByGroup(ctx, id)
}
