package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
	"omnipost/internal/worker"
)

type TaskService struct {
	Tasks    ports.TaskStore
	Creds    ports.CredentialStore
	Executor *Executor
}

func (s *TaskService) Create(ctx context.Context, t domain.NewTask) (string, error) {
	if strings.TrimSpace(t.Title) == "" {
		return "", &domain.ValidationError{Field: "title", Reason: "title is required"}
	}
	if !t.Platform.Valid() {
		return "", &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform type %d", t.Platform)}
	}
	if _, err := t.Schedule.PublishTimes(len(t.Files), time.Time{}); err != nil {
		return "", err
	}
	return s.Tasks.Create(ctx, t)
}

func (s *TaskService) List(ctx context.Context) ([]domain.Task, error) {
	return s.Tasks.List(ctx)
}

func (s *TaskService) Get(ctx context.Context, id string) (*domain.Task, error) {
	return s.Tasks.Get(ctx, id)
}

// Update is the caller-facing status write.
func (s *TaskService) Update(ctx context.Context, id string, status domain.TaskStatus, progress *int) error {
	if !status.Valid() {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if progress != nil && (*progress < 0 || *progress > 100) {
		return &domain.ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	return s.Tasks.UpdateStatus(ctx, id, domain.TaskUpdate{Status: status, Progress: progress})
}

func (s *TaskService) Delete(ctx context.Context, id string) error {
	return s.Tasks.Delete(ctx, id)
}

// Start publishes a stored task with payload, or with the task's retained
// payload when payload is nil. Only waiting tasks start.
func (s *TaskService) Start(ctx context.Context, id string, payload *domain.PublishPayload) (*worker.Handle, error) {
	t, err := s.Tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case t.Status.Terminal():
		return nil, errors.Wrapf(domain.ErrTerminal, "task %s is %s", id, t.Status)
	case t.Status != domain.StatusWaiting:
		return nil, errors.Wrapf(domain.ErrConflict, "task %s is already %s", id, t.Status)
	}
	p := t.ReplayPayload()
	if payload != nil {
		p = *payload
	}
	if p.AccountList, err = s.matchingAccounts(ctx, p.Type, p.AccountList); err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().Str("task_id", id).Msgf("starting task with %d accounts", len(p.AccountList))
	return s.Executor.Start(id, p), nil
}

// Publish creates a task for payload and starts it.
func (s *TaskService) Publish(ctx context.Context, payload domain.PublishPayload) (string, *worker.Handle, error) {
	if err := validatePayload(payload); err != nil {
		return "", nil, err
	}
	accounts, err := s.matchingAccounts(ctx, payload.Type, payload.AccountList)
	if err != nil {
		return "", nil, err
	}
	payload.AccountList = accounts

	id, err := s.Create(ctx, domain.NewTask{
		Title:    payload.Title,
		Platform: payload.Type,
		Files:    payload.FileList,
		Accounts: payload.AccountList,
		Schedule: payload.Schedule(),
		Payload:  &payload,
	})
	if err != nil {
		return "", nil, err
	}
	return id, s.Executor.Start(id, payload), nil
}

type BatchResult struct {
	TaskID string `json:"task_id,omitempty"`
	Title  string `json:"title"`
	Error  string `json:"error,omitempty"`
}

// PublishBatch publishes every payload independently. One bad payload does
// not stop the rest.
func (s *TaskService) PublishBatch(ctx context.Context, payloads []domain.PublishPayload) []BatchResult {
	out := make([]BatchResult, 0, len(payloads))
	for _, p := range payloads {
		id, _, err := s.Publish(ctx, p)
		r := BatchResult{TaskID: id, Title: p.Title}
		if err != nil {
			r.Error = err.Error()
			log.Ctx(ctx).Warn().Err(err).Msgf("batch item %q rejected", p.Title)
		}
		out = append(out, r)
	}
	return out
}

func validatePayload(p domain.PublishPayload) error {
	switch {
	case !p.Type.Valid():
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform type %d", p.Type)}
	case strings.TrimSpace(p.Title) == "":
		return &domain.ValidationError{Field: "title", Reason: "title is required"}
	case len(p.FileList) == 0:
		return &domain.ValidationError{Field: "fileList", Reason: "at least one file is required"}
	case len(p.AccountList) == 0:
		return &domain.ValidationError{Field: "accountList", Reason: "at least one account is required"}
	}
	return nil
}

// matchingAccounts keeps the refs whose stored credential belongs to
// platform. An empty result rejects the dispatch.
func (s *TaskService) matchingAccounts(ctx context.Context, platform domain.Platform, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		c, err := s.Creds.GetByRef(ctx, filepath.Base(ref))
		if errors.Is(err, domain.ErrNotFound) {
			log.Ctx(ctx).Warn().Str("ref", ref).Msg("account not registered, skipping")
			continue
		}
		if err != nil {
			return nil, err
		}
		if c.Platform != platform {
			log.Ctx(ctx).Warn().Str("ref", ref).Msgf("account belongs to %s, not %s, skipping", c.Platform, platform)
			continue
		}
		out = append(out, ref)
	}
	if len(out) == 0 {
		return nil, &domain.ValidationError{Field: "accountList", Reason: fmt.Sprintf("no %s accounts among %d given", platform, len(refs))}
	}
	return out, nil
}
