package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
	"omnipost/internal/worker"
)

// Executor runs publish tasks on supervised background workers. Within a
// task, (file × account) pairs are uploaded one at a time, files outermost.
type Executor struct {
	Tasks      ports.TaskStore
	Uploaders  map[domain.Platform]ports.Uploader
	Workers    *worker.Supervisor
	VideosDir  string
	CookiesDir string
	Now        func() time.Time
}

// NewExecutor refuses an uploader table that does not cover every platform.
func NewExecutor(tasks ports.TaskStore, uploaders map[domain.Platform]ports.Uploader, workers *worker.Supervisor, videosDir, cookiesDir string) (*Executor, error) {
	var missing []string
	for _, p := range domain.Platforms {
		if uploaders[p] == nil {
			missing = append(missing, p.String())
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no uploader for %s", strings.Join(missing, ", "))
	}
	return &Executor{
		Tasks:      tasks,
		Uploaders:  uploaders,
		Workers:    workers,
		VideosDir:  videosDir,
		CookiesDir: cookiesDir,
		Now:        time.Now,
	}, nil
}

// Start runs the task in the background and returns at once.
func (e *Executor) Start(taskID string, payload domain.PublishPayload) *worker.Handle {
	return e.Workers.Go("publish "+taskID, func(ctx context.Context) error {
		return e.Run(ctx, taskID, payload)
	})
}

// Run drives one task to completed or failed. The returned error is the one
// recorded on the task.
func (e *Executor) Run(ctx context.Context, taskID string, payload domain.PublishPayload) error {
	logger := log.Ctx(ctx).With().Str("task_id", taskID).Str("platform", payload.Type.String()).Logger()
	ctx = logger.WithContext(ctx)

	zero := 0
	if err := e.Tasks.UpdateStatus(ctx, taskID, domain.TaskUpdate{Status: domain.StatusUploading, Progress: &zero}); err != nil {
		logger.Error().Err(err).Msg("cannot mark task uploading")
		return err
	}

	err := e.dispatch(ctx, taskID, payload)
	if err != nil {
		logger.Error().Stack().Err(err).Msgf("task %s failed", taskID)
		msg := domain.Summary(err)
		if werr := e.Tasks.UpdateStatus(ctx, taskID, domain.TaskUpdate{Status: domain.StatusFailed, ErrorMessage: &msg}); werr != nil {
			logger.Error().Err(werr).Msg("cannot record task failure")
		}
		return err
	}

	full := 100
	if err := e.Tasks.UpdateStatus(ctx, taskID, domain.TaskUpdate{Status: domain.StatusCompleted, Progress: &full}); err != nil {
		logger.Error().Err(err).Msg("cannot mark task completed")
		return err
	}
	logger.Info().Msgf("task %s completed", taskID)
	return nil
}

func (e *Executor) dispatch(ctx context.Context, taskID string, payload domain.PublishPayload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.ProcedureError{Op: "publish", Err: errors.Errorf("panic: %v", r)}
		}
	}()

	files, err := resolveAll(e.VideosDir, "video", payload.FileList)
	if err != nil {
		return err
	}
	accounts, err := resolveAll(e.CookiesDir, "cookie", payload.AccountList)
	if err != nil {
		return err
	}
	uploader, ok := e.Uploaders[payload.Type]
	if !ok {
		return &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform type %d", payload.Type)}
	}
	times, err := payload.Schedule().PublishTimes(len(files), e.Now())
	if err != nil {
		return err
	}

	total, done := len(files)*len(accounts), 0
	for i, file := range files {
		for _, account := range accounts {
			job := ports.UploadJob{
				TaskID:      taskID,
				Title:       payload.Title,
				Tags:        payload.Tags,
				FilePath:    file,
				StatePath:   account,
				PublishAt:   times[i],
				Category:    payload.Category,
				Thumbnail:   payload.Thumbnail,
				ProductLink: payload.ProductLink,
				ProductName: payload.ProductTitle,
				Draft:       payload.IsDraft,
			}
			if err := uploader.Upload(ctx, job); err != nil {
				return &domain.ProcedureError{
					Op:  fmt.Sprintf("upload %s with %s", filepath.Base(file), filepath.Base(account)),
					Err: errors.WithStack(err),
				}
			}
			done++
			progress := min(done*100/total, 99)
			if err := e.Tasks.UpdateStatus(ctx, taskID, domain.TaskUpdate{Status: domain.StatusUploading, Progress: &progress}); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("progress not recorded")
			}
		}
	}
	return nil
}

// resolveAll checks every reference exists under dir before anything runs.
func resolveAll(dir, kind string, refs []string) ([]string, error) {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		path := ResolvePath(dir, ref)
		if _, err := os.Stat(path); err != nil {
			return nil, &domain.ResourceMissingError{Kind: kind, Path: path}
		}
		out = append(out, path)
	}
	return out, nil
}
