package ports

import (
	"context"
	"time"

	"omnipost/internal/domain"
)

// Checker is the credential validation procedure.
type Checker interface {
	Check(ctx context.Context, platform domain.Platform, ref string) (bool, error)
}

// UploadJob is one (file × credential) pair of a task.
type UploadJob struct {
	TaskID      string
	Title       string
	Tags        []string
	FilePath    string
	StatePath   string
	PublishAt   time.Time
	Category    int
	Thumbnail   string
	ProductLink string
	ProductName string
	Draft       bool
}

// Uploader is a platform-specific upload procedure.
type Uploader interface {
	Upload(ctx context.Context, job UploadJob) error
}

type UploaderFunc func(ctx context.Context, job UploadJob) error

func (f UploaderFunc) Upload(ctx context.Context, job UploadJob) error { return f(ctx, job) }
