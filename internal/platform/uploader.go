package platform

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

const (
	defaultUploadWait  = 10 * time.Minute
	defaultPublishWait = 60 * time.Second
	scheduleLayout     = "2006-01-02 15:04"
)

// PageUploader publishes one file for one account by driving UploadPage in a
// fresh session seeded with the account's state.
type PageUploader struct {
	Platform domain.Platform
	Page     UploadPage
	Sessions ports.SessionProvider
}

var _ ports.Uploader = (*PageUploader)(nil)

func (u *PageUploader) Upload(ctx context.Context, job ports.UploadJob) error {
	logger := log.Ctx(ctx).With().
		Str("platform", u.Platform.String()).
		Str("task_id", job.TaskID).
		Str("file", job.FilePath).
		Logger()

	s, err := u.Sessions.Open(ctx, job.StatePath)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer s.Close()

	page := u.Page
	uploadWait := page.UploadWait
	if uploadWait == 0 {
		uploadWait = defaultUploadWait
	}

	if err := s.Navigate(ctx, page.URL); err != nil {
		return err
	}
	logger.Info().Msgf("uploading %q", job.Title)
	if err := s.SetFiles(ctx, page.FileInput, job.FilePath); err != nil {
		return fmt.Errorf("attach file: %w", err)
	}

	if !page.Title.IsZero() {
		if err := s.WaitVisible(ctx, page.Title, uploadWait); err != nil {
			return fmt.Errorf("wait for form: %w", err)
		}
		if err := s.Fill(ctx, page.Title, job.Title); err != nil {
			return fmt.Errorf("fill title: %w", err)
		}
	}
	if !page.Tags.IsZero() {
		for _, tag := range limitTags(job.Tags, page.MaxTags) {
			if err := s.Fill(ctx, page.Tags, "#"+tag+" "); err != nil {
				return fmt.Errorf("add tag %q: %w", tag, err)
			}
		}
	}

	if !job.PublishAt.IsZero() {
		if page.ScheduleInput.IsZero() {
			logger.Warn().Time("publish_at", job.PublishAt).Msg("platform has no scheduling form, publishing now")
		} else {
			if !page.ScheduleToggle.IsZero() {
				if err := s.Click(ctx, page.ScheduleToggle); err != nil {
					return fmt.Errorf("enable schedule: %w", err)
				}
			}
			if err := s.Fill(ctx, page.ScheduleInput, job.PublishAt.Format(scheduleLayout)); err != nil {
				return fmt.Errorf("set publish time: %w", err)
			}
		}
	}

	if job.Draft {
		logger.Info().Msg("draft requested, leaving form unsubmitted")
		return s.SaveState(ctx, job.StatePath)
	}

	if err := s.Click(ctx, page.Publish); err != nil {
		return fmt.Errorf("click publish: %w", err)
	}
	if !page.Confirm.IsZero() {
		if err := s.WaitVisible(ctx, page.Confirm, 3*time.Second); err == nil {
			if err := s.Click(ctx, page.Confirm); err != nil {
				return fmt.Errorf("confirm publish: %w", err)
			}
		}
	}

	publishWait := page.PublishWait
	if publishWait == 0 {
		publishWait = defaultPublishWait
	}
	if page.DonePrefix != "" {
		err := s.WaitURL(ctx, func(url string) bool { return strings.HasPrefix(url, page.DonePrefix) }, publishWait)
		if err != nil {
			return fmt.Errorf("wait for publish confirmation: %w", err)
		}
	} else {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(publishWait):
		}
	}
	logger.Info().Msg("published")

	// refreshed cookies extend the account's session
	return s.SaveState(ctx, job.StatePath)
}

func limitTags(tags []string, max int) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(t, "#"))
		if t == "" {
			continue
		}
		out = append(out, t)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// Uploaders builds one PageUploader per platform in t.
func (t Table) Uploaders(sessions ports.SessionProvider) map[domain.Platform]ports.Uploader {
	out := make(map[domain.Platform]ports.Uploader, len(t))
	for p, spec := range t {
		out[p] = &PageUploader{Platform: p, Page: spec.Upload, Sessions: sessions}
	}
	return out
}
