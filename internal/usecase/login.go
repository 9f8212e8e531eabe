package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/platform"
	"omnipost/internal/ports"
	"omnipost/internal/worker"
)

// Terminal frame payloads on a login stream.
const (
	FrameSuccess = "200"
	FrameFailure = "500"
)

type LoginState int

const (
	LoginStarted LoginState = iota
	LoginArtifactEmitted
	LoginCompleted
	LoginTimedOut
	LoginFailed
)

func (s LoginState) String() string {
	switch s {
	case LoginStarted:
		return "started"
	case LoginArtifactEmitted:
		return "artifact_emitted"
	case LoginCompleted:
		return "completed"
	case LoginTimedOut:
		return "timed_out"
	case LoginFailed:
		return "failed"
	}
	return fmt.Sprintf("LoginState(%d)", int(s))
}

type LoginRequest struct {
	Platform domain.Platform
	Label    string
	Group    string
}

// LoginStream carries at most one artifact frame followed by exactly one
// terminal frame, then closes. Sends never block: the buffer holds both.
type LoginStream struct {
	ID      string
	Request LoginRequest

	frames chan string
	handle *worker.Handle

	mu    sync.Mutex
	state LoginState
	ended bool
}

func newLoginStream(req LoginRequest) *LoginStream {
	return &LoginStream{Request: req, frames: make(chan string, 2)}
}

func (s *LoginStream) Frames() <-chan string { return s.frames }

func (s *LoginStream) Done() <-chan struct{} { return s.handle.Done() }

func (s *LoginStream) Err() error { return s.handle.Err() }

func (s *LoginStream) State() LoginState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *LoginStream) emitArtifact(artifact string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.state != LoginStarted {
		return
	}
	s.frames <- artifact
	s.state = LoginArtifactEmitted
}

func (s *LoginStream) finish(frame string, state LoginState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.frames <- frame
	s.state = state
	s.ended = true
	close(s.frames)
}

type Orchestrator struct {
	Sessions   ports.SessionProvider
	Table      platform.Table
	Checker    ports.Checker
	Creds      ports.CredentialStore
	Groups     ports.GroupStore
	Registry   *Registry
	Workers    *worker.Supervisor
	CookiesDir string
	Timeout    time.Duration
	QRWait     time.Duration
	Now        func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func newStateRef() string {
	id, err := uuid.NewUUID()
	if err != nil {
		id = uuid.New()
	}
	return id.String() + ".json"
}

// Begin validates req, registers a stream and runs the login in the
// background. Failures after this point arrive as the terminal frame.
func (o *Orchestrator) Begin(ctx context.Context, req LoginRequest) (*LoginStream, error) {
	req.Label = strings.TrimSpace(req.Label)
	req.Group = strings.TrimSpace(req.Group)
	if !req.Platform.Valid() {
		return nil, &domain.ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform type %d", req.Platform)}
	}
	if req.Label == "" {
		return nil, &domain.ValidationError{Field: "id", Reason: "account name is required"}
	}
	spec, err := o.Table.Lookup(req.Platform)
	if err != nil {
		return nil, err
	}

	stream := newLoginStream(req)
	id := o.Registry.Add(stream)
	log.Ctx(ctx).Info().Str("session_id", id).Msgf("login started for %s account %q", req.Platform, req.Label)

	stream.handle = o.Workers.Go("login "+id, func(ctx context.Context) error {
		defer o.Registry.Remove(id)
		ctx = log.Ctx(ctx).With().Str("session_id", id).Str("platform", req.Platform.String()).Logger().WithContext(ctx)
		err := o.run(ctx, stream, spec.Login)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msgf("login ended in %s", stream.State())
		}
		return err
	})
	return stream, nil
}

func (o *Orchestrator) run(ctx context.Context, stream *LoginStream, page platform.LoginPage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
		if err != nil {
			stream.finish(FrameFailure, LoginFailed)
		}
	}()

	s, err := o.Sessions.Open(ctx, "")
	if err != nil {
		return err
	}
	defer s.Close()

	artifact, err := o.challenge(ctx, s, page)
	if err != nil {
		return errors.Wrap(err, "extract login artifact")
	}
	// compare against the same source WaitURL reads, never the live location
	initial := s.FrameURL()
	stream.emitArtifact(artifact)

	err = s.WaitURL(ctx, func(u string) bool { return u != initial }, o.Timeout)
	if errors.Is(err, ports.ErrWaitTimeout) {
		stream.finish(FrameFailure, LoginTimedOut)
		return domain.ErrSessionTimeout
	}
	if err != nil {
		return err
	}

	ref := newStateRef()
	path := filepath.Join(o.CookiesDir, ref)
	if err := os.MkdirAll(o.CookiesDir, 0o755); err != nil {
		return errors.WithStack(err)
	}
	if err := s.SaveState(ctx, path); err != nil {
		return errors.Wrap(err, "persist session state")
	}
	s.Close()

	if err := o.issue(ctx, stream.Request, ref); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			log.Ctx(ctx).Warn().Err(rmErr).Msgf("orphan state file %s left behind", path)
		}
		return err
	}
	stream.finish(FrameSuccess, LoginCompleted)
	log.Ctx(ctx).Info().Msgf("%s account %q logged in", stream.Request.Platform, stream.Request.Label)
	return nil
}

func (o *Orchestrator) challenge(ctx context.Context, s ports.Session, page platform.LoginPage) (string, error) {
	if err := s.Navigate(ctx, page.URL); err != nil {
		return "", err
	}
	for _, step := range page.Steps {
		if err := s.WaitVisible(ctx, step, o.QRWait); err != nil {
			return "", err
		}
		if err := s.Click(ctx, step); err != nil {
			return "", err
		}
	}
	if err := s.WaitVisible(ctx, page.QRCode, o.QRWait); err != nil {
		return "", err
	}
	return s.Attribute(ctx, page.QRCode, page.QRAttr)
}

// issue validates the freshly saved state and records the credential.
func (o *Orchestrator) issue(ctx context.Context, req LoginRequest, ref string) error {
	ok, err := o.Checker.Check(ctx, req.Platform, ref)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Errorf("%s rejected the new session for %q", req.Platform, req.Label)
	}

	var groupID *int64
	if req.Group != "" {
		id, err := o.Groups.Ensure(ctx, req.Group)
		if err != nil {
			return err
		}
		groupID = &id
	}
	_, err = o.Creds.Upsert(ctx, domain.IssuedCredential{
		Platform:    req.Platform,
		Label:       req.Label,
		Ref:         ref,
		GroupID:     groupID,
		ValidatedAt: o.now(),
	})
	return err
}
