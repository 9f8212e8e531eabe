// Package browser opens isolated headless Chrome sessions through chromedp.
// Every session owns its own browser process and profile, so nothing leaks
// between two sessions.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"omnipost/internal/config"
	"omnipost/internal/ports"
)

const actionTimeout = 30 * time.Second

var _ ports.SessionProvider = (*Provider)(nil)

type Provider struct {
	cfg config.Browser
}

func New(cfg config.Browser) *Provider {
	return &Provider{cfg: cfg}
}

func (p *Provider) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.cfg.Headless),
		chromedp.Flag("lang", "zh-CN"),
	)
	if p.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.cfg.ExecPath))
	}
	if p.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.cfg.UserAgent))
	}
	return opts
}

// Open starts a browser, seeded with the cookies in statePath when it is set.
// The session outlives ctx; only Close tears it down.
func (p *Provider) Open(ctx context.Context, statePath string) (ports.Session, error) {
	base := context.WithoutCancel(ctx)
	allocCtx, allocCancel := chromedp.NewExecAllocator(base, p.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		changed:     make(chan struct{}),
	}
	chromedp.ListenTarget(tabCtx, s.track)

	// the first Run launches the browser and must not carry a deadline
	if err := chromedp.Run(tabCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	if statePath != "" {
		if err := s.loadState(ctx, statePath); err != nil {
			s.Close()
			return nil, err
		}
	}
	log.Ctx(ctx).Debug().Str("state", statePath).Msg("browser session opened")
	return s, nil
}

type session struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	closeOnce   sync.Once

	mu      sync.Mutex
	frame   cdp.FrameID
	url     string
	changed chan struct{}
}

// track follows the main frame's URL across full loads and same-document
// (hash or history API) navigations. The fragment is kept so the value
// matches document.location.href.
func (s *session) track(ev any) {
	switch e := ev.(type) {
	case *page.EventFrameNavigated:
		if e.Frame.ParentID == "" {
			s.setURL(e.Frame.ID, e.Frame.URL+e.Frame.URLFragment)
		}
	case *page.EventNavigatedWithinDocument:
		s.mu.Lock()
		main := s.frame
		s.mu.Unlock()
		if main != "" && e.FrameID == main {
			s.setURL(main, e.URL)
		}
	}
}

func (s *session) setURL(frame cdp.FrameID, u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
	s.url = u
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *session) current() (string, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.changed
}

// run executes actions bounded by timeout and by the caller's ctx. A deadline
// hit inside the session is reported as ports.ErrWaitTimeout.
func (s *session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	rctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.ErrWaitTimeout
	}
	return err
}

func queryOption(sel ports.Selector) chromedp.QueryOption {
	if sel.Kind == ports.ByXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, actionTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *session) URL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, actionTimeout, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return u, nil
}

func (s *session) FrameURL() string {
	u, _ := s.current()
	return u
}

func (s *session) WaitURL(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		u, changed := s.current()
		if u != "" && match(u) {
			return nil
		}
		select {
		case <-changed:
		case <-deadline.C:
			return ports.ErrWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ctx.Done():
			return fmt.Errorf("session closed: %w", s.ctx.Err())
		}
	}
}

func (s *session) WaitVisible(ctx context.Context, sel ports.Selector, timeout time.Duration) error {
	return s.run(ctx, timeout, chromedp.WaitVisible(sel.Query, queryOption(sel)))
}

func (s *session) Attribute(ctx context.Context, sel ports.Selector, name string) (string, error) {
	var (
		val string
		ok  bool
	)
	if err := s.run(ctx, actionTimeout, chromedp.AttributeValue(sel.Query, name, &val, &ok, queryOption(sel))); err != nil {
		return "", fmt.Errorf("read %s of %s: %w", name, sel.Query, err)
	}
	if !ok {
		return "", fmt.Errorf("%s has no %s attribute", sel.Query, name)
	}
	return val, nil
}

func (s *session) SetFiles(ctx context.Context, sel ports.Selector, paths ...string) error {
	return s.run(ctx, actionTimeout, chromedp.SetUploadFiles(sel.Query, paths, queryOption(sel)))
}

func (s *session) Fill(ctx context.Context, sel ports.Selector, text string) error {
	return s.run(ctx, actionTimeout, chromedp.SendKeys(sel.Query, text, queryOption(sel)))
}

func (s *session) Click(ctx context.Context, sel ports.Selector) error {
	return s.run(ctx, actionTimeout, chromedp.Click(sel.Query, queryOption(sel)))
}

func (s *session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = chromedp.Cancel(s.ctx)
		s.tabCancel()
		s.allocCancel()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
