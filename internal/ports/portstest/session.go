// Package portstest provides an in-memory SessionProvider for tests.
package portstest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"omnipost/internal/ports"
)

// Provider hands out scripted Sessions. Configure is applied to every new
// session before Open returns it.
type Provider struct {
	Configure func(s *Session)
	OpenErr   error

	mu       sync.Mutex
	sessions []*Session
	open     int
	maxOpen  int
}

var _ ports.SessionProvider = (*Provider)(nil)

func (p *Provider) Open(ctx context.Context, statePath string) (ports.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	if p.OpenErr != nil {
		p.mu.Unlock()
		return nil, p.OpenErr
	}
	s := NewSession(statePath)
	s.provider = p
	p.sessions = append(p.sessions, s)
	p.open++
	p.maxOpen = max(p.maxOpen, p.open)
	configure := p.Configure
	p.mu.Unlock()

	if configure != nil {
		configure(s)
	}
	return s, nil
}

func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Session(nil), p.sessions...)
}

// OpenCount reports how many sessions are currently not closed.
func (p *Provider) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Provider) MaxOpen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxOpen
}

func (p *Provider) closed() {
	p.mu.Lock()
	p.open--
	p.mu.Unlock()
}

// Session is a fake browser tab. Navigate lands on Redirects[url] when set.
// Selectors are matched by their Query string.
//
// LocationSuffix is appended to what URL reports but not to FrameURL, the way
// a live page's location carries a client-side route that frame navigation
// events do not.
type Session struct {
	StatePath      string
	Redirects      map[string]string
	Visible        map[string]bool
	Attrs          map[string]string
	Fail           map[string]error
	LocationSuffix string

	provider *Provider

	mu      sync.Mutex
	url     string
	changed chan struct{}
	calls   []string
	closed  bool
	saved   []string
}

func NewSession(statePath string) *Session {
	return &Session{
		StatePath: statePath,
		Redirects: map[string]string{},
		Visible:   map[string]bool{},
		Attrs:     map[string]string{},
		Fail:      map[string]error{},
		changed:   make(chan struct{}),
	}
}

func (s *Session) record(call string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
	if s.closed {
		return fmt.Errorf("%s on closed session", call)
	}
	op, _, _ := strings.Cut(call, " ")
	return s.Fail[op]
}

// Advance moves the main frame to url, as a redirect after a QR scan would.
func (s *Session) Advance(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) SavedTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.saved...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.record("navigate " + url); err != nil {
		return err
	}
	landing := url
	if r, ok := s.Redirects[url]; ok {
		landing = r
	}
	s.Advance(landing)
	return nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	if err := s.record("url"); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url + s.LocationSuffix, nil
}

func (s *Session) FrameURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

func (s *Session) WaitURL(ctx context.Context, match func(string) bool, timeout time.Duration) error {
	if err := s.record("waiturl"); err != nil {
		return err
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		u, changed := s.url, s.changed
		s.mu.Unlock()
		if u != "" && match(u) {
			return nil
		}
		select {
		case <-changed:
		case <-deadline.C:
			return ports.ErrWaitTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitVisible answers from Visible without sleeping.
func (s *Session) WaitVisible(ctx context.Context, sel ports.Selector, timeout time.Duration) error {
	if err := s.record("waitvisible " + sel.Query); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Visible[sel.Query] {
		return nil
	}
	return ports.ErrWaitTimeout
}

func (s *Session) Attribute(ctx context.Context, sel ports.Selector, name string) (string, error) {
	if err := s.record("attribute " + sel.Query); err != nil {
		return "", err
	}
	v, ok := s.Attrs[sel.Query+"@"+name]
	if !ok {
		return "", fmt.Errorf("%s has no %s attribute", sel.Query, name)
	}
	return v, nil
}

func (s *Session) SetFiles(ctx context.Context, sel ports.Selector, paths ...string) error {
	return s.record("setfiles " + sel.Query)
}

func (s *Session) Fill(ctx context.Context, sel ports.Selector, text string) error {
	return s.record("fill " + text)
}

func (s *Session) Click(ctx context.Context, sel ports.Selector) error {
	return s.record("click " + sel.Query)
}

func (s *Session) SaveState(ctx context.Context, path string) error {
	if err := s.record("save " + path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(`{"cookies":[]}`), 0o644); err != nil {
		return err
	}
	s.mu.Lock()
	s.saved = append(s.saved, path)
	s.mu.Unlock()
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.calls = append(s.calls, "close")
	s.mu.Unlock()
	if s.provider != nil {
		s.provider.closed()
	}
	return nil
}
