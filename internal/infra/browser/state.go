package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"omnipost/internal/domain"
	"omnipost/internal/ports"
)

// State is the on-disk credential blob: the session's cookies.
type State struct {
	Cookies []Cookie `json:"cookies"`
}

type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

func ReadState(path string) (*State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session state %s: %w", path, err)
	}
	return &st, nil
}

// WriteState replaces path atomically so a concurrent reader never sees a
// half-written blob.
func WriteState(path string, st *State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*")
	if err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write session state: %w", err)
	}
	return nil
}

// Files exposes the state file helpers to the account service.
type Files struct{}

var _ ports.StateFiles = Files{}

func (Files) Replace(path string, raw []byte) error {
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return &domain.ValidationError{Field: "file", Reason: "not a session state: " + err.Error()}
	}
	if st.Cookies == nil {
		return &domain.ValidationError{Field: "file", Reason: "session state has no cookies list"}
	}
	return WriteState(path, &st)
}

func (Files) Load(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}
	return raw, nil
}

func (st *State) cookieParams() []*network.CookieParam {
	out := make([]*network.CookieParam, 0, len(st.Cookies))
	for _, c := range st.Cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: network.CookieSameSite(c.SameSite),
		}
		if c.Expires > 0 {
			sec := int64(c.Expires)
			exp := cdp.TimeSinceEpoch(time.Unix(sec, int64((c.Expires-float64(sec))*1e9)))
			p.Expires = &exp
		}
		out = append(out, p)
	}
	return out
}

func fromNetworkCookies(cookies []*network.Cookie) *State {
	st := &State{Cookies: make([]Cookie, 0, len(cookies))}
	for _, c := range cookies {
		st.Cookies = append(st.Cookies, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return st
}

func (s *session) loadState(ctx context.Context, path string) error {
	st, err := ReadState(path)
	if err != nil {
		return err
	}
	if len(st.Cookies) == 0 {
		return nil
	}
	err = s.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(st.cookieParams()).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("restore cookies from %s: %w", path, err)
	}
	return nil
}

func (s *session) SaveState(ctx context.Context, path string) error {
	var cookies []*network.Cookie
	err := s.run(ctx, actionTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("read cookies: %w", err)
	}
	return WriteState(path, fromNetworkCookies(cookies))
}
