package ports

import (
	"context"
	"errors"
	"time"
)

// ErrWaitTimeout is returned by the wait operations of a Session when the
// condition did not hold within the bound.
var ErrWaitTimeout = errors.New("wait timed out")

// SessionProvider opens isolated automation sessions. Nothing is shared
// between two sessions.
type SessionProvider interface {
	// Open starts a session seeded from the state file at statePath, or a
	// blank one when statePath is empty.
	Open(ctx context.Context, statePath string) (Session, error)
}

// Session is one isolated browser. Close is idempotent and must be called on
// every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// FrameURL is the main frame's URL as last reported by navigation
	// events, fragment included. It is the value WaitURL matches against and
	// may lag URL until the page settles.
	FrameURL() string
	// WaitURL blocks until the main frame's URL satisfies match.
	WaitURL(ctx context.Context, match func(string) bool, timeout time.Duration) error
	WaitVisible(ctx context.Context, sel Selector, timeout time.Duration) error
	Attribute(ctx context.Context, sel Selector, name string) (string, error)
	SetFiles(ctx context.Context, sel Selector, paths ...string) error
	Fill(ctx context.Context, sel Selector, text string) error
	Click(ctx context.Context, sel Selector) error
	SaveState(ctx context.Context, path string) error
	Close() error
}

// StateFiles reads and replaces credential blobs on disk.
type StateFiles interface {
	// Replace checks that raw decodes as a session state and swaps it in at
	// path in one step.
	Replace(path string, raw []byte) error
	Load(path string) ([]byte, error)
}

type SelectorKind int

const (
	ByCSS SelectorKind = iota
	ByXPath
)

type Selector struct {
	Kind  SelectorKind
	Query string
}

func CSS(q string) Selector { return Selector{Kind: ByCSS, Query: q} }

func XPath(q string) Selector { return Selector{Kind: ByXPath, Query: q} }

// Text matches any element whose own text contains one of the given strings.
func Text(texts ...string) Selector {
	q := "//*["
	for i, t := range texts {
		if i > 0 {
			q += " or "
		}
		q += "contains(text(), " + xpathLiteral(t) + ")"
	}
	return XPath(q + "]")
}

func (s Selector) IsZero() bool { return s.Query == "" }

func xpathLiteral(s string) string {
	for _, r := range s {
		if r == '"' {
			return "'" + s + "'"
		}
	}
	return `"` + s + `"`
}
