package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"omnipost/internal/domain"
	"omnipost/internal/infra/sqlstore"
	"omnipost/internal/ports"
	"omnipost/internal/worker"
)

type stores struct {
	tasks  *sqlstore.TaskStore
	creds  *sqlstore.CredentialStore
	groups *sqlstore.GroupStore
}

func newStores(t *testing.T) stores {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := sqlstore.Open(context.Background(), "file:usecase_"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return stores{
		tasks:  sqlstore.NewTaskStore(db),
		creds:  sqlstore.NewCredentialStore(db),
		groups: sqlstore.NewGroupStore(db),
	}
}

// touch creates empty files named names under dir.
func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("{}"), 0o644))
	}
}

// fakeChecker counts calls and the peak number running at once.
type fakeChecker struct {
	verdict func(p domain.Platform, ref string) (bool, error)
	delay   time.Duration

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu   sync.Mutex
	refs []string
}

var _ ports.Checker = (*fakeChecker)(nil)

func (f *fakeChecker) Check(ctx context.Context, p domain.Platform, ref string) (bool, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.peak.Load()
		if n <= old || f.peak.CompareAndSwap(old, n) {
			break
		}
	}
	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.verdict == nil {
		return true, nil
	}
	return f.verdict(p, ref)
}

func (f *fakeChecker) checkedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.refs...)
}

// recordingUploader remembers every job in call order.
type recordingUploader struct {
	mu   sync.Mutex
	jobs []ports.UploadJob
	fail func(job ports.UploadJob) error
}

func (u *recordingUploader) Upload(ctx context.Context, job ports.UploadJob) error {
	u.mu.Lock()
	u.jobs = append(u.jobs, job)
	fail := u.fail
	u.mu.Unlock()
	if fail != nil {
		return fail(job)
	}
	return nil
}

func (u *recordingUploader) Jobs() []ports.UploadJob {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]ports.UploadJob(nil), u.jobs...)
}

func uploadersFor(u ports.Uploader) map[domain.Platform]ports.Uploader {
	out := map[domain.Platform]ports.Uploader{}
	for _, p := range domain.Platforms {
		out[p] = u
	}
	return out
}

func waitHandle(t *testing.T, h *worker.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s did not finish", h.Name())
	}
}
