package api

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipost/internal/domain"
	"omnipost/internal/infra/browser"
	"omnipost/internal/infra/sqlstore"
	"omnipost/internal/platform"
	"omnipost/internal/ports"
	"omnipost/internal/ports/portstest"
	"omnipost/internal/usecase"
	"omnipost/internal/worker"
)

type checkerFunc func(ctx context.Context, p domain.Platform, ref string) (bool, error)

func (f checkerFunc) Check(ctx context.Context, p domain.Platform, ref string) (bool, error) {
	return f(ctx, p, ref)
}

type fixture struct {
	db       *sql.DB
	cookies  string
	srv      *httptest.Server
	provider *portstest.Provider
	creds    *sqlstore.CredentialStore
	workers  *worker.Supervisor
}

const qrData = "data:image/png;base64,QR"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := sqlstore.Open(context.Background(), "file:api_"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	cookies, videos := filepath.Join(root, "cookiesFile"), filepath.Join(root, "videoFile")
	tasks, creds, groups := sqlstore.NewTaskStore(db), sqlstore.NewCredentialStore(db), sqlstore.NewGroupStore(db)
	workers := worker.NewSupervisor(context.Background())

	uploaders := map[domain.Platform]ports.Uploader{}
	for _, p := range domain.Platforms {
		uploaders[p] = ports.UploaderFunc(func(context.Context, ports.UploadJob) error { return nil })
	}
	exec, err := usecase.NewExecutor(tasks, uploaders, workers, videos, cookies)
	require.NoError(t, err)

	checker := checkerFunc(func(context.Context, domain.Platform, string) (bool, error) { return true, nil })
	qr := platform.Default()[domain.PlatformDouyin].Login.QRCode.Query
	provider := &portstest.Provider{Configure: func(s *portstest.Session) {
		s.Visible[qr] = true
		s.Attrs[qr+"@src"] = qrData
	}}
	registry := usecase.NewRegistry()

	server := NewServer(
		&usecase.TaskService{Tasks: tasks, Creds: creds, Executor: exec},
		&usecase.AccountService{
			Creds: creds, Groups: groups, CookiesDir: cookies,
			Gate: &usecase.Gate{Checker: checker, Creds: creds, Cooldown: 5 * time.Minute},
		},
		&usecase.Orchestrator{
			Sessions: provider, Table: platform.Default(), Checker: checker,
			Creds: creds, Groups: groups, Registry: registry, Workers: workers,
			CookiesDir: cookies, Timeout: 5 * time.Second, QRWait: time.Second,
		},
	)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &fixture{db: db, cookies: cookies, srv: srv, provider: provider, creds: creds, workers: workers}
}

type reply struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, reply) {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, resp.StatusCode, out.Code)
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, status)
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)

	status, out := f.do(t, http.MethodPost, "/tasks", `{"type":3,"title":"clip","fileList":["a.mp4"],"accountList":["x.json"]}`)
	require.Equal(t, http.StatusCreated, status)
	var created struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(out.Data, &created))
	assert.True(t, strings.HasPrefix(created.TaskID, "task_"))

	status, out = f.do(t, http.MethodGet, "/tasks/"+created.TaskID, "")
	require.Equal(t, http.StatusOK, status)
	var task domain.Task
	require.NoError(t, json.Unmarshal(out.Data, &task))
	assert.Equal(t, domain.StatusWaiting, task.Status)
	assert.Equal(t, []domain.Platform{domain.PlatformDouyin}, task.Platforms)

	status, _ = f.do(t, http.MethodPatch, "/tasks/"+created.TaskID, `{"status":"failed"}`)
	require.Equal(t, http.StatusOK, status)
	status, out = f.do(t, http.MethodPatch, "/tasks/"+created.TaskID, `{"status":"uploading","progress":10}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, out.Msg)

	status, _ = f.do(t, http.MethodPost, "/tasks/"+created.TaskID+"/start", "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = f.do(t, http.MethodDelete, "/tasks/"+created.TaskID, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodGet, "/tasks/"+created.TaskID, "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestCreateTaskValidation(t *testing.T) {
	f := newFixture(t)
	status, out := f.do(t, http.MethodPost, "/tasks", `{"type":7,"title":"x"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out.Msg, "type")

	status, _ = f.do(t, http.MethodPost, "/tasks", `{"type":`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPublishWithForeignAccountIsRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.creds.Upsert(context.Background(), domain.IssuedCredential{Platform: domain.PlatformKuaishou, Label: "k", Ref: "k.json", ValidatedAt: time.Now()})
	require.NoError(t, err)

	status, out := f.do(t, http.MethodPost, "/publish", `{"type":3,"title":"t","fileList":["a.mp4"],"accountList":["k.json"]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out.Msg, "accountList")
}

func TestAccountRoutes(t *testing.T) {
	f := newFixture(t)
	c, err := f.creds.Upsert(context.Background(), domain.IssuedCredential{Platform: domain.PlatformBilibili, Label: "b", Ref: "b.json", ValidatedAt: time.Now()})
	require.NoError(t, err)

	status, out := f.do(t, http.MethodGet, "/accounts?platform=bilibili", "")
	require.Equal(t, http.StatusOK, status)
	var creds []domain.Credential
	require.NoError(t, json.Unmarshal(out.Data, &creds))
	require.Len(t, creds, 1)
	assert.Equal(t, "b", creds[0].Label)

	status, _ = f.do(t, http.MethodGet, "/accounts?platform=myspace", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodGet, "/accounts/valid?force=true", "")
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodPut, "/accounts/"+itoa(c.ID), `{"type":5,"label":"renamed"}`)
	assert.Equal(t, http.StatusOK, status)

	status, _ = f.do(t, http.MethodGet, "/accounts/abc/status", "")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(t, http.MethodDelete, "/accounts/"+itoa(c.ID), "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = f.do(t, http.MethodDelete, "/accounts/"+itoa(c.ID), "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStateFileRoutes(t *testing.T) {
	f := newFixture(t)
	c, err := f.creds.Upsert(context.Background(), domain.IssuedCredential{Platform: domain.PlatformKuaishou, Label: "k", Ref: "k.json", ValidatedAt: time.Now()})
	require.NoError(t, err)
	path := "/accounts/" + itoa(c.ID) + "/cookie"

	status, _ := f.do(t, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(t, http.MethodPost, path, `{"cookies":[{"name":"userId","value":"42","domain":".kuaishou.com","path":"/"}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.FileExists(t, filepath.Join(f.cookies, "k.json"))

	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename=k.json`)
	var st browser.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	require.Len(t, st.Cookies, 1)
	assert.Equal(t, "userId", st.Cookies[0].Name)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "k.json")
	require.NoError(t, err)
	_, err = part.Write([]byte(`{"cookies":[]}`))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	resp, err = http.Post(f.srv.URL+path, mw.FormDataContentType(), &form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, _ = f.do(t, http.MethodPost, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, path, "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/accounts/999/cookie", `{"cookies":[]}`)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = f.do(t, http.MethodGet, "/accounts/999/cookie", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStateFileRoutesRejectTraversal(t *testing.T) {
	f := newFixture(t)
	c, err := f.creds.Upsert(context.Background(), domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "d", Ref: "../../etc/passwd", ValidatedAt: time.Now()})
	require.NoError(t, err)

	status, _ := f.do(t, http.MethodGet, "/accounts/"+itoa(c.ID)+"/cookie", "")
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = f.do(t, http.MethodPost, "/accounts/"+itoa(c.ID)+"/cookie", `{"cookies":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAccountStats(t *testing.T) {
	f := newFixture(t)
	_, err := f.creds.Upsert(context.Background(), domain.IssuedCredential{Platform: domain.PlatformTencent, Label: "w", Ref: "w.json", ValidatedAt: time.Now()})
	require.NoError(t, err)

	status, out := f.do(t, http.MethodGet, "/accounts/stats", "")
	require.Equal(t, http.StatusOK, status)
	var stats domain.AccountStats
	require.NoError(t, json.Unmarshal(out.Data, &stats))
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Valid)
	assert.Equal(t, 1, stats.Platforms[domain.PlatformTencent.String()])
	assert.Len(t, stats.Platforms, len(domain.Platforms))
}

func TestGroupRoutes(t *testing.T) {
	f := newFixture(t)
	status, out := f.do(t, http.MethodPost, "/groups", `{"name":"studio","description":"main"}`)
	require.Equal(t, http.StatusCreated, status)
	var g domain.Group
	require.NoError(t, json.Unmarshal(out.Data, &g))

	status, _ = f.do(t, http.MethodPost, "/groups", `{"name":"studio"}`)
	assert.Equal(t, http.StatusConflict, status)

	_, err := f.creds.Upsert(context.Background(), domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "d", Ref: "d.json", GroupID: &g.ID, ValidatedAt: time.Now()})
	require.NoError(t, err)

	status, out = f.do(t, http.MethodGet, "/groups/"+itoa(g.ID)+"/accounts", "")
	require.Equal(t, http.StatusOK, status)
	var members []domain.Credential
	require.NoError(t, json.Unmarshal(out.Data, &members))
	assert.Len(t, members, 1)

	status, _ = f.do(t, http.MethodDelete, "/groups/"+itoa(g.ID), "")
	assert.Equal(t, http.StatusConflict, status)
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Close())
	status, _ := f.do(t, http.MethodGet, "/tasks", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestLoginStreamsArtifactThenResult(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/login?type=3&id=alice&group=studio")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(resp)
	assert.Equal(t, qrData, next(t, events))
	f.provider.Sessions()[0].Advance("https://creator.douyin.com/creator-micro/home")
	assert.Equal(t, "200", next(t, events))

	creds, err := f.creds.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "alice", creds[0].Label)
	assert.NotNil(t, creds[0].GroupID)
}

func TestLoginRejectsUnknownPlatform(t *testing.T) {
	f := newFixture(t)
	status, _ := f.do(t, http.MethodGet, "/login?type=99&id=a", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, f.provider.Sessions())
}

func readEvents(resp *http.Response) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				out <- data
			}
		}
	}()
	return out
}

func next(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case e := <-events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return ""
	}
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
