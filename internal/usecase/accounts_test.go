package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipost/internal/domain"
	"omnipost/internal/infra/browser"
)

func newAccountService(t *testing.T, checker *fakeChecker) (*AccountService, stores) {
	t.Helper()
	st := newStores(t)
	return &AccountService{
		Creds:      st.creds,
		Groups:     st.groups,
		Gate:       &Gate{Checker: checker, Creds: st.creds, Cooldown: 5 * time.Minute},
		States:     browser.Files{},
		CookiesDir: t.TempDir(),
	}, st
}

func TestDeleteAccountRemovesStateFile(t *testing.T) {
	ctx := context.Background()
	svc, st := newAccountService(t, &fakeChecker{})
	touch(t, svc.CookiesDir, "x.json")
	c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "x", Ref: "x.json", ValidatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, c.ID))
	_, err = os.Stat(filepath.Join(svc.CookiesDir, "x.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t, svc.Delete(ctx, c.ID), domain.ErrNotFound)
}

func TestDeleteAccountToleratesMissingFile(t *testing.T) {
	ctx := context.Background()
	svc, st := newAccountService(t, &fakeChecker{})
	c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "x", Ref: "gone.json", ValidatedAt: time.Now()})
	require.NoError(t, err)
	assert.NoError(t, svc.Delete(ctx, c.ID))
}

func TestCheckAccountForcesValidation(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{verdict: func(domain.Platform, string) (bool, error) { return false, nil }}
	svc, st := newAccountService(t, checker)
	c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformKuaishou, Label: "k", Ref: "k.json", ValidatedAt: time.Now()})
	require.NoError(t, err)

	got, err := svc.Check(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialInvalid, got.Status)
	assert.EqualValues(t, 1, checker.calls.Load())

	_, err = svc.Check(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListValidatedUsesCooldown(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{}
	svc, st := newAccountService(t, checker)
	_, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformKuaishou, Label: "k", Ref: "k.json", ValidatedAt: time.Now()})
	require.NoError(t, err)
	_, err = st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformBilibili, Label: "b", Ref: "b.json", ValidatedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)

	kuaishou := domain.PlatformKuaishou
	creds, err := svc.ListValidated(ctx, &kuaishou, false)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.EqualValues(t, 0, checker.calls.Load())

	creds, err = svc.ListValidated(ctx, nil, false)
	require.NoError(t, err)
	assert.Len(t, creds, 2)
	assert.Equal(t, []string{"b.json"}, checker.checkedRefs())
}

func TestGroupAccounts(t *testing.T) {
	ctx := context.Background()
	svc, st := newAccountService(t, &fakeChecker{})
	g, err := svc.CreateGroup(ctx, "studio", "")
	require.NoError(t, err)
	_, err = st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "x", Ref: "x.json", GroupID: &g.ID, ValidatedAt: time.Now()})
	require.NoError(t, err)

	members, err := svc.GroupAccounts(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "x", members[0].Label)

	assert.ErrorIs(t, svc.DeleteGroup(ctx, g.ID), domain.ErrGroupInUse)

	_, err = svc.GroupAccounts(ctx, g.ID+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestImportExportState(t *testing.T) {
	ctx := context.Background()
	svc, st := newAccountService(t, &fakeChecker{})
	c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformXiaohongshu, Label: "x", Ref: "x.json", ValidatedAt: time.Now()})
	require.NoError(t, err)

	_, _, err = svc.ExportState(ctx, c.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound, "no file yet")

	blob := []byte(`{"cookies":[{"name":"web_session","value":"v","domain":".xiaohongshu.com","path":"/"}]}`)
	got, err := svc.ImportState(ctx, c.ID, blob)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	name, raw, err := svc.ExportState(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "x.json", name)
	assert.Contains(t, string(raw), "web_session")

	var verr *domain.ValidationError
	_, err = svc.ImportState(ctx, c.ID, []byte(`[1,2]`))
	assert.ErrorAs(t, err, &verr)

	_, err = svc.ImportState(ctx, 999, blob)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = svc.ExportState(ctx, 999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStateTransferStaysInCookiesDir(t *testing.T) {
	ctx := context.Background()
	svc, st := newAccountService(t, &fakeChecker{})
	outside := filepath.Join(filepath.Dir(svc.CookiesDir), "secret.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"cookies":[]}`), 0o644))

	for i, ref := range []string{"../secret.json", "a/../../secret.json", outside, "."} {
		c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "evil" + strconv.Itoa(i), Ref: ref, ValidatedAt: time.Now()})
		require.NoError(t, err)

		var verr *domain.ValidationError
		_, _, err = svc.ExportState(ctx, c.ID)
		assert.ErrorAs(t, err, &verr, ref)
		_, err = svc.ImportState(ctx, c.ID, []byte(`{"cookies":[]}`))
		assert.ErrorAs(t, err, &verr, ref)
	}

	raw, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":[]}`, string(raw))
}

func TestStatsTalliesStoredStatus(t *testing.T) {
	ctx := context.Background()
	checker := &fakeChecker{}
	svc, st := newAccountService(t, checker)
	for _, ic := range []domain.IssuedCredential{
		{Platform: domain.PlatformDouyin, Label: "a", Ref: "a.json"},
		{Platform: domain.PlatformDouyin, Label: "b", Ref: "b.json"},
		{Platform: domain.PlatformKuaishou, Label: "c", Ref: "c.json"},
	} {
		ic.ValidatedAt = time.Now()
		_, err := st.creds.Upsert(ctx, ic)
		require.NoError(t, err)
	}
	b, err := st.creds.GetByRef(ctx, "b.json")
	require.NoError(t, err)
	require.NoError(t, st.creds.SetValidation(ctx, b.ID, domain.CredentialInvalid, time.Now()))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Valid)
	assert.Equal(t, 1, stats.Invalid)
	assert.Equal(t, 2, stats.Platforms[domain.PlatformDouyin.String()])
	assert.Equal(t, 1, stats.Platforms[domain.PlatformKuaishou.String()])
	assert.Equal(t, 0, stats.Platforms[domain.PlatformBilibili.String()])
	assert.EqualValues(t, 0, checker.calls.Load())
}
