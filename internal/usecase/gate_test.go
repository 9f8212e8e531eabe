package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnipost/internal/domain"
)

func TestGateCooldownSkipsCheck(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	checker := &fakeChecker{}
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gate := &Gate{Checker: checker, Creds: st.creds, Cooldown: 5 * time.Minute, Now: func() time.Time { return clock }}

	c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "a", Ref: "a.json", ValidatedAt: clock})
	require.NoError(t, err)

	clock = clock.Add(4*time.Minute + 59*time.Second)
	status, err := gate.Status(ctx, *c, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialValid, status)
	assert.EqualValues(t, 0, checker.calls.Load(), "inside the cooldown the procedure is not invoked")

	status, err = gate.Status(ctx, *c, true)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialValid, status)
	assert.EqualValues(t, 1, checker.calls.Load(), "force always checks")
}

func TestGateChecksAfterCooldownAndWritesBack(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	checker := &fakeChecker{verdict: func(domain.Platform, string) (bool, error) { return false, nil }}
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gate := &Gate{Checker: checker, Creds: st.creds, Cooldown: 5 * time.Minute, Now: func() time.Time { return clock }}

	c, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformTencent, Label: "a", Ref: "a.json", ValidatedAt: clock})
	require.NoError(t, err)

	clock = clock.Add(5 * time.Minute)
	status, err := gate.Status(ctx, *c, false)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialInvalid, status)

	got, err := st.creds.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CredentialInvalid, got.Status)
	assert.Equal(t, clock.UnixMilli(), got.LastValidatedAt.UnixMilli())
}

func TestGateRefreshKeepsCachedStatusOnError(t *testing.T) {
	ctx := context.Background()
	st := newStores(t)
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	checker := &fakeChecker{verdict: func(_ domain.Platform, ref string) (bool, error) {
		if ref == "broken.json" {
			return false, errors.New("browser crashed")
		}
		return false, nil
	}}
	gate := &Gate{Checker: checker, Creds: st.creds, Cooldown: 5 * time.Minute, Now: func() time.Time { return clock }}

	old := clock.Add(-time.Hour)
	broken, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "broken", Ref: "broken.json", ValidatedAt: old})
	require.NoError(t, err)
	expired, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "expired", Ref: "expired.json", ValidatedAt: old})
	require.NoError(t, err)
	fresh, err := st.creds.Upsert(ctx, domain.IssuedCredential{Platform: domain.PlatformDouyin, Label: "fresh", Ref: "fresh.json", ValidatedAt: clock})
	require.NoError(t, err)

	out := gate.Refresh(ctx, []domain.Credential{*broken, *expired, *fresh}, false)
	require.Len(t, out, 3)
	assert.Equal(t, domain.CredentialValid, out[0].Status, "check error keeps the cached status")
	assert.Equal(t, domain.CredentialInvalid, out[1].Status)
	assert.Equal(t, domain.CredentialValid, out[2].Status, "inside cooldown")
	assert.EqualValues(t, 2, checker.calls.Load())
	assert.ElementsMatch(t, []string{"broken.json", "expired.json"}, checker.checkedRefs())

	got, err := st.creds.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, old.UnixMilli(), got.LastValidatedAt.UnixMilli(), "failed check writes nothing")
}
