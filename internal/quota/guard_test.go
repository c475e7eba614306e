package quota_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/docrender/internal/quota"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 20, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func seededGuard(t *testing.T, pages, aiCalls int64) *quota.Guard {
	t.Helper()
	st := store.NewMemoryStore(clock)
	require.NoError(t, st.IncrementUsage(context.Background(), "owner-1", "2026-05",
		store.UsageDelta{Pages: pages, AICalls: aiCalls}))
	return quota.NewGuard(st, clock)
}

func TestCheckAndReserve_RejectsOverLimit(t *testing.T) {
	g := seededGuard(t, 95, 0)
	plan := models.Plan{Name: "free", PagesPerMonth: 100}

	d, err := g.CheckAndReserve(context.Background(), "owner-1", plan, models.JobKindRender, 10)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, int64(5), d.Remaining)
	assert.Equal(t, int64(10), d.Requested)
	assert.Equal(t, int64(100), d.Limit)
}

func TestCheckAndReserve_AdmitsExactFit(t *testing.T) {
	g := seededGuard(t, 95, 0)
	plan := models.Plan{Name: "free", PagesPerMonth: 100}

	d, err := g.CheckAndReserve(context.Background(), "owner-1", plan, models.JobKindRender, 5)
	require.NoError(t, err)
	assert.True(t, d.Admitted)
	assert.Equal(t, int64(5), d.Remaining)
}

func TestCheckAndReserve_Unlimited(t *testing.T) {
	g := seededGuard(t, 1_000_000, 1_000)
	plan := quota.DefaultPlans().Lookup("enterprise")

	d, err := g.CheckAndReserve(context.Background(), "owner-1", plan, models.JobKindGenerate, 1)
	require.NoError(t, err)
	assert.True(t, d.Admitted)
	assert.Equal(t, int64(models.Unlimited), d.Limit)
}

func TestCheckAndReserve_AICountsSeparately(t *testing.T) {
	g := seededGuard(t, 0, 1)
	plan := quota.DefaultPlans().Lookup("starter")

	d, err := g.CheckAndReserve(context.Background(), "owner-1", plan, models.JobKindAnalyze, 1)
	require.NoError(t, err)
	assert.False(t, d.Admitted)
	assert.Equal(t, int64(0), d.Remaining)

	d, err = g.CheckAndReserve(context.Background(), "owner-1", plan, models.JobKindRender, 1000)
	require.NoError(t, err)
	assert.True(t, d.Admitted)
}

func TestCheckAndReserve_NewPeriodStartsEmpty(t *testing.T) {
	st := store.NewMemoryStore(clock)
	require.NoError(t, st.IncrementUsage(context.Background(), "owner-1", "2026-04", store.UsageDelta{Pages: 100}))
	g := quota.NewGuard(st, clock)

	d, err := g.CheckAndReserve(context.Background(), "owner-1", quota.DefaultPlans().Lookup("free"), models.JobKindRender, 100)
	require.NoError(t, err)
	assert.True(t, d.Admitted)
}

func TestCheckAndReserve_StoreError(t *testing.T) {
	st := store.NewMemoryStore(clock)
	st.Err = errors.New("db down")
	g := quota.NewGuard(st, clock)

	_, err := g.CheckAndReserve(context.Background(), "owner-1", quota.DefaultPlans().Lookup("free"), models.JobKindRender, 1)
	assert.Error(t, err)
}

func TestLookup_UnknownFallsBackToFree(t *testing.T) {
	plans := quota.DefaultPlans()
	assert.Equal(t, "free", plans.Lookup("platinum").Name)
	assert.Equal(t, 0, plans.Lookup("free").AIPerMonth)
}

func TestLoadPlans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - name: starter
    pages_per_month: 2000
    ai_per_month: 5
    api_keys_allowed: 3
  - name: team
    pages_per_month: 50000
    ai_per_month: -1
    api_keys_allowed: 25
`), 0o600))

	plans, err := quota.LoadPlans(path)
	require.NoError(t, err)
	assert.Equal(t, 2000, plans.Lookup("starter").PagesPerMonth)
	assert.Equal(t, models.Unlimited, plans.Lookup("team").AIPerMonth)
	assert.Equal(t, 100, plans.Lookup("free").PagesPerMonth)
}

func TestLoadPlans_Errors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err := quota.LoadPlans(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = quota.LoadPlans(write("bad.yaml", "plans: [\n"))
	assert.Error(t, err)

	_, err = quota.LoadPlans(write("noname.yaml", "plans:\n  - pages_per_month: 10\n"))
	assert.Error(t, err)

	_, err = quota.LoadPlans(write("negative.yaml", "plans:\n  - name: x\n    pages_per_month: -5\n"))
	assert.Error(t, err)

	plans, err := quota.LoadPlans("")
	require.NoError(t, err)
	assert.Len(t, plans, 4)
}
