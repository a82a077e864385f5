package shift

import (
	"context"
	"errors"
	"testing"

	"foreman_bot/internal/api"
	"foreman_bot/internal/crmtest"
	"foreman_bot/internal/metrics"
	"foreman_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var object42 = models.Object{ID: 42, Title: "Квартал 7"}

func newResolver(crm *crmtest.Fake, m *metrics.Metrics) *Resolver {
	return NewResolver(crm, crmtest.Resolver(), crmtest.Entities.Shift, 7, m, nil)
}

func TestGetOrCreateCreatesOnce(t *testing.T) {
	crm := crmtest.New()
	r := newResolver(crm, metrics.NewMetrics())
	ctx := context.Background()

	id, created, err := r.GetOrCreate(ctx, object42, "2026-10-15", true)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := r.GetOrCreate(ctx, object42, "2026-10-15", true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id, again)

	require.Len(t, crm.Items(crmtest.ShiftType), 1)
	item := crm.Items(crmtest.ShiftType)[0]
	assert.Equal(t, []string{"D_42"}, item.Strings("ufCrm5UfObjectLink"))
	assert.Equal(t, "2026-10-15", item.String("ufCrm5UfDate"))
	assert.Equal(t, "Квартал 7 — 2026-10-15", item.String("title"))
	assert.Equal(t, int64(7), item.Int64("assignedById"))
	assert.Equal(t, "open", item.String("ufCrm5UfShiftStatus"))
}

func TestGetOrCreateWithoutCreateReturnsNotFound(t *testing.T) {
	crm := crmtest.New()
	r := newResolver(crm, nil)

	_, _, err := r.GetOrCreate(context.Background(), models.Object{ID: 99}, "2026-10-16", false)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, crm.Items(crmtest.ShiftType))
}

func TestGetOrCreatePicksEarliestDuplicate(t *testing.T) {
	crm := crmtest.New()
	first := crm.Seed(crmtest.ShiftType, map[string]any{
		"ufCrm5UfObjectLink": []string{"D_42"}, "ufCrm5UfDate": "2026-10-15",
		"createdTime": "2026-10-14T09:00:00Z",
	})
	crm.Seed(crmtest.ShiftType, map[string]any{
		"ufCrm5UfObjectLink": []string{"D_42"}, "ufCrm5UfDate": "2026-10-15",
		"createdTime": "2026-10-14T10:00:00Z",
	})
	m := metrics.NewMetrics()
	r := newResolver(crm, m)

	id, created, err := r.GetOrCreate(context.Background(), object42, "2026-10-15", true)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first, id)
	assert.Equal(t, 1.0, m.GetStats()["foreman_shift_uniqueness_violations_total"])
	assert.Len(t, crm.Items(crmtest.ShiftType), 2)
}

func TestGetOrCreateSurfacesRemoteError(t *testing.T) {
	crm := crmtest.New()
	crm.Err = &api.RemoteError{Code: "ACCESS_DENIED"}
	r := newResolver(crm, nil)

	_, _, err := r.GetOrCreate(context.Background(), object42, "2026-10-15", true)
	var re *api.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "ACCESS_DENIED", re.Code)
}

func TestDailySummary(t *testing.T) {
	crm := crmtest.New()
	crm.Seed(crmtest.ShiftType, map[string]any{
		"title": "Квартал 7 — 2026-10-15", "ufCrm5UfObjectLink": []string{"D_42"}, "ufCrm5UfDate": "2026-10-15",
		"ufCrm5UfPlanTotal": 220, "ufCrm5UfFactTotal": 180, "ufCrm5UfShiftStatus": "closed",
	})
	crm.Seed(crmtest.ShiftType, map[string]any{"ufCrm5UfObjectLink": []string{"D_9"}, "ufCrm5UfDate": "2026-10-14"})

	got, err := newResolver(crm, nil).Daily(context.Background(), "2026-10-15")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].ObjectID)
	assert.Equal(t, 220.0, got[0].PlanTotal)
	assert.Equal(t, 180.0, got[0].FactTotal)
	assert.True(t, got[0].Closed)
}

func TestParseObjectLink(t *testing.T) {
	assert.Equal(t, int64(42), ParseObjectLink([]string{"D_42"}))
	assert.Equal(t, int64(5), ParseObjectLink([]string{"5"}))
	assert.Zero(t, ParseObjectLink(nil))
}
