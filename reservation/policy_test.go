package reservation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/facility-engine/reservation"
	"github.com/warp/facility-engine/reservation/store"
)

func intPtr(n int) *int { return &n }

func TestPolicyResolver_DefaultsAndOverrides(t *testing.T) {
	// GIVEN: Two facilities, one with a partial override
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SaveFacility(ctx, reservation.Facility{ID: "a", Name: "A", Active: true}))
	require.NoError(t, mem.SaveFacility(ctx, reservation.Facility{ID: "b", Name: "B", Active: true}))
	require.NoError(t, mem.SavePolicyOverride(ctx, reservation.PolicyOverride{
		FacilityID:         "b",
		MaxDurationMinutes: intPtr(120),
		MaxActivePerUser:   intPtr(1),
	}))

	resolver, err := reservation.NewPolicyResolver(mem, testPolicy())
	require.NoError(t, err)

	// WHEN / THEN: Facility without override gets the defaults
	pa, err := resolver.Resolve(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, testPolicy(), pa)

	// AND: Set fields override, unset fields inherit
	pb, err := resolver.Resolve(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 120, pb.MaxDurationMinutes)
	assert.Equal(t, 1, pb.MaxActivePerUser)
	assert.Equal(t, 30, pb.MinDurationMinutes)
	assert.Equal(t, 1, pb.AutoCompleteGraceHours)
	assert.Equal(t, time.Hour, pb.Grace())

	// AND: Unknown facility is NotFound
	_, err = resolver.Resolve(ctx, "zzz")
	assert.True(t, reservation.IsNotFound(err))
}

func TestPolicyResolver_RequiresCapAndGrace(t *testing.T) {
	p := testPolicy()
	p.MaxActivePerUser = 0
	_, err := reservation.NewPolicyResolver(store.NewMemory(), p)
	assert.Error(t, err)

	p = testPolicy()
	p.AutoCompleteGraceHours = -1
	_, err = reservation.NewPolicyResolver(store.NewMemory(), p)
	assert.Error(t, err)

	p = testPolicy()
	p.MaxDurationMinutes = 10
	_, err = reservation.NewPolicyResolver(store.NewMemory(), p)
	assert.Error(t, err)
}

func TestCatalog_SetPolicyValidatesMergedResult(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	resolver, err := reservation.NewPolicyResolver(mem, testPolicy())
	require.NoError(t, err)
	catalog := reservation.NewCatalog(mem, resolver)

	f, err := catalog.CreateFacility(ctx, reservation.Facility{Name: "  Studio  ", Type: reservation.FacilityStudio})
	require.NoError(t, err)
	assert.Equal(t, "Studio", f.Name)
	assert.True(t, f.Active)

	// Min above the default max is rejected
	_, err = catalog.SetPolicy(ctx, reservation.PolicyOverride{FacilityID: f.ID, MinDurationMinutes: intPtr(600)})
	assert.ErrorIs(t, err, reservation.ErrPolicyViolation)

	eff, err := catalog.SetPolicy(ctx, reservation.PolicyOverride{FacilityID: f.ID, MaxDaysInAdvance: intPtr(7)})
	require.NoError(t, err)
	assert.Equal(t, 7, eff.MaxDaysInAdvance)

	got, err := catalog.Policy(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, eff, got)

	inactive := false
	updated, err := catalog.UpdateFacility(ctx, f.ID, reservation.FacilityUpdate{Active: &inactive})
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, reservation.FacilityStudio, updated.Type)
}
