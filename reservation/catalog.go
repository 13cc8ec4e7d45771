package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CATALOG - Facility and policy maintenance
// =============================================================================

// CatalogStore is what the catalog needs from storage.
type CatalogStore interface {
	FacilityReader
	InsertFacility(ctx context.Context, f Facility) error
	SaveFacility(ctx context.Context, f Facility) error
	ListFacilities(ctx context.Context) ([]Facility, error)
	SavePolicyOverride(ctx context.Context, p PolicyOverride) error
}

// Catalog maintains facilities and their policy overrides. Neither is
// concurrency sensitive, so nothing here takes the facility lock.
type Catalog struct {
	store    CatalogStore
	policies *PolicyResolver
	now      func() time.Time
}

func NewCatalog(store CatalogStore, policies *PolicyResolver) *Catalog {
	return &Catalog{store: store, policies: policies, now: time.Now}
}

// CreateFacility stores a new, active facility. An explicit id that is
// already taken fails with AlreadyExistsError.
func (c *Catalog) CreateFacility(ctx context.Context, f Facility) (Facility, error) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return Facility{}, &PolicyViolationError{Rule: RuleInvalidFacility, Message: "facility name is required"}
	}
	if f.Capacity < 0 {
		return Facility{}, &PolicyViolationError{Rule: RuleInvalidFacility, Message: "capacity must not be negative"}
	}
	if f.ID == "" {
		f.ID = FacilityID(uuid.NewString())
	}
	if f.Type == "" {
		f.Type = FacilityOther
	}
	if !f.Type.Valid() {
		return Facility{}, &PolicyViolationError{Rule: RuleInvalidFacility, Message: fmt.Sprintf("unknown facility type %q", f.Type)}
	}
	now := c.now().UTC()
	f.Active = true
	f.CreatedAt = now
	f.UpdatedAt = now

	if err := c.store.InsertFacility(ctx, f); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return Facility{}, err
		}
		return Facility{}, fmt.Errorf("failed to save facility: %w", err)
	}
	return f, nil
}

// FacilityUpdate carries the mutable facility fields. Nil means unchanged.
type FacilityUpdate struct {
	Name        *string
	Location    *string
	Description *string
	Active      *bool
}

// UpdateFacility applies the mutable fields.
func (c *Catalog) UpdateFacility(ctx context.Context, id FacilityID, u FacilityUpdate) (Facility, error) {
	f, err := c.store.GetFacility(ctx, id)
	if err != nil {
		return Facility{}, err
	}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return Facility{}, &PolicyViolationError{Rule: RuleInvalidFacility, Message: "facility name is required"}
		}
		f.Name = name
	}
	if u.Location != nil {
		f.Location = *u.Location
	}
	if u.Description != nil {
		f.Description = *u.Description
	}
	if u.Active != nil {
		f.Active = *u.Active
	}
	f.UpdatedAt = c.now().UTC()

	if err := c.store.SaveFacility(ctx, f); err != nil {
		return Facility{}, fmt.Errorf("failed to save facility: %w", err)
	}
	return f, nil
}

func (c *Catalog) GetFacility(ctx context.Context, id FacilityID) (Facility, error) {
	return c.store.GetFacility(ctx, id)
}

func (c *Catalog) ListFacilities(ctx context.Context) ([]Facility, error) {
	return c.store.ListFacilities(ctx)
}

// SetPolicy replaces the facility's override row. The merged result must be
// a valid policy.
func (c *Catalog) SetPolicy(ctx context.Context, o PolicyOverride) (EffectivePolicy, error) {
	if _, err := c.store.GetFacility(ctx, o.FacilityID); err != nil {
		return EffectivePolicy{}, err
	}
	merged := c.policies.Defaults().Apply(&o)
	if err := merged.Validate(); err != nil {
		return EffectivePolicy{}, &PolicyViolationError{Rule: RuleInvalidPolicy, Message: err.Error()}
	}
	o.UpdatedAt = c.now().UTC()
	if err := c.store.SavePolicyOverride(ctx, o); err != nil {
		return EffectivePolicy{}, fmt.Errorf("failed to save policy: %w", err)
	}
	return merged, nil
}

// Policy returns the facility's effective policy.
func (c *Catalog) Policy(ctx context.Context, id FacilityID) (EffectivePolicy, error) {
	return c.policies.Resolve(ctx, id)
}
