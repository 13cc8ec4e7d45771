/*
policy.go - Effective booking policy resolution

PURPOSE:
  Combines the global defaults with a facility's override row. Every field
  left nil on the override inherits the default.

REQUIRED DEFAULTS:
  AutoCompleteGraceHours and MaxActivePerUser have no sensible built-in
  value; the defaults must be supplied by configuration and Validate
  rejects a zero MaxActivePerUser or a negative grace.

SEE ALSO:
  - config/config.go: Where the defaults come from
  - lifecycle.go: Applies the resolved policy on create
*/
package reservation

import (
	"context"
	"fmt"
)

// Built-in defaults for the policy fields that have one.
const (
	DefaultMaxDaysInAdvance   = 30
	DefaultMinDurationMinutes = 30
	DefaultMaxDurationMinutes = 480
)

// Validate checks that a policy is internally consistent.
func (p EffectivePolicy) Validate() error {
	switch {
	case p.MaxDaysInAdvance < 0:
		return fmt.Errorf("max days in advance must not be negative, got %d", p.MaxDaysInAdvance)
	case p.MinDurationMinutes <= 0:
		return fmt.Errorf("min duration must be positive, got %d", p.MinDurationMinutes)
	case p.MaxDurationMinutes < p.MinDurationMinutes:
		return fmt.Errorf("max duration %d is below min duration %d", p.MaxDurationMinutes, p.MinDurationMinutes)
	case p.AutoCompleteGraceHours < 0:
		return fmt.Errorf("auto-complete grace must not be negative, got %d", p.AutoCompleteGraceHours)
	case p.MaxActivePerUser <= 0:
		return fmt.Errorf("max active reservations per user must be positive, got %d", p.MaxActivePerUser)
	}
	return nil
}

// Apply returns p with the override's non-nil fields substituted.
func (p EffectivePolicy) Apply(o *PolicyOverride) EffectivePolicy {
	if o == nil {
		return p
	}
	if o.MaxDaysInAdvance != nil {
		p.MaxDaysInAdvance = *o.MaxDaysInAdvance
	}
	if o.MinDurationMinutes != nil {
		p.MinDurationMinutes = *o.MinDurationMinutes
	}
	if o.MaxDurationMinutes != nil {
		p.MaxDurationMinutes = *o.MaxDurationMinutes
	}
	if o.AutoCompleteGraceHours != nil {
		p.AutoCompleteGraceHours = *o.AutoCompleteGraceHours
	}
	if o.MaxActivePerUser != nil {
		p.MaxActivePerUser = *o.MaxActivePerUser
	}
	return p
}

// PolicyResolver resolves the effective policy of a facility.
type PolicyResolver struct {
	store    FacilityReader
	defaults EffectivePolicy
}

// NewPolicyResolver returns a resolver over store. It fails if the defaults
// are invalid, which covers a missing grace period or per-user cap.
func NewPolicyResolver(store FacilityReader, defaults EffectivePolicy) (*PolicyResolver, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default policy: %w", err)
	}
	return &PolicyResolver{store: store, defaults: defaults}, nil
}

// Defaults returns the global defaults.
func (r *PolicyResolver) Defaults() EffectivePolicy {
	return r.defaults
}

// Resolve returns the facility's effective policy. It fails only when the
// facility is unknown or the store errors.
func (r *PolicyResolver) Resolve(ctx context.Context, facilityID FacilityID) (EffectivePolicy, error) {
	if _, err := r.store.GetFacility(ctx, facilityID); err != nil {
		return EffectivePolicy{}, err
	}
	override, err := r.store.GetPolicyOverride(ctx, facilityID)
	if err != nil {
		return EffectivePolicy{}, fmt.Errorf("failed to load policy for facility %s: %w", facilityID, err)
	}
	return r.defaults.Apply(override), nil
}
