package reservation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// BLACKOUT REGISTRY - Facility-scoped intervals that can never be booked
// =============================================================================

// BlackoutStore is what the registry needs from storage.
type BlackoutStore interface {
	FacilityReader
	BlackoutReader
	SaveBlackout(ctx context.Context, b BlackoutBlock) error
	DeleteBlackout(ctx context.Context, id BlackoutID) error
	ListBlackouts(ctx context.Context, facilityID FacilityID) ([]BlackoutBlock, error)
}

// BlackoutRegistry reads and maintains blackout blocks. The lifecycle only
// reads through it; Add and Remove serve administrators.
type BlackoutRegistry struct {
	store BlackoutStore
	now   func() time.Time
}

func NewBlackoutRegistry(store BlackoutStore) *BlackoutRegistry {
	return &BlackoutRegistry{store: store, now: time.Now}
}

// FindOverlapping returns the facility's blocks intersecting [start, end).
func (b *BlackoutRegistry) FindOverlapping(ctx context.Context, facilityID FacilityID, start, end time.Time) ([]BlackoutBlock, error) {
	return findOverlappingBlackouts(ctx, b.store, facilityID, Interval{Start: start, End: end})
}

// Add validates and stores a new blackout block.
func (b *BlackoutRegistry) Add(ctx context.Context, block BlackoutBlock) (BlackoutBlock, error) {
	if !block.Interval().Valid() {
		return BlackoutBlock{}, &PolicyViolationError{
			Rule:    RuleInvalidInterval,
			Message: fmt.Sprintf("blackout start %s must be before end %s", block.Start.Format(time.RFC3339), block.End.Format(time.RFC3339)),
		}
	}
	if _, err := b.store.GetFacility(ctx, block.FacilityID); err != nil {
		return BlackoutBlock{}, err
	}
	if block.ID == "" {
		block.ID = BlackoutID(uuid.NewString())
	}
	if block.Type == "" {
		block.Type = BlockMaintenance
	}
	if !block.Type.Valid() {
		return BlackoutBlock{}, &PolicyViolationError{
			Rule:    RuleInvalidBlackout,
			Message: fmt.Sprintf("unknown blackout type %q", block.Type),
		}
	}
	block.Start = block.Start.UTC()
	block.End = block.End.UTC()
	block.CreatedAt = b.now().UTC()

	if err := b.store.SaveBlackout(ctx, block); err != nil {
		return BlackoutBlock{}, fmt.Errorf("failed to save blackout: %w", err)
	}
	return block, nil
}

// Remove deletes a blackout block.
func (b *BlackoutRegistry) Remove(ctx context.Context, id BlackoutID) error {
	return b.store.DeleteBlackout(ctx, id)
}

// List returns every block of the facility ordered by start.
func (b *BlackoutRegistry) List(ctx context.Context, facilityID FacilityID) ([]BlackoutBlock, error) {
	if _, err := b.store.GetFacility(ctx, facilityID); err != nil {
		return nil, err
	}
	return b.store.ListBlackouts(ctx, facilityID)
}

// findOverlappingBlackouts applies the half-open test to whatever r returns,
// so the same code serves locked and unlocked readers.
func findOverlappingBlackouts(ctx context.Context, r BlackoutReader, facilityID FacilityID, iv Interval) ([]BlackoutBlock, error) {
	candidates, err := r.FindBlackouts(ctx, facilityID, iv)
	if err != nil {
		return nil, fmt.Errorf("failed to load blackouts for facility %s: %w", facilityID, err)
	}

	var out []BlackoutBlock
	for _, blk := range candidates {
		if blk.FacilityID == facilityID && blk.Interval().Overlaps(iv) {
			out = append(out, blk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
