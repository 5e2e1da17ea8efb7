// Package conflict decides whether two concurrent changes collide and
// computes resolved values. Pure functions, no I/O: identical inputs always
// produce identical outputs.
package conflict

import (
	"github.com/Ramsey-B/fern/pkg/models"
)

// Resolver detects and resolves conflicts between concurrent changes
type Resolver struct{}

// NewResolver creates a resolver
func NewResolver() *Resolver {
	return &Resolver{}
}

// DetectConflict classifies the collision between two changes, or returns
// ConflictTypeNone. Text-range operations conflict when their half-open
// intervals [position, position+length) overlap: a < d && c < b.
func (r *Resolver) DetectConflict(local, remote *models.CollaborationChange) models.ConflictType {
	if local.FieldPath != remote.FieldPath {
		return models.ConflictTypeNone
	}

	if local.ChangeType.IsTextOperation() && remote.ChangeType.IsTextOperation() {
		localEnd := local.Position + local.Length
		remoteEnd := remote.Position + remote.Length
		if local.Position < remoteEnd && remote.Position < localEnd {
			return models.ConflictTypeConcurrentEdit
		}
		return models.ConflictTypeNone
	}

	localDelete := local.ChangeType == models.ChangeTypeDelete
	remoteDelete := remote.ChangeType == models.ChangeTypeDelete
	if localDelete != remoteDelete {
		return models.ConflictTypeDeleteUpdate
	}

	return models.ConflictTypeNone
}

// ResolveConflict computes the value a conflicted field should take
func (r *Resolver) ResolveConflict(conflictType models.ConflictType, local, remote *models.CollaborationChange, strategy models.ResolutionStrategy) string {
	switch strategy {
	case models.ResolutionStrategyLastWriterWins:
		// Ties favor local
		if remote.CreatedAt.After(local.CreatedAt) {
			return remote.NewValue
		}
		return local.NewValue

	case models.ResolutionStrategyFirstWriterWins:
		// Ties favor local
		if remote.CreatedAt.Before(local.CreatedAt) {
			return remote.NewValue
		}
		return local.NewValue

	case models.ResolutionStrategyAutoMerge:
		return r.autoMerge(local, remote)

	default:
		return local.NewValue
	}
}

// autoMerge applies both text operations to the shared base text in position
// order, shifting the second operation by the size delta of the first. A
// simplified two-operation transform, not a general OT engine; it assumes
// both operations were computed against the same base.
func (r *Resolver) autoMerge(local, remote *models.CollaborationChange) string {
	first, second := local, remote
	if remote.Position < local.Position {
		first, second = remote, local
	}

	// The replaced/deleted range's old value is the best available proxy for
	// the base text; inserts carry an empty one
	base := first.OldValue
	if len(second.OldValue) > len(base) {
		base = second.OldValue
	}

	merged := applyTextOp(base, first.Position, first.Length, first.NewValue)

	shift := len(first.NewValue) - first.Length
	return applyTextOp(merged, second.Position+shift, second.Length, second.NewValue)
}

func applyTextOp(text string, position, length int, newValue string) string {
	if position < 0 {
		position = 0
	}
	if position > len(text) {
		position = len(text)
	}
	end := position + length
	if end > len(text) {
		end = len(text)
	}
	return text[:position] + newValue + text[end:]
}
