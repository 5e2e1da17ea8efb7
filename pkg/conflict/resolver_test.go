package conflict

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/fern/pkg/models"
)

func textChange(changeType models.ChangeType, fieldPath string, position, length int, oldValue, newValue string, createdAt time.Time) *models.CollaborationChange {
	return &models.CollaborationChange{
		ChangeType: changeType,
		FieldPath:  fieldPath,
		Position:   position,
		Length:     length,
		OldValue:   oldValue,
		NewValue:   newValue,
		CreatedAt:  createdAt,
	}
}

func TestDetectConflict(t *testing.T) {
	now := time.Now().UTC()
	resolver := NewResolver()

	tests := []struct {
		name     string
		local    *models.CollaborationChange
		remote   *models.CollaborationChange
		expected models.ConflictType
	}{
		{
			name:     "different fields never conflict",
			local:    textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "HELLO", now),
			remote:   textChange(models.ChangeTypeReplace, "title", 0, 5, "Hello", "HELLO", now),
			expected: models.ConflictTypeNone,
		},
		{
			name:     "overlapping text ranges",
			local:    textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "HELLO", now),
			remote:   textChange(models.ChangeTypeInsert, "notes", 3, 0, "", "XX", now),
			expected: models.ConflictTypeConcurrentEdit,
		},
		{
			name:     "disjoint text ranges",
			local:    textChange(models.ChangeTypeReplace, "notes", 0, 3, "Hel", "HEL", now),
			remote:   textChange(models.ChangeTypeReplace, "notes", 5, 2, "wo", "WO", now),
			expected: models.ConflictTypeNone,
		},
		{
			name:     "touching ranges do not overlap",
			local:    textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "HELLO", now),
			remote:   textChange(models.ChangeTypeReplace, "notes", 5, 2, " w", " W", now),
			expected: models.ConflictTypeNone,
		},
		{
			name:     "delete against format",
			local:    textChange(models.ChangeTypeDelete, "notes", 0, 5, "Hello", "", now),
			remote:   textChange(models.ChangeTypeFormat, "notes", 0, 0, "", "bold", now),
			expected: models.ConflictTypeDeleteUpdate,
		},
		{
			name:     "format against delete",
			local:    textChange(models.ChangeTypeFormat, "notes", 0, 0, "", "bold", now),
			remote:   textChange(models.ChangeTypeMove, "notes", 0, 0, "", "", now),
			expected: models.ConflictTypeNone,
		},
		{
			name:     "move against move",
			local:    textChange(models.ChangeTypeMove, "notes", 0, 0, "", "", now),
			remote:   textChange(models.ChangeTypeMove, "notes", 0, 0, "", "", now),
			expected: models.ConflictTypeNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolver.DetectConflict(tt.local, tt.remote))
		})
	}
}

// Overlap detection must match the half-open interval test a < d && c < b
// exactly, for every small interval pair.
func TestDetectConflictOverlapProperty(t *testing.T) {
	now := time.Now().UTC()
	resolver := NewResolver()

	const max = 6
	for a := 0; a <= max; a++ {
		for b := a; b <= max; b++ {
			for c := 0; c <= max; c++ {
				for d := c; d <= max; d++ {
					local := textChange(models.ChangeTypeReplace, "notes", a, b-a, "", "x", now)
					remote := textChange(models.ChangeTypeReplace, "notes", c, d-c, "", "y", now)

					expected := models.ConflictTypeNone
					if a < d && c < b {
						expected = models.ConflictTypeConcurrentEdit
					}

					name := fmt.Sprintf("[%d,%d) vs [%d,%d)", a, b, c, d)
					assert.Equal(t, expected, resolver.DetectConflict(local, remote), name)
				}
			}
		}
	}
}

func TestDetectConflictDeterministic(t *testing.T) {
	now := time.Now().UTC()
	resolver := NewResolver()

	local := textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "HELLO", now)
	remote := textChange(models.ChangeTypeInsert, "notes", 3, 0, "", "XX", now)

	first := resolver.DetectConflict(local, remote)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, resolver.DetectConflict(local, remote))
	}
}

func TestResolveConflictWriterWins(t *testing.T) {
	resolver := NewResolver()
	earlier := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	later := earlier.Add(time.Minute)

	local := textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "LOCAL", earlier)
	remote := textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "REMOTE", later)

	assert.Equal(t, "REMOTE", resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, local, remote, models.ResolutionStrategyLastWriterWins))
	assert.Equal(t, "LOCAL", resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, local, remote, models.ResolutionStrategyFirstWriterWins))

	// Ties favor local under both strategies
	remote.CreatedAt = earlier
	assert.Equal(t, "LOCAL", resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, local, remote, models.ResolutionStrategyLastWriterWins))
	assert.Equal(t, "LOCAL", resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, local, remote, models.ResolutionStrategyFirstWriterWins))
}

func TestResolveConflictAutoMerge(t *testing.T) {
	resolver := NewResolver()
	now := time.Now().UTC()

	// Replace at the head and an insert inside it, both against "Hello"
	replace := textChange(models.ChangeTypeReplace, "notes", 0, 5, "Hello", "HELLO", now)
	insert := textChange(models.ChangeTypeInsert, "notes", 3, 0, "", "XX", now)

	merged := resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, insert, replace, models.ResolutionStrategyAutoMerge)
	assert.Equal(t, "HELXXLO", merged)

	// Argument order must not matter; the earlier-positioned change applies first
	merged = resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, replace, insert, models.ResolutionStrategyAutoMerge)
	assert.Equal(t, "HELXXLO", merged)
}

func TestResolveConflictAutoMergeGrowth(t *testing.T) {
	resolver := NewResolver()
	now := time.Now().UTC()

	// First change grows the text; the second position shifts by the delta
	replace := textChange(models.ChangeTypeReplace, "notes", 0, 2, "Hello", "HEYA", now)
	insert := textChange(models.ChangeTypeInsert, "notes", 5, 0, "", "!", now)

	merged := resolver.ResolveConflict(models.ConflictTypeConcurrentEdit, replace, insert, models.ResolutionStrategyAutoMerge)
	assert.Equal(t, "HEYAllo!", merged)
}

func TestResolveConflictDefaultStrategy(t *testing.T) {
	resolver := NewResolver()
	now := time.Now().UTC()

	local := textChange(models.ChangeTypeFormat, "notes", 0, 0, "", "bold", now)
	remote := textChange(models.ChangeTypeFormat, "notes", 0, 0, "", "italic", now)

	assert.Equal(t, "bold", resolver.ResolveConflict(models.ConflictTypeFormatConflict, local, remote, models.ResolutionStrategyManual))
}
