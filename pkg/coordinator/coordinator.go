// Package coordinator applies incoming changes: it reads the entity's current
// version, detects concurrent edits, resolves conflicts, and persists the
// outcome. ApplyChange is the one strictly-serialized operation in the
// system; everything else is eventually consistent.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/repositories"
	"github.com/Ramsey-B/fern/pkg/conflict"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Coordinator orchestrates change application for one service instance
type Coordinator struct {
	sessions     repositories.SessionRepository
	participants repositories.ParticipantRepository
	changes      repositories.ChangeRepository
	versions     repositories.VersionRepository
	conflicts    repositories.ConflictRepository
	resolver     *conflict.Resolver
	guard        EntityGuard
	logger       ectologger.Logger
}

// NewCoordinator creates a change coordinator
func NewCoordinator(
	sessions repositories.SessionRepository,
	participants repositories.ParticipantRepository,
	changes repositories.ChangeRepository,
	versions repositories.VersionRepository,
	conflicts repositories.ConflictRepository,
	resolver *conflict.Resolver,
	guard EntityGuard,
	logger ectologger.Logger,
) *Coordinator {
	return &Coordinator{
		sessions:     sessions,
		participants: participants,
		changes:      changes,
		versions:     versions,
		conflicts:    conflicts,
		resolver:     resolver,
		guard:        guard,
		logger:       logger,
	}
}

// ApplyChange validates, version-stamps, and persists one edit. On conflict
// with a concurrent change it resolves per policy and returns the conflict
// record alongside the change. The caller broadcasts the outcome.
func (c *Coordinator) ApplyChange(ctx context.Context, userID string, req models.ApplyChangeRequest) (*models.CollaborationChange, *models.ConflictRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "coordinator.Coordinator.ApplyChange")
	defer span.End()

	start := time.Now()

	session, err := c.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if !session.IsActive {
		return nil, nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %s has ended", req.SessionID))
	}

	participant, err := c.participants.Get(ctx, req.SessionID, userID)
	if err != nil {
		return nil, nil, err
	}

	// Version reads through persistence must happen under the per-entity
	// guard, or two writers could both claim the same version number
	unlock, err := c.guard.Lock(ctx, session.EntityType+":"+session.EntityID)
	if err != nil {
		metrics.RecordChange("contention", time.Since(start).Seconds())
		return nil, nil, err
	}
	defer unlock()

	baseVersion := 0
	if latest, err := c.versions.GetLatest(ctx, session.EntityType, session.EntityID); err == nil {
		baseVersion = latest.Version
	} else if !httperror.IsHTTPError(err) || httperror.GetStatusCode(err) != http.StatusNotFound {
		return nil, nil, err
	}
	newVersion := baseVersion + 1

	// Concurrency is judged against the version the client edited from, not
	// the version we are about to assign: two edits conflict when they both
	// assumed the same base, even though the later one lands on a higher
	// version.
	candidates, err := c.changes.ListConcurrent(ctx, req.SessionID, req.FieldPath, req.BaseVersion, participant.ID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	change := &models.CollaborationChange{
		ID:            uuid.New().String(),
		SessionID:     req.SessionID,
		ParticipantID: participant.ID,
		ChangeType:    req.ChangeType,
		FieldPath:     req.FieldPath,
		OldValue:      req.OldValue,
		NewValue:      req.NewValue,
		Position:      req.Position,
		Length:        req.Length,
		BaseVersion:   baseVersion,
		ResultVersion: newVersion,
		CreatedAt:     now,
		AppliedAt:     &now,
	}

	var record *models.ConflictRecord
	for i := range candidates {
		remote := &candidates[i]
		conflictType := c.resolver.DetectConflict(change, remote)
		if conflictType == models.ConflictTypeNone {
			continue
		}

		strategy := models.ResolutionStrategyLastWriterWins
		if change.ChangeType.IsTextOperation() {
			strategy = models.ResolutionStrategyAutoMerge
		}
		resolved := c.resolver.ResolveConflict(conflictType, change, remote, strategy)

		resolution := models.ConflictResolutionAccepted
		switch {
		case strategy == models.ResolutionStrategyAutoMerge:
			resolution = models.ConflictResolutionMerged
		case resolved != change.NewValue:
			resolution = models.ConflictResolutionRejected
		}
		change.IsConflicted = true
		change.ConflictResolution = &resolution

		record = &models.ConflictRecord{
			ID:                 uuid.New().String(),
			LocalChangeID:      change.ID,
			RemoteChangeID:     remote.ID,
			ConflictType:       conflictType,
			FieldPath:          req.FieldPath,
			ResolutionStrategy: strategy,
			ResolvedValue:      resolved,
			ResolvedBy:         userID,
			ResolvedAt:         now,
		}

		metrics.RecordConflict(string(conflictType), string(strategy))
		break
	}

	if err := c.changes.Create(ctx, change); err != nil {
		metrics.RecordChange("error", time.Since(start).Seconds())
		return nil, nil, err
	}

	snapshot, _ := json.Marshal(map[string]string{
		"field_path": req.FieldPath,
		"value":      c.effectiveValue(change, record),
	})
	version := &models.EntityVersion{
		ID:         uuid.New().String(),
		EntityType: session.EntityType,
		EntityID:   session.EntityID,
		Version:    newVersion,
		Snapshot:   snapshot,
		ChangeIDs:  pq.StringArray{change.ID},
		CreatedAt:  now,
	}
	if err := c.versions.Create(ctx, version); err != nil {
		metrics.RecordChange("error", time.Since(start).Seconds())
		return nil, nil, err
	}

	if record != nil {
		if err := c.conflicts.Create(ctx, record); err != nil {
			return nil, nil, err
		}
	}

	if err := c.sessions.TouchActivity(ctx, req.SessionID, now); err != nil {
		c.logger.WithContext(ctx).WithError(err).Warn("Failed to touch session activity")
	}

	outcome := "applied"
	if record != nil {
		outcome = "conflict_resolved"
	}
	metrics.RecordChange(outcome, time.Since(start).Seconds())

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id":     req.SessionID,
		"field_path":     req.FieldPath,
		"result_version": newVersion,
		"conflicted":     record != nil,
	}).Debug("Applied change")

	return change, record, nil
}

// effectiveValue is what the field holds after this change: the resolved
// value when conflicted, the submitted value otherwise
func (c *Coordinator) effectiveValue(change *models.CollaborationChange, record *models.ConflictRecord) string {
	if record != nil {
		return record.ResolvedValue
	}
	return change.NewValue
}
