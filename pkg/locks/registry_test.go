package locks

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/coordinator"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/realtime"
)

type memLockRepo struct {
	mu    sync.Mutex
	locks map[string]*models.EntityLock
}

func newMemLockRepo() *memLockRepo {
	return &memLockRepo{locks: make(map[string]*models.EntityLock)}
}

func (r *memLockRepo) Create(_ context.Context, l *models.EntityLock) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *l
	r.locks[l.ID] = &clone
	return nil
}

func (r *memLockRepo) Get(_ context.Context, id string) (*models.EntityLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "lock not found")
	}
	clone := *l
	return &clone, nil
}

func (r *memLockRepo) ListActive(_ context.Context, entityType, entityID string, now time.Time) ([]models.EntityLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EntityLock
	for _, l := range r.locks {
		if l.EntityType == entityType && l.EntityID == entityID && l.IsActive(now) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *memLockRepo) FindBlocking(_ context.Context, entityType, entityID, fieldPath string, now time.Time) ([]models.EntityLock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EntityLock
	for _, l := range r.locks {
		if l.EntityType != entityType || l.EntityID != entityID || !l.IsActive(now) {
			continue
		}
		// A whole-entity request conflicts with everything; a field request
		// conflicts with whole-entity locks and locks on the same field
		if fieldPath != "" && l.FieldPath != "" && l.FieldPath != fieldPath {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (r *memLockRepo) Release(_ context.Context, id, userID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok || l.UserID != userID || l.ReleasedAt != nil {
		return false, nil
	}
	l.ReleasedAt = &at
	return true, nil
}

func (r *memLockRepo) ReleaseExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, l := range r.locks {
		if l.ReleasedAt == nil && !l.ExpiresAt.After(now) {
			at := now
			l.ReleasedAt = &at
			count++
		}
	}
	return count, nil
}

func (r *memLockRepo) ReleaseOnDisconnect(_ context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, l := range r.locks {
		if l.ReleasedAt == nil && l.UserID == userID && l.AutoReleaseOnDisconnect {
			released := at
			l.ReleasedAt = &released
			count++
		}
	}
	return count, nil
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestRegistry() (*Registry, *memLockRepo) {
	repo := newMemLockRepo()
	hub := realtime.NewHub(testLogger())
	registry := NewRegistry(repo, coordinator.NewKeyedMutexGuard(), hub, time.Minute, testLogger())
	return registry, repo
}

func TestAcquireLock_ExclusiveMutualExclusion(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()
	req := models.AcquireLockRequest{EntityType: "order", EntityID: "o1"}

	lock, denial, err := registry.AcquireLock(ctx, "alice", req)
	require.NoError(t, err)
	require.Nil(t, denial)
	require.NotNil(t, lock)
	assert.Equal(t, models.LockTypeExclusive, lock.LockType)
	assert.True(t, lock.AutoReleaseOnDisconnect)

	// Second acquisition is denied, not errored: contention is data
	second, denial, err := registry.AcquireLock(ctx, "bob", req)
	require.NoError(t, err)
	assert.Nil(t, second)
	require.NotNil(t, denial)
	assert.Equal(t, "alice", denial.HolderUserID)
	assert.Equal(t, lock.ID, denial.LockID)
}

func TestAcquireLock_ConcurrentRacersGetOneGrant(t *testing.T) {
	registry, _ := newTestRegistry()
	req := models.AcquireLockRequest{EntityType: "order", EntityID: "o1"}

	const racers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	granted, denied := 0, 0

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			lock, denial, err := registry.AcquireLock(context.Background(), string(rune('a'+n)), req)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if lock != nil {
				granted++
			}
			if denial != nil {
				denied++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, granted)
	assert.Equal(t, racers-1, denied)
}

func TestAcquireLock_WholeEntityBlocksFieldLock(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	_, denial, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)
	require.Nil(t, denial)

	_, denial, err = registry.AcquireLock(ctx, "bob", models.AcquireLockRequest{EntityType: "order", EntityID: "o1", FieldPath: "notes"})
	require.NoError(t, err)
	assert.NotNil(t, denial)
}

func TestAcquireLock_FieldLockBlocksWholeEntity(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	_, denial, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1", FieldPath: "notes"})
	require.NoError(t, err)
	require.Nil(t, denial)

	_, denial, err = registry.AcquireLock(ctx, "bob", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)
	assert.NotNil(t, denial)
}

func TestAcquireLock_DisjointFieldsCoexist(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	lock1, denial, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1", FieldPath: "notes"})
	require.NoError(t, err)
	require.Nil(t, denial)
	require.NotNil(t, lock1)

	lock2, denial, err := registry.AcquireLock(ctx, "bob", models.AcquireLockRequest{EntityType: "order", EntityID: "o1", FieldPath: "title"})
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.NotNil(t, lock2)
}

func TestAcquireLock_SharedLocksCoexist(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()
	req := models.AcquireLockRequest{EntityType: "order", EntityID: "o1", LockType: models.LockTypeShared}

	lock1, denial, err := registry.AcquireLock(ctx, "alice", req)
	require.NoError(t, err)
	require.Nil(t, denial)
	require.NotNil(t, lock1)

	lock2, denial, err := registry.AcquireLock(ctx, "bob", req)
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.NotNil(t, lock2)

	// An exclusive request is still blocked by the shared holders
	_, denial, err = registry.AcquireLock(ctx, "carol", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)
	assert.NotNil(t, denial)
}

func TestReleaseLock(t *testing.T) {
	registry, _ := newTestRegistry()
	ctx := context.Background()

	lock, _, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)

	// Someone else's release attempt is forbidden
	err = registry.ReleaseLock(ctx, lock.ID, "bob")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, httperror.GetStatusCode(err))

	require.NoError(t, registry.ReleaseLock(ctx, lock.ID, "alice"))

	// Double release conflicts
	err = registry.ReleaseLock(ctx, lock.ID, "alice")
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, httperror.GetStatusCode(err))

	// The entity is free again
	fresh, denial, err := registry.AcquireLock(ctx, "bob", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.NotNil(t, fresh)
}

func TestAcquireLock_ExpiredLockDoesNotBlock(t *testing.T) {
	registry, repo := newTestRegistry()
	ctx := context.Background()

	lock, _, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{
		EntityType:      "order",
		EntityID:        "o1",
		DurationSeconds: 1,
	})
	require.NoError(t, err)

	// Force the lock past its expiry
	repo.mu.Lock()
	repo.locks[lock.ID].ExpiresAt = time.Now().UTC().Add(-time.Second)
	repo.mu.Unlock()

	fresh, denial, err := registry.AcquireLock(ctx, "bob", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)
	assert.Nil(t, denial)
	assert.NotNil(t, fresh)
}

func TestCleanupExpiredLocks(t *testing.T) {
	registry, repo := newTestRegistry()
	ctx := context.Background()

	lock, _, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.locks[lock.ID].ExpiresAt = time.Now().UTC().Add(-time.Second)
	repo.mu.Unlock()

	count, err := registry.CleanupExpiredLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := repo.Get(ctx, lock.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.ReleasedAt)
}

func TestReleaseOnDisconnect_OnlyAutoReleaseLocks(t *testing.T) {
	registry, repo := newTestRegistry()
	ctx := context.Background()

	auto, _, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1"})
	require.NoError(t, err)
	pinned, _, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o2"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.locks[pinned.ID].AutoReleaseOnDisconnect = false
	repo.mu.Unlock()

	count, err := registry.ReleaseOnDisconnect(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	released, err := repo.Get(ctx, auto.ID)
	require.NoError(t, err)
	assert.NotNil(t, released.ReleasedAt)

	kept, err := repo.Get(ctx, pinned.ID)
	require.NoError(t, err)
	assert.Nil(t, kept.ReleasedAt)
}

func TestGetLocks_OnlyActive(t *testing.T) {
	registry, repo := newTestRegistry()
	ctx := context.Background()

	active, _, err := registry.AcquireLock(ctx, "alice", models.AcquireLockRequest{EntityType: "order", EntityID: "o1", FieldPath: "notes"})
	require.NoError(t, err)
	stale, _, err := registry.AcquireLock(ctx, "bob", models.AcquireLockRequest{EntityType: "order", EntityID: "o1", FieldPath: "title"})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.locks[stale.ID].ExpiresAt = time.Now().UTC().Add(-time.Second)
	repo.mu.Unlock()

	locks, err := registry.GetLocks(ctx, "order", "o1")
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, active.ID, locks[0].ID)
}
