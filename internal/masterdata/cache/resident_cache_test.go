package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	masterdata "qhome-metering/internal/masterdata/domain"
)

type countingResidentRepo struct {
	calls     int
	residents map[string]*masterdata.Resident
}

func (r *countingResidentRepo) PrimaryByUnit(ctx context.Context, unitID string) (*masterdata.Resident, error) {
	r.calls++
	return r.residents[unitID], nil
}

func (r *countingResidentRepo) ListByUnit(ctx context.Context, unitID string) ([]masterdata.Resident, error) {
	if res := r.residents[unitID]; res != nil {
		return []masterdata.Resident{*res}, nil
	}
	return nil, nil
}

func (r *countingResidentRepo) Save(ctx context.Context, resident *masterdata.Resident) error {
	r.residents[resident.UnitID] = resident
	return nil
}

func setupCache(t *testing.T) (*countingResidentRepo, *ResidentCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	repo := &countingResidentRepo{residents: map[string]*masterdata.Resident{
		"unit-1": {ID: "res-1", UnitID: "unit-1", FullName: "Nguyen Van A", Primary: true, MovedInAt: time.Now().UTC()},
	}}
	cache, err := NewResidentCache(repo, client, time.Minute, zap.NewNop())
	require.NoError(t, err)
	return repo, cache, srv
}

func TestResidentCache_ReadThrough(t *testing.T) {
	repo, cache, _ := setupCache(t)
	ctx := context.Background()

	res, err := cache.PrimaryByUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "res-1", res.ID)
	assert.Equal(t, 1, repo.calls)

	// second read served from cache
	res, err = cache.PrimaryByUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, repo.calls)
}

func TestResidentCache_CachesAbsent(t *testing.T) {
	repo, cache, _ := setupCache(t)
	ctx := context.Background()

	res, err := cache.PrimaryByUnit(ctx, "unit-empty")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, repo.calls)

	res, err = cache.PrimaryByUnit(ctx, "unit-empty")
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Equal(t, 1, repo.calls, "absent result must also be cached")
}

func TestResidentCache_InvalidateOnSave(t *testing.T) {
	repo, cache, _ := setupCache(t)
	ctx := context.Background()

	_, err := cache.PrimaryByUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.Equal(t, 1, repo.calls)

	err = cache.Save(ctx, &masterdata.Resident{ID: "res-2", UnitID: "unit-1", FullName: "Tran Thi B", Primary: true, MovedInAt: time.Now().UTC()})
	require.NoError(t, err)

	res, err := cache.PrimaryByUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "res-2", res.ID)
	assert.Equal(t, 2, repo.calls, "save must invalidate the cached entry")
}

func TestResidentCache_FallsBackWhenRedisDown(t *testing.T) {
	repo, cache, srv := setupCache(t)
	ctx := context.Background()
	srv.Close()

	res, err := cache.PrimaryByUnit(ctx, "unit-1")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, repo.calls)
}
