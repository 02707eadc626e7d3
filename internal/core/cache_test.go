package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/mocks"
)

func newResultCache(t *testing.T) (*core.ResultCache, *mocks.MockCacheRepository) {
	t.Helper()
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockCacheRepository(ctrl)
	return core.NewResultCache(core.ResultCacheOptions{
		Cache:  repo,
		Config: core.ResultCacheConfig{TTL: time.Hour, Namespace: "test"},
	}), repo
}

func TestResultCache_Key(t *testing.T) {
	rc := core.NewResultCache(core.ResultCacheOptions{})

	a := rc.Key("structure", "hash-1", "esmfold_v1")
	assert.True(t, strings.HasPrefix(a, "chromatin:result:structure:"))
	assert.Equal(t, a, rc.Key("structure", "hash-1", "esmfold_v1"))
	assert.NotEqual(t, a, rc.Key("structure", "hash-1", "esmfold_v2"))
	assert.NotEqual(t, a, rc.Key("alignment", "hash-1", "esmfold_v1"))
	// Parts are delimited, so shifting a boundary changes the key.
	assert.NotEqual(t, rc.Key("k", "ab", "c"), rc.Key("k", "a", "bc"))
}

func TestResultCache_Lookup(t *testing.T) {
	t.Parallel()

	want := model.StructurePredictionResult{StructureID: "s-1", ResidueCount: 2}

	tests := []struct {
		name  string
		setup func(*mocks.MockCacheRepository)
		hit   bool
	}{
		{
			name: "hit decodes the entry",
			setup: func(repo *mocks.MockCacheRepository) {
				repo.EXPECT().Get(gomock.Any(), "key").Return([]byte(`{"structureId":"s-1","residueCount":2}`), nil)
			},
			hit: true,
		},
		{
			name: "absent key is a miss",
			setup: func(repo *mocks.MockCacheRepository) {
				repo.EXPECT().Get(gomock.Any(), "key").Return(nil, nil)
			},
		},
		{
			name: "read failure is a miss",
			setup: func(repo *mocks.MockCacheRepository) {
				repo.EXPECT().Get(gomock.Any(), "key").Return(nil, errors.New("connection refused"))
			},
		},
		{
			name: "undecodable entry is a miss",
			setup: func(repo *mocks.MockCacheRepository) {
				repo.EXPECT().Get(gomock.Any(), "key").Return([]byte("{not json"), nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc, repo := newResultCache(t)
			tt.setup(repo)

			var got model.StructurePredictionResult
			hit := rc.Lookup(context.Background(), "key", &got)
			assert.Equal(t, tt.hit, hit)
			if tt.hit {
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestResultCache_StoreIsBestEffort(t *testing.T) {
	rc, repo := newResultCache(t)
	repo.EXPECT().
		Set(gomock.Any(), "key", gomock.Any(), time.Hour).
		DoAndReturn(func(_ context.Context, _ string, value []byte, _ time.Duration) error {
			assert.Contains(t, string(value), `"residueCount":3`)
			return errors.New("redis down")
		})

	// A failed write must not panic or surface to the caller.
	rc.Store(context.Background(), "key", model.StructurePredictionResult{ResidueCount: 3})
}

func TestResultCache_Invalidate(t *testing.T) {
	rc, repo := newResultCache(t)
	repo.EXPECT().Delete(gomock.Any(), "key").Return(true, nil)
	require.NoError(t, rc.Invalidate(context.Background(), "key"))
}

func TestResultCache_NilBackendAlwaysMisses(t *testing.T) {
	rc := core.NewResultCache(core.ResultCacheOptions{})
	var dst model.PairwiseAlignmentResult

	assert.False(t, rc.Lookup(context.Background(), "key", &dst))
	rc.Store(context.Background(), "key", dst)
	require.NoError(t, rc.Invalidate(context.Background(), "key"))
}
