package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/domain/model"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
	"github.com/jakub-figat/chromatin/internal/testutil"
)

func TestBuildSequenceListQuery(t *testing.T) {
	project := "p1"
	name := "50%_x"
	minLen, maxLen := 10, 20
	protein := model.SequenceTypeProtein

	query, args := buildSequenceListQuery(&model.SequenceListOptions{
		OwnerID:   "u",
		ProjectID: &project,
		Type:      &protein,
		Name:      &name,
		LengthGTE: &minLen,
		LengthLTE: &maxLen,
		Limit:     25,
	})

	for _, part := range []string{
		"owner_id = $1",
		"AND project_id = $2",
		"AND sequence_type = $3",
		"AND name ILIKE $4",
		"AND length >= $5",
		"AND length <= $6",
		"LIMIT $7 OFFSET $8",
	} {
		assert.Contains(t, query, part)
	}
	assert.Equal(t, []any{"u", "p1", "PROTEIN", `%50\%\_x%`, 10, 20, 25, 0}, args)
}

func TestSequenceRepo_CRUD(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSequenceRepo(db)
		ctx := context.Background()

		created, err := repo.Create(ctx, testutil.NewSequenceWrite(testOwner, "brca", "ACGTGC").Build())
		require.NoError(t, err)
		assert.Equal(t, model.SequenceTypeDNA, created.Type)
		assert.Equal(t, 6, created.Length)
		require.NotNil(t, created.GCContent)
		assert.InDelta(t, 4.0/6.0, *created.GCContent, 1e-9)
		assert.Equal(t, model.StorageInline, created.Content.Tier())

		t.Run("duplicate name conflicts", func(t *testing.T) {
			_, dupErr := repo.Create(ctx, testutil.NewSequenceWrite(testOwner, "brca", "ACGT").Build())
			require.Error(t, dupErr)
			assert.True(t, apperrors.IsConflict(dupErr))
			assert.Equal(t, "name", apperrors.GetField(dupErr))
		})

		t.Run("same name for another owner is allowed", func(t *testing.T) {
			_, otherErr := repo.Create(ctx, testutil.NewSequenceWrite("other-owner", "brca", "ACGT").Build())
			require.NoError(t, otherErr)
		})

		t.Run("update returns the replaced content", func(t *testing.T) {
			w := testutil.NewSequenceWrite(testOwner, "brca", "MKVL").WithLocator("01H_brca").Build()
			updated, previous, updErr := repo.Update(ctx, created.ID, w)
			require.NoError(t, updErr)
			assert.Equal(t, model.SequenceTypeProtein, updated.Type)
			assert.Equal(t, model.StorageExternal, updated.Content.Tier())
			require.NotNil(t, previous)
			require.NotNil(t, previous.Inline)
			assert.Equal(t, "ACGTGC", *previous.Inline)

			_, _, updErr = repo.Update(ctx, created.ID, testutil.NewSequenceWrite("other-owner", "x", "ACGT").Build())
			require.ErrorIs(t, updErr, ErrSequenceNotFound)
		})

		t.Run("get by ids preserves order and skips unknown", func(t *testing.T) {
			second, createErr := repo.Create(ctx, testutil.NewSequenceWrite(testOwner, "second", "ACGU").Build())
			require.NoError(t, createErr)

			got, getErr := repo.GetByIDs(ctx, []string{second.ID, uuid.NewString(), "junk", created.ID})
			require.NoError(t, getErr)
			require.Len(t, got, 2)
			assert.Equal(t, second.ID, got[0].ID)
			assert.Equal(t, created.ID, got[1].ID)
		})

		t.Run("list filters by owner and length", func(t *testing.T) {
			minLen := 4
			list, listErr := repo.List(ctx, &model.SequenceListOptions{OwnerID: testOwner, LengthGTE: &minLen})
			require.NoError(t, listErr)
			require.Len(t, list, 2)
			for _, s := range list {
				assert.Equal(t, testOwner, s.OwnerID)
			}
		})

		t.Run("delete returns content and hides the row", func(t *testing.T) {
			content, delErr := repo.Delete(ctx, created.ID, testOwner)
			require.NoError(t, delErr)
			require.NotNil(t, content.Locator)
			assert.Equal(t, "01H_brca", *content.Locator)

			_, getErr := repo.GetByID(ctx, created.ID)
			require.ErrorIs(t, getErr, ErrSequenceNotFound)
			_, delErr = repo.Delete(ctx, created.ID, testOwner)
			require.ErrorIs(t, delErr, ErrSequenceNotFound)
		})
	})
}

func TestSequenceRepo_UpsertByName(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSequenceRepo(db)
		ctx := context.Background()

		_, err := repo.Create(ctx, testutil.NewSequenceWrite(testOwner, "a", "ACGT").WithLocator("old_a").Build())
		require.NoError(t, err)

		replaced, err := repo.UpsertByName(ctx, []*model.SequenceWrite{
			testutil.NewSequenceWrite(testOwner, "a", "GGGG").Build(),
			testutil.NewSequenceWrite(testOwner, "b", "CCCC").Build(),
		})
		require.NoError(t, err)
		require.Len(t, replaced, 1)
		require.NotNil(t, replaced[0].Locator)
		assert.Equal(t, "old_a", *replaced[0].Locator)

		list, err := repo.List(ctx, &model.SequenceListOptions{OwnerID: testOwner})
		require.NoError(t, err)
		require.Len(t, list, 2)
		byName := map[string]*model.Sequence{}
		for _, s := range list {
			byName[s.Name] = s
		}
		require.NotNil(t, byName["a"].Content.Inline)
		assert.Equal(t, "GGGG", *byName["a"].Content.Inline)
	})
}

func TestSequenceRepo_RejectsAmbiguousContent(t *testing.T) {
	repo := NewSequenceRepo(nil)
	w := testutil.NewSequenceWrite(testOwner, "x", "ACGT").Build()
	locator := "both"
	w.Content.Locator = &locator

	_, err := repo.Create(context.Background(), w)
	require.Error(t, err)
}
