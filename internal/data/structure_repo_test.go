package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/domain/sequence"
	"github.com/jakub-figat/chromatin/internal/testutil"
)

func TestStructureRepo_UpsertAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		seqs := NewSequenceRepo(db)
		repo := NewStructureRepo(db)
		ctx := context.Background()

		seq, err := seqs.Create(ctx, testutil.NewSequenceWrite(testOwner, "p", "MKV").Build())
		require.NoError(t, err)

		locator := "01H_structure"
		first := &model.SequenceStructure{
			SequenceID:       &seq.ID,
			SequenceHash:     sequence.Hash("MKV"),
			Source:           "esmfold",
			ModelVersion:     "esmfold_v1",
			ResidueCount:     3,
			MeanConfidence:   0.8,
			MinConfidence:    0.7,
			MaxConfidence:    0.9,
			ConfidenceScores: []float64{0.7, 0.8, 0.9},
			PDB:              model.StoredContent{Locator: &locator, Size: 20000},
		}
		stored, replaced, err := repo.Upsert(ctx, first)
		require.NoError(t, err)
		assert.Nil(t, replaced)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, first.ConfidenceScores, stored.ConfidenceScores)

		pdb := "ATOM"
		second := *first
		second.SequenceID = nil
		second.PDB = model.StoredContent{Inline: &pdb, Size: 4}
		restored, replaced, err := repo.Upsert(ctx, &second)
		require.NoError(t, err)
		assert.Equal(t, stored.ID, restored.ID, "one row per hash and model version")
		require.NotNil(t, replaced)
		require.NotNil(t, replaced.Locator)
		assert.Equal(t, locator, *replaced.Locator)
		require.NotNil(t, restored.SequenceID, "existing sequence link is kept")
		assert.Equal(t, seq.ID, *restored.SequenceID)

		got, err := repo.GetByHash(ctx, sequence.Hash("mkv"), "esmfold_v1")
		require.NoError(t, err)
		assert.Equal(t, model.StorageInline, got.PDB.Tier())

		_, err = repo.GetByHash(ctx, sequence.Hash("MKV"), "esmfold_v2")
		require.ErrorIs(t, err, ErrStructureNotFound)

		_, err = seqs.Delete(ctx, seq.ID, testOwner)
		require.NoError(t, err)
		got, err = repo.GetByHash(ctx, sequence.Hash("MKV"), "esmfold_v1")
		require.NoError(t, err)
		assert.Nil(t, got.SequenceID, "structure outlives its originating sequence")
	})
}
