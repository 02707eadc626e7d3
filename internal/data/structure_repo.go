package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jakub-figat/chromatin/internal/data/pgxutil"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
)

// StructureRepo stores predicted structures keyed by (sequence hash, model version).
type StructureRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewStructureRepo creates a new StructureRepo.
func NewStructureRepo(db *sql.DB) *StructureRepo {
	return &StructureRepo{DB: db, clock: systemClock{}}
}

const structureColumns = `
  id, sequence_id, sequence_hash, source, model_version, residue_count, mean_confidence,
  min_confidence, max_confidence, confidence_scores, pdb_size, pdb_data, pdb_path, created_at
`

func scanStructure(scanner rowScanner) (*model.SequenceStructure, error) {
	var (
		s            model.SequenceStructure
		sequenceID   sql.NullString
		scores       []byte
		inline, path sql.NullString
		size         int64
	)
	if err := scanner.Scan(
		&s.ID, &sequenceID, &s.SequenceHash, &s.Source, &s.ModelVersion, &s.ResidueCount, &s.MeanConfidence,
		&s.MinConfidence, &s.MaxConfidence, &scores, &size, &inline, &path, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scores, &s.ConfidenceScores); err != nil {
		return nil, fmt.Errorf("decode confidence scores: %w", err)
	}
	s.SequenceID = nullString(sequenceID)
	s.PDB = model.StoredContent{
		Inline:  nullString(inline),
		Locator: nullString(path),
		Size:    size,
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return &s, nil
}

// Upsert stores a structure, replacing any previous prediction for the same hash and model version.
// The replaced PDB location is returned so its blob can be released.
func (r *StructureRepo) Upsert(
	ctx context.Context,
	st *model.SequenceStructure,
) (*model.SequenceStructure, *model.StoredContent, error) {
	if st == nil || st.SequenceHash == "" || st.ModelVersion == "" {
		return nil, nil, errors.New("structure hash and model version are required")
	}
	if err := st.PDB.Validate(); err != nil {
		return nil, nil, err
	}
	scores, err := encodeJSON(st.ConfidenceScores)
	if err != nil {
		return nil, nil, err
	}
	if scores == nil {
		scores = []byte("[]")
	}

	var (
		stored   *model.SequenceStructure
		replaced *model.StoredContent
	)
	err = pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			replaced = nil
			var prevInline, prevPath sql.NullString
			var prevSize int64
			switch scanErr := tx.QueryRowContext(ctx, `
				SELECT pdb_data, pdb_path, pdb_size FROM sequence_structures
				WHERE sequence_hash = $1 AND model_version = $2
				FOR UPDATE
			`, st.SequenceHash, st.ModelVersion).Scan(&prevInline, &prevPath, &prevSize); {
			case errors.Is(scanErr, sql.ErrNoRows):
			case scanErr != nil:
				return scanErr
			default:
				replaced = &model.StoredContent{
					Inline:  nullString(prevInline),
					Locator: nullString(prevPath),
					Size:    prevSize,
				}
			}

			row := tx.QueryRowContext(ctx, `
				INSERT INTO sequence_structures (
					id, sequence_id, sequence_hash, source, model_version, residue_count, mean_confidence,
					min_confidence, max_confidence, confidence_scores, pdb_size, pdb_data, pdb_path, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
				ON CONFLICT (sequence_hash, model_version) DO UPDATE SET
					sequence_id = COALESCE(EXCLUDED.sequence_id, sequence_structures.sequence_id),
					source = EXCLUDED.source,
					residue_count = EXCLUDED.residue_count,
					mean_confidence = EXCLUDED.mean_confidence,
					min_confidence = EXCLUDED.min_confidence,
					max_confidence = EXCLUDED.max_confidence,
					confidence_scores = EXCLUDED.confidence_scores,
					pdb_size = EXCLUDED.pdb_size,
					pdb_data = EXCLUDED.pdb_data,
					pdb_path = EXCLUDED.pdb_path,
					created_at = EXCLUDED.created_at
				RETURNING `+structureColumns,
				uuid.NewString(), st.SequenceID, st.SequenceHash, st.Source, st.ModelVersion, st.ResidueCount,
				st.MeanConfidence, st.MinConfidence, st.MaxConfidence, scores, st.PDB.Size, st.PDB.Inline,
				st.PDB.Locator, r.clock.Now().UTC(),
			)
			s, scanErr := scanStructure(row)
			if scanErr != nil {
				return scanErr
			}
			stored = s
			return nil
		},
	})
	if err != nil {
		return nil, nil, apperrors.MapDBError(err)
	}
	return stored, replaced, nil
}

// GetByHash returns the structure predicted for a content hash by a model version.
func (r *StructureRepo) GetByHash(ctx context.Context, hash, modelVersion string) (*model.SequenceStructure, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+structureColumns+` FROM sequence_structures
		WHERE sequence_hash = $1 AND model_version = $2
	`, hash, modelVersion)
	s, err := scanStructure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrStructureNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get structure: %w", err)
	}
	return s, nil
}
