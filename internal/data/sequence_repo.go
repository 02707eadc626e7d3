package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jakub-figat/chromatin/internal/data/pgxutil"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
)

// SequenceRepo provides database operations for sequences.
type SequenceRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewSequenceRepo creates a new SequenceRepo reading the system clock.
func NewSequenceRepo(db *sql.DB) *SequenceRepo {
	return &SequenceRepo{DB: db, clock: systemClock{}}
}

// NewSequenceRepoWithClock creates a new SequenceRepo with an injected clock.
func NewSequenceRepoWithClock(db *sql.DB, clock Clock) *SequenceRepo {
	return &SequenceRepo{DB: db, clock: clock}
}

const sequenceColumns = `
  id, owner_id, project_id, name, description, sequence_type, length, gc_content,
  molecular_weight, content_hash, content_size, sequence_data, file_path, created_at, updated_at
`

func scanSequence(scanner rowScanner) (*model.Sequence, error) {
	var (
		s            model.Sequence
		description  sql.NullString
		gc, mw       sql.NullFloat64
		inline, path sql.NullString
		size         int64
	)
	if err := scanner.Scan(
		&s.ID, &s.OwnerID, &s.ProjectID, &s.Name, &description, &s.Type, &s.Length, &gc,
		&mw, &s.ContentHash, &size, &inline, &path, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Description = nullString(description)
	s.GCContent = nullableFloat(gc)
	s.MolecularWeight = nullableFloat(mw)
	s.Content = model.StoredContent{
		Inline:  nullString(inline),
		Locator: nullString(path),
		Size:    size,
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func nullableFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func validateWrite(w *model.SequenceWrite) error {
	if w == nil {
		return errors.New("sequence write is required")
	}
	if strings.TrimSpace(w.OwnerID) == "" || strings.TrimSpace(w.Name) == "" {
		return errors.New("owner id and name are required")
	}
	return w.Content.Validate()
}

// Create inserts a new sequence.
func (r *SequenceRepo) Create(ctx context.Context, w *model.SequenceWrite) (*model.Sequence, error) {
	if err := validateWrite(w); err != nil {
		return nil, err
	}
	now := r.clock.Now().UTC()
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO sequences (
			id, owner_id, project_id, name, description, sequence_type, length, gc_content,
			molecular_weight, content_hash, content_size, sequence_data, file_path, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		RETURNING `+sequenceColumns,
		uuid.NewString(), w.OwnerID, w.ProjectID, w.Name, w.Description, string(w.Type), w.Length,
		w.GCContent, w.MolecularWeight, w.ContentHash, w.Content.Size, w.Content.Inline, w.Content.Locator, now,
	)
	s, err := scanSequence(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return s, nil
}

// GetByID retrieves a sequence, including inline content or its locator.
func (r *SequenceRepo) GetByID(ctx context.Context, id string) (*model.Sequence, error) {
	if !validID(id) {
		return nil, ErrSequenceNotFound
	}
	row := r.DB.QueryRowContext(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE id = $1`, id)
	s, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	return s, nil
}

// GetByIDs loads several sequences in one query, in the order of ids. Unknown ids are skipped.
func (r *SequenceRepo) GetByIDs(ctx context.Context, ids []string) ([]*model.Sequence, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil, nil
	}

	byID := make(map[string]*model.Sequence, len(valid))
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+sequenceColumns+` FROM sequences WHERE id = ANY($1::uuid[])`, valid)
		if err != nil {
			return fmt.Errorf("query sequences: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			s, scanErr := scanSequence(rows)
			if scanErr != nil {
				return fmt.Errorf("scan sequence: %w", scanErr)
			}
			byID[s.ID] = s
		}
		return rows.Err()
	}); err != nil {
		return nil, err
	}

	out := make([]*model.Sequence, 0, len(byID))
	for _, id := range valid {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func buildSequenceListQuery(opts *model.SequenceListOptions) (string, []any) {
	builder := &filterQueryBuilder{
		query:  `SELECT ` + sequenceColumns + ` FROM sequences WHERE owner_id = $1`,
		args:   []any{opts.OwnerID},
		argIdx: 2,
	}
	if opts.ProjectID != nil {
		builder.addFilter("project_id", *opts.ProjectID)
	}
	if opts.Type != nil {
		builder.addFilter("sequence_type", string(*opts.Type))
	}
	if opts.Name != nil && *opts.Name != "" {
		builder.addCond("name ILIKE %s", "%"+escapeLike(*opts.Name)+"%")
	}
	if opts.LengthGTE != nil {
		builder.addCond("length >= %s", *opts.LengthGTE)
	}
	if opts.LengthLTE != nil {
		builder.addCond("length <= %s", *opts.LengthLTE)
	}
	builder.paginate("created_at DESC, id DESC", opts.Limit, opts.Offset)
	return builder.query, builder.args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// List returns an owner's sequences, newest first.
func (r *SequenceRepo) List(ctx context.Context, opts *model.SequenceListOptions) ([]*model.Sequence, error) {
	if opts == nil || opts.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	query, args := buildSequenceListQuery(opts)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sequences: %w", err)
	}
	defer rows.Close()

	var out []*model.Sequence
	for rows.Next() {
		s, scanErr := scanSequence(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan sequence: %w", scanErr)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update replaces a sequence's fields and content. It returns the updated row and the content it
// replaced so the caller can release the previous blob after this write is durable.
func (r *SequenceRepo) Update(
	ctx context.Context,
	id string,
	w *model.SequenceWrite,
) (*model.Sequence, *model.StoredContent, error) {
	if err := validateWrite(w); err != nil {
		return nil, nil, err
	}
	if !validID(id) {
		return nil, nil, ErrSequenceNotFound
	}

	var (
		updated  *model.Sequence
		previous *model.StoredContent
	)
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var inline, path sql.NullString
			var size int64
			if err := tx.QueryRowContext(ctx, `
				SELECT sequence_data, file_path, content_size FROM sequences
				WHERE id = $1 AND owner_id = $2
				FOR UPDATE
			`, id, w.OwnerID).Scan(&inline, &path, &size); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrSequenceNotFound
				}
				return err
			}
			previous = &model.StoredContent{
				Inline:  nullString(inline),
				Locator: nullString(path),
				Size:    size,
			}

			row := tx.QueryRowContext(ctx, `
				UPDATE sequences
				SET project_id = $2, name = $3, description = $4, sequence_type = $5, length = $6,
				    gc_content = $7, molecular_weight = $8, content_hash = $9, content_size = $10,
				    sequence_data = $11, file_path = $12, updated_at = $13
				WHERE id = $1
				RETURNING `+sequenceColumns,
				id, w.ProjectID, w.Name, w.Description, string(w.Type), w.Length, w.GCContent,
				w.MolecularWeight, w.ContentHash, w.Content.Size, w.Content.Inline, w.Content.Locator,
				r.clock.Now().UTC(),
			)
			s, err := scanSequence(row)
			if err != nil {
				return err
			}
			updated = s
			return nil
		},
	})
	if errors.Is(err, ErrSequenceNotFound) {
		return nil, nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, nil, apperrors.MapDBError(err)
	}
	return updated, previous, nil
}

// Delete removes an owner's sequence and returns its content location.
func (r *SequenceRepo) Delete(ctx context.Context, id, ownerID string) (*model.StoredContent, error) {
	if !validID(id) {
		return nil, ErrSequenceNotFound
	}
	var inline, path sql.NullString
	var size int64
	err := r.DB.QueryRowContext(ctx, `
		DELETE FROM sequences
		WHERE id = $1 AND owner_id = $2
		RETURNING sequence_data, file_path, content_size
	`, id, ownerID).Scan(&inline, &path, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSequenceNotFound
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return &model.StoredContent{
		Inline:  nullString(inline),
		Locator: nullString(path),
		Size:    size,
	}, nil
}

// UpsertByName inserts or replaces sequences keyed by (owner, name) in a single transaction.
// It returns the content locations of replaced rows.
func (r *SequenceRepo) UpsertByName(ctx context.Context, writes []*model.SequenceWrite) ([]model.StoredContent, error) {
	for _, w := range writes {
		if err := validateWrite(w); err != nil {
			return nil, err
		}
	}

	var replaced []model.StoredContent
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			replaced = replaced[:0]
			now := r.clock.Now().UTC()
			for _, w := range writes {
				var prevInline, prevPath sql.NullString
				var prevSize sql.NullInt64
				err := tx.QueryRowContext(ctx, `
					SELECT sequence_data, file_path, content_size FROM sequences
					WHERE owner_id = $1 AND name = $2
					FOR UPDATE
				`, w.OwnerID, w.Name).Scan(&prevInline, &prevPath, &prevSize)
				switch {
				case errors.Is(err, sql.ErrNoRows):
				case err != nil:
					return err
				default:
					replaced = append(replaced, model.StoredContent{
						Inline:  nullString(prevInline),
						Locator: nullString(prevPath),
						Size:    prevSize.Int64,
					})
				}

				if _, err := tx.ExecContext(ctx, `
					INSERT INTO sequences (
						id, owner_id, project_id, name, description, sequence_type, length, gc_content,
						molecular_weight, content_hash, content_size, sequence_data, file_path, created_at, updated_at
					) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
					ON CONFLICT (owner_id, name) DO UPDATE SET
						project_id = EXCLUDED.project_id,
						description = EXCLUDED.description,
						sequence_type = EXCLUDED.sequence_type,
						length = EXCLUDED.length,
						gc_content = EXCLUDED.gc_content,
						molecular_weight = EXCLUDED.molecular_weight,
						content_hash = EXCLUDED.content_hash,
						content_size = EXCLUDED.content_size,
						sequence_data = EXCLUDED.sequence_data,
						file_path = EXCLUDED.file_path,
						updated_at = EXCLUDED.updated_at
				`,
					uuid.NewString(), w.OwnerID, w.ProjectID, w.Name, w.Description, string(w.Type), w.Length,
					w.GCContent, w.MolecularWeight, w.ContentHash, w.Content.Size, w.Content.Inline,
					w.Content.Locator, now,
				); err != nil {
					return fmt.Errorf("upsert sequence %q: %w", w.Name, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return replaced, nil
}
