package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/domain/sequence"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
)

const (
	defaultSequencePageSize = 50
	maxSequencePageSize     = 1000
	uploadPutConcurrency    = 4
)

// SequenceServiceOptions groups dependencies for SequenceService.
type SequenceServiceOptions struct {
	Repo         core.SequenceRepository  // Required: sequence metadata
	Structures   core.StructureRepository // Required: structure lookup
	Content      core.ContentStore        // Required: tiered payload storage
	Upload       config.UploadConfig      // Optional: FASTA size limits
	ModelVersion string                   // Optional: structure model version served by lookups
	Logger       *slog.Logger             // Optional: structured logger
}

// SequenceService stores sequences, imports and exports FASTA and serves predicted structures.
type SequenceService struct {
	repo         core.SequenceRepository
	structures   core.StructureRepository
	content      core.ContentStore
	upload       config.UploadConfig
	modelVersion string
	logger       *slog.Logger
}

// NewSequenceService constructs a SequenceService.
func NewSequenceService(opts SequenceServiceOptions) (*SequenceService, error) {
	switch {
	case opts.Repo == nil:
		return nil, errors.New("SequenceRepository is required")
	case opts.Structures == nil:
		return nil, errors.New("StructureRepository is required")
	case opts.Content == nil:
		return nil, errors.New("ContentStore is required")
	}
	upload := opts.Upload
	upload.Sanitize()
	modelVersion := opts.ModelVersion
	if modelVersion == "" {
		modelVersion = "esmfold_v1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SequenceService{
		repo:         opts.Repo,
		structures:   opts.Structures,
		content:      opts.Content,
		upload:       upload,
		modelVersion: modelVersion,
		logger:       logger.With("component", "sequence_service"),
	}, nil
}

// Create validates and stores a single sequence.
func (s *SequenceService) Create(
	ctx context.Context,
	ownerID string,
	req *model.CreateSequenceRequest,
) (*model.Sequence, error) {
	if ownerID == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	w, err := s.prepareWrite(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}
	seq, err := s.repo.Create(ctx, w)
	if err != nil {
		s.release(ctx, w.Content)
		return nil, err
	}
	return seq, nil
}

// Get returns an owner's sequence. Sequences of other owners are reported as not found.
func (s *SequenceService) Get(ctx context.Context, ownerID, id string) (*model.Sequence, error) {
	seq, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, data.ErrSequenceNotFound) || (err == nil && seq.OwnerID != ownerID) {
		return nil, apperrors.NotFoundf("sequence %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return seq, nil
}

// List returns a page of the owner's sequences, newest first.
func (s *SequenceService) List(ctx context.Context, opts model.SequenceListOptions) ([]*model.Sequence, error) {
	if opts.OwnerID == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultSequencePageSize
	}
	opts.Limit = min(opts.Limit, maxSequencePageSize)
	opts.Offset = max(opts.Offset, 0)
	if opts.LengthGTE != nil && opts.LengthLTE != nil && *opts.LengthGTE > *opts.LengthLTE {
		return nil, apperrors.Validation("minimum length exceeds maximum length")
	}
	return s.repo.List(ctx, &opts)
}

// Update replaces a sequence. The content is re-tiered for its new size and the previous blob is
// released once the update is durable.
func (s *SequenceService) Update(
	ctx context.Context,
	ownerID, id string,
	req *model.UpdateSequenceRequest,
) (*model.Sequence, error) {
	if ownerID == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	w, err := s.prepareWrite(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}
	seq, previous, err := s.repo.Update(ctx, id, w)
	if err != nil {
		s.release(ctx, w.Content)
		if errors.Is(err, data.ErrSequenceNotFound) {
			return nil, apperrors.NotFoundf("sequence %s not found", id)
		}
		return nil, err
	}
	if previous != nil {
		s.release(ctx, *previous)
	}
	return seq, nil
}

// Delete removes a sequence and releases its blob.
func (s *SequenceService) Delete(ctx context.Context, ownerID, id string) error {
	previous, err := s.repo.Delete(ctx, id, ownerID)
	if errors.Is(err, data.ErrSequenceNotFound) {
		return apperrors.NotFoundf("sequence %s not found", id)
	}
	if err != nil {
		return err
	}
	if previous != nil {
		s.release(ctx, *previous)
	}
	return nil
}

type pendingRecord struct {
	write *model.SequenceWrite
	data  string
}

// UploadFASTA imports every record of the uploaded files. Records replace existing sequences with
// the same name. Nothing is stored unless every record is valid, and blobs written for a failed
// upload are released.
func (s *SequenceService) UploadFASTA(
	ctx context.Context,
	ownerID string,
	upload model.FastaUpload,
) (*model.FastaUploadResult, error) {
	if ownerID == "" {
		return nil, apperrors.Validation("owner id is required")
	}
	if len(upload.Files) == 0 {
		return nil, apperrors.ValidationField("files", "at least one FASTA file is required")
	}
	if upload.Type != "" && !upload.Type.Valid() {
		return nil, apperrors.ValidationField("sequenceType", fmt.Sprintf("invalid sequence type %q", upload.Type))
	}

	records, err := s.parseUpload(ctx, ownerID, upload)
	if err != nil {
		return nil, err
	}

	stored, err := s.putAll(ctx, records)
	if err != nil {
		s.release(ctx, stored...)
		return nil, fmt.Errorf("store sequence data: %w", err)
	}

	writes := make([]*model.SequenceWrite, len(records))
	for i, rec := range records {
		writes[i] = rec.write
	}
	replaced, err := s.repo.UpsertByName(ctx, writes)
	if err != nil {
		s.release(ctx, stored...)
		return nil, err
	}
	s.release(ctx, replaced...)

	s.logger.InfoContext(ctx, "fasta upload stored",
		"owner_id", ownerID,
		"files", len(upload.Files),
		"sequences", len(writes),
		"replaced", len(replaced),
	)
	return &model.FastaUploadResult{SequencesCreated: len(writes)}, nil
}

func (s *SequenceService) parseUpload(
	ctx context.Context,
	ownerID string,
	upload model.FastaUpload,
) ([]pendingRecord, error) {
	var records []pendingRecord
	remaining := s.upload.MaxTotalBytes
	for _, f := range upload.Files {
		if f.Content == nil {
			return nil, apperrors.ValidationField("files", "uploaded file has no content")
		}
		limit := min(s.upload.MaxFileBytes, remaining)
		cr := &countingReader{r: io.LimitReader(f.Content, limit+1)}

		scanErr := sequence.ScanFasta(ctx, cr, func(rec sequence.Record) error {
			residues := normalizeResidues(rec.Data)
			t, err := sequence.ValidateOrDetect(residues, rec.Name, upload.Type)
			if err != nil {
				return err
			}
			props := sequence.Derive(residues, t)
			records = append(records, pendingRecord{
				data: residues,
				write: &model.SequenceWrite{
					OwnerID:         ownerID,
					ProjectID:       upload.ProjectID,
					Name:            rec.Name,
					Description:     rec.Description,
					Type:            t,
					Length:          props.Length,
					GCContent:       props.GCContent,
					MolecularWeight: props.MolecularWeight,
					ContentHash:     props.Hash,
				},
			})
			return nil
		})
		if cr.n > limit {
			if limit < s.upload.MaxFileBytes {
				return nil, apperrors.ValidationField("files",
					fmt.Sprintf("upload exceeds the total limit of %d bytes", s.upload.MaxTotalBytes))
			}
			return nil, apperrors.ValidationField("files",
				fmt.Sprintf("file %q exceeds the limit of %d bytes", f.Filename, s.upload.MaxFileBytes))
		}
		if scanErr != nil {
			return nil, inputError(fmt.Errorf("%s: %w", uploadName(f.Filename), scanErr))
		}
		remaining -= cr.n
	}
	return records, nil
}

// putAll stores record payloads concurrently. On error it returns what was already stored so the
// caller can release it.
func (s *SequenceService) putAll(ctx context.Context, records []pendingRecord) ([]model.StoredContent, error) {
	contents := make([]model.StoredContent, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadPutConcurrency)
	for i, rec := range records {
		g.Go(func() error {
			c, err := s.content.Put(gctx, rec.write.Name, rec.data)
			if err != nil {
				return err
			}
			contents[i] = c
			return nil
		})
	}
	err := g.Wait()

	stored := make([]model.StoredContent, 0, len(contents))
	for i, c := range contents {
		if c.Inline == nil && c.Locator == nil {
			continue
		}
		records[i].write.Content = c
		stored = append(stored, c)
	}
	return stored, err
}

// ResolveBatch loads the owner's sequences for ids, in order and without duplicates. Every id must
// resolve before anything is streamed.
func (s *SequenceService) ResolveBatch(ctx context.Context, ownerID string, ids []string) ([]*model.Sequence, error) {
	if len(ids) == 0 {
		return nil, apperrors.ValidationField("sequenceIds", "at least one sequence id is required")
	}
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	found, err := s.repo.GetByIDs(ctx, unique)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Sequence, len(found))
	for _, seq := range found {
		if seq.OwnerID == ownerID {
			byID[seq.ID] = seq
		}
	}

	out := make([]*model.Sequence, 0, len(unique))
	var missing []string
	for _, id := range unique {
		seq, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, seq)
	}
	if len(missing) > 0 {
		return nil, apperrors.NotFoundf("sequences not found: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// WriteFASTA streams seqs to w as one FASTA document, one record at a time.
func (s *SequenceService) WriteFASTA(ctx context.Context, w io.Writer, seqs ...*model.Sequence) error {
	for _, seq := range seqs {
		if err := s.writeFasta(ctx, w, seq); err != nil {
			return err
		}
	}
	return nil
}

func (s *SequenceService) writeFasta(ctx context.Context, w io.Writer, seq *model.Sequence) error {
	if err := sequence.WriteFastaHeader(w, seq.Name); err != nil {
		return err
	}
	if err := s.content.Stream(ctx, seq.Content, w); err != nil {
		return fmt.Errorf("stream sequence %s: %w", seq.ID, err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// Structure returns the predicted structure of an owner's sequence for the configured model version.
func (s *SequenceService) Structure(ctx context.Context, ownerID, id string) (*model.SequenceStructure, error) {
	seq, err := s.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	st, err := s.structures.GetByHash(ctx, seq.ContentHash, s.modelVersion)
	if errors.Is(err, data.ErrStructureNotFound) {
		return nil, apperrors.NotFoundf("no structure has been predicted for sequence %s", id)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// StreamPDB copies the PDB text of a structure to w.
func (s *SequenceService) StreamPDB(ctx context.Context, st *model.SequenceStructure, w io.Writer) error {
	if err := s.content.Stream(ctx, st.PDB, w); err != nil {
		return fmt.Errorf("stream structure %s: %w", st.ID, err)
	}
	return nil
}

// Transform applies a nucleotide utility to raw sequence text.
func (s *SequenceService) Transform(req model.TransformRequest) (*model.TransformResult, error) {
	input := normalizeResidues(req.Sequence)

	var (
		out     string
		outType model.SequenceType
		err     error
	)
	switch req.Operation {
	case model.TransformReverseComplement:
		out, err = sequence.ReverseComplement(input)
		outType = model.SequenceTypeDNA
	case model.TransformTranscribe:
		out, err = sequence.Transcribe(input)
		outType = model.SequenceTypeRNA
	case model.TransformTranslate:
		outType = model.SequenceTypeProtein
		if t, detectErr := sequence.Detect(input); detectErr == nil && t == model.SequenceTypeDNA {
			out, err = sequence.TranslateDNA(input)
		} else {
			out, err = sequence.Translate(input)
		}
	default:
		return nil, apperrors.ValidationField("operation", fmt.Sprintf("unknown operation %q", req.Operation))
	}
	if err != nil {
		return nil, inputError(err)
	}
	return &model.TransformResult{
		Operation:    req.Operation,
		Input:        input,
		Output:       out,
		OutputType:   outType,
		OutputLength: len(out),
	}, nil
}

func (s *SequenceService) prepareWrite(
	ctx context.Context,
	ownerID string,
	req *model.CreateSequenceRequest,
) (*model.SequenceWrite, error) {
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperrors.ValidationField("name", "name is required")
	}
	if !req.Type.Valid() {
		return nil, apperrors.ValidationField("sequenceType", fmt.Sprintf("invalid sequence type %q", req.Type))
	}
	residues := normalizeResidues(req.SequenceData)
	if err := sequence.Validate(residues, req.Name, req.Type); err != nil {
		return nil, inputError(err)
	}

	props := sequence.Derive(residues, req.Type)
	content, err := s.content.Put(ctx, req.Name, residues)
	if err != nil {
		return nil, fmt.Errorf("store sequence data: %w", err)
	}
	return &model.SequenceWrite{
		OwnerID:         ownerID,
		ProjectID:       req.ProjectID,
		Name:            strings.TrimSpace(req.Name),
		Description:     req.Description,
		Type:            req.Type,
		Length:          props.Length,
		GCContent:       props.GCContent,
		MolecularWeight: props.MolecularWeight,
		ContentHash:     props.Hash,
		Content:         content,
	}, nil
}

func (s *SequenceService) release(ctx context.Context, contents ...model.StoredContent) {
	if len(contents) > 0 {
		s.content.Release(ctx, contents...)
	}
}

// normalizeResidues drops whitespace and upper-cases the residues.
func normalizeResidues(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// inputError turns malformed sequence input into a validation error.
func inputError(err error) error {
	var (
		alphaErr *sequence.AlphabetError
		fastaErr *sequence.FastaError
	)
	if errors.As(err, &alphaErr) || errors.As(err, &fastaErr) || errors.Is(err, sequence.ErrEmptySequence) {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "invalid sequence input")
	}
	return err
}

func uploadName(filename string) string {
	if filename == "" {
		return "upload"
	}
	return filename
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
