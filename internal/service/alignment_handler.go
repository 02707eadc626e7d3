package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/domain/alignment"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/domain/sequence"
)

// AlignmentHandlerOptions groups dependencies for AlignmentHandler.
type AlignmentHandlerOptions struct {
	Sequences core.SequenceRepository // Required: sequence metadata
	Content   core.ContentStore       // Required: sequence payloads
	MaxCells  int64                   // Optional: bound on len1*len2, zero disables
	Cache     *core.ResultCache       // Optional: populated after each alignment
	Logger    *slog.Logger            // Optional: structured logger
}

// AlignmentHandler runs PAIRWISE_ALIGNMENT jobs.
type AlignmentHandler struct {
	sequences core.SequenceRepository
	content   core.ContentStore
	maxCells  int64
	cache     *core.ResultCache
	logger    *slog.Logger
}

// NewAlignmentHandler constructs an AlignmentHandler.
func NewAlignmentHandler(opts AlignmentHandlerOptions) (*AlignmentHandler, error) {
	if opts.Sequences == nil || opts.Content == nil {
		return nil, errors.New("sequence repository and content store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AlignmentHandler{
		sequences: opts.Sequences,
		content:   opts.Content,
		maxCells:  opts.MaxCells,
		cache:     opts.Cache,
		logger:    logger.With("component", "alignment_handler"),
	}, nil
}

// Handle implements JobHandler.
func (h *AlignmentHandler) Handle(ctx context.Context, job *model.Job) (model.JobResult, error) {
	p, ok := job.Params.(model.PairwiseAlignmentParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params %T for %s job", job.Params, job.Type)
	}
	p = p.WithDefaults()

	seq1, err := h.sequence(ctx, p.SequenceID1)
	if err != nil {
		return nil, err
	}
	seq2, err := h.sequence(ctx, p.SequenceID2)
	if err != nil {
		return nil, err
	}
	if seq1.Type != seq2.Type {
		return nil, fmt.Errorf("cannot align sequences of different types: %s vs %s", seq1.Type, seq2.Type)
	}
	// Reject before loading payloads that could never be aligned.
	if h.maxCells > 0 && int64(seq1.Length)*int64(seq2.Length) > h.maxCells {
		return nil, &alignment.SizeError{Len1: seq1.Length, Len2: seq2.Length, MaxCells: h.maxCells}
	}

	var data1, data2 string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data1, err = h.content.Load(gctx, seq1.Content)
		return err
	})
	g.Go(func() (err error) {
		data2, err = h.content.Load(gctx, seq2.Content)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load sequence data: %w", err)
	}

	sc := p.Scoring()
	mode := alignment.Global
	if p.AlignmentType == model.AlignmentLocal {
		mode = alignment.Local
	}
	res, err := alignment.Align(ctx, data1, data2, alignment.Options{
		Mode: mode,
		Scoring: alignment.Scoring{
			Match:     sc.MatchScore,
			Mismatch:  sc.MismatchScore,
			GapOpen:   sc.GapOpenScore,
			GapExtend: sc.GapExtendScore,
		},
		MaxCells: h.maxCells,
		Alphabet: sequence.Alphabet(seq1.Type),
	})
	if err != nil {
		return nil, err
	}
	h.logger.DebugContext(ctx, "alignment computed",
		"job_id", job.ID,
		"mode", mode,
		"len1", len(data1),
		"len2", len(data2),
		"score", res.Score,
	)

	out := model.PairwiseAlignmentResult{
		SequenceID1:     seq1.ID,
		SequenceID2:     seq2.ID,
		SequenceName1:   seq1.Name,
		SequenceName2:   seq2.Name,
		AlignmentType:   p.AlignmentType,
		AlignmentScore:  res.Score,
		AlignedSeq1:     res.Aligned1,
		AlignedSeq2:     res.Aligned2,
		AlignmentLength: res.Length,
		Matches:         res.Matches,
		Mismatches:      res.Mismatches,
		Gaps:            res.Gaps,
		IdentityPercent: res.Identity,
		Cigar:           res.Cigar,
		ScoringParams:   sc,
	}
	h.cache.Store(ctx, alignmentCacheKey(h.cache, seq1.ContentHash, seq2.ContentHash, p), out)
	return out, nil
}

func (h *AlignmentHandler) sequence(ctx context.Context, id string) (*model.Sequence, error) {
	seq, err := h.sequences.GetByID(ctx, id)
	if errors.Is(err, data.ErrSequenceNotFound) {
		return nil, fmt.Errorf("sequence %s no longer exists", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", id, err)
	}
	return seq, nil
}
