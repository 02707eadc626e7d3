package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jakub-figat/chromatin/internal/core"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/domain/sequence"
)

// PredictionHandlerOptions groups dependencies for PredictionHandler.
type PredictionHandlerOptions struct {
	Sequences   core.SequenceRepository  // Required: sequence metadata
	Structures  core.StructureRepository // Required: content addressed structures
	Content     core.ContentStore        // Required: sequence and PDB payloads
	Client      core.PredictionClient    // Required: external folding service
	MaxResidues int                      // Optional: zero disables the length check
	Cache       *core.ResultCache        // Optional: populated after each prediction
	Logger      *slog.Logger             // Optional: structured logger
}

// PredictionHandler runs STRUCTURE_PREDICTION jobs.
type PredictionHandler struct {
	sequences   core.SequenceRepository
	structures  core.StructureRepository
	content     core.ContentStore
	client      core.PredictionClient
	maxResidues int
	cache       *core.ResultCache
	logger      *slog.Logger
}

// NewPredictionHandler constructs a PredictionHandler.
func NewPredictionHandler(opts PredictionHandlerOptions) (*PredictionHandler, error) {
	switch {
	case opts.Sequences == nil:
		return nil, errors.New("SequenceRepository is required")
	case opts.Structures == nil:
		return nil, errors.New("StructureRepository is required")
	case opts.Content == nil:
		return nil, errors.New("ContentStore is required")
	case opts.Client == nil:
		return nil, errors.New("PredictionClient is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictionHandler{
		sequences:   opts.Sequences,
		structures:  opts.Structures,
		content:     opts.Content,
		client:      opts.Client,
		maxResidues: opts.MaxResidues,
		cache:       opts.Cache,
		logger:      logger.With("component", "prediction_handler"),
	}, nil
}

// Handle implements JobHandler.
func (h *PredictionHandler) Handle(ctx context.Context, job *model.Job) (model.JobResult, error) {
	p, ok := job.Params.(model.StructurePredictionParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params %T for %s job", job.Params, job.Type)
	}

	seq, err := h.sequences.GetByID(ctx, p.SequenceID)
	if errors.Is(err, data.ErrSequenceNotFound) {
		return nil, fmt.Errorf("sequence %s no longer exists", p.SequenceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load sequence %s: %w", p.SequenceID, err)
	}
	// The sequence may have been edited since submission.
	if seq.Type != model.SequenceTypeProtein {
		return nil, fmt.Errorf("%w: structure prediction is only supported for protein sequences", core.ErrPrediction)
	}
	if h.maxResidues > 0 && seq.Length > h.maxResidues {
		return nil, fmt.Errorf("%w: sequence length %d exceeds the limit of %d residues",
			core.ErrPrediction, seq.Length, h.maxResidues)
	}

	residues, err := h.content.Load(ctx, seq.Content)
	if err != nil {
		return nil, fmt.Errorf("load sequence data: %w", err)
	}
	hash := sequence.Hash(residues)
	modelVersion := h.client.ModelVersion()

	if !p.ForceRecompute {
		existing, getErr := h.structures.GetByHash(ctx, hash, modelVersion)
		switch {
		case getErr == nil:
			h.logger.DebugContext(ctx, "reusing stored structure", "job_id", job.ID, "structure_id", existing.ID)
			return structureResult(seq, existing, true), nil
		case !errors.Is(getErr, data.ErrStructureNotFound):
			return nil, fmt.Errorf("look up stored structure: %w", getErr)
		}
	}

	pdb, err := h.client.Predict(ctx, strings.ToUpper(residues))
	if err != nil {
		return nil, err
	}
	scores, err := ParsePDBConfidence(pdb)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrPrediction, err)
	}
	if len(scores) == 0 {
		return nil, fmt.Errorf("%w: response did not contain residue confidence scores", core.ErrPrediction)
	}

	stored, err := h.content.Put(ctx, "structure-"+hash+".pdb", pdb)
	if err != nil {
		return nil, fmt.Errorf("store pdb: %w", err)
	}
	minC, maxC, meanC := summarizeScores(scores)
	st, replaced, err := h.structures.Upsert(ctx, &model.SequenceStructure{
		SequenceID:       &seq.ID,
		SequenceHash:     hash,
		Source:           h.client.Source(),
		ModelVersion:     modelVersion,
		ResidueCount:     len(scores),
		MeanConfidence:   meanC,
		MinConfidence:    minC,
		MaxConfidence:    maxC,
		ConfidenceScores: scores,
		PDB:              stored,
	})
	if err != nil {
		h.content.Release(ctx, stored)
		return nil, fmt.Errorf("save structure: %w", err)
	}
	if replaced != nil {
		h.content.Release(ctx, *replaced)
	}

	out := structureResult(seq, st, false)
	h.cache.Store(ctx, structureCacheKey(h.cache, hash, modelVersion), out)
	h.logger.DebugContext(ctx, "structure predicted",
		"job_id", job.ID,
		"structure_id", st.ID,
		"residues", st.ResidueCount,
		"mean_confidence", st.MeanConfidence,
	)
	return out, nil
}

func structureResult(seq *model.Sequence, st *model.SequenceStructure, cached bool) model.StructurePredictionResult {
	return model.StructurePredictionResult{
		SequenceID:       seq.ID,
		SequenceName:     seq.Name,
		StructureID:      st.ID,
		Source:           st.Source,
		ModelVersion:     st.ModelVersion,
		CachedResult:     cached,
		ResidueCount:     st.ResidueCount,
		MeanConfidence:   st.MeanConfidence,
		MinConfidence:    st.MinConfidence,
		MaxConfidence:    st.MaxConfidence,
		ConfidenceScores: st.ConfidenceScores,
	}
}

const maxPDBLine = 1 << 20

// ParsePDBConfidence returns one pLDDT value per residue, read from the B-factor field
// (columns 61-66) of the first ATOM or HETATM record of each residue. Records whose field does not
// parse are skipped. A line longer than maxPDBLine is an error.
func ParsePDBConfidence(pdb string) ([]float64, error) {
	var (
		scores  []float64
		lastKey string
	)
	sc := bufio.NewScanner(strings.NewReader(pdb))
	sc.Buffer(make([]byte, 0, 256), maxPDBLine)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "ATOM") && !strings.HasPrefix(line, "HETATM") {
			continue
		}
		if len(line) < 66 {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(line[60:66]), 64)
		if err != nil {
			continue
		}
		// chain id, residue number and insertion code
		key := line[21:27]
		if key == lastKey {
			continue
		}
		lastKey = key
		scores = append(scores, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read pdb: %w", err)
	}
	return scores, nil
}

func summarizeScores(scores []float64) (minV, maxV, mean float64) {
	minV, maxV = scores[0], scores[0]
	var sum float64
	for _, s := range scores {
		minV = min(minV, s)
		maxV = max(maxV, s)
		sum += s
	}
	return minV, maxV, sum / float64(len(scores))
}
