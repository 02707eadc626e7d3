package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// AlignmentType selects global (Needleman-Wunsch) or local (Smith-Waterman) alignment.
type AlignmentType string

const (
	// AlignmentGlobal aligns both inputs end to end.
	AlignmentGlobal AlignmentType = "GLOBAL"
	// AlignmentLocal aligns the best scoring pair of substrings.
	AlignmentLocal AlignmentType = "LOCAL"
)

// Valid returns true if the AlignmentType is valid.
func (a AlignmentType) Valid() bool {
	return a == AlignmentGlobal || a == AlignmentLocal
}

// Default scoring used when a pairwise alignment request omits a value.
const (
	DefaultMatchScore     = 2.0
	DefaultMismatchScore  = -1.0
	DefaultGapOpenScore   = -5.0
	DefaultGapExtendScore = -1.0
)

// MaxScoreMagnitude bounds every scoring parameter of a pairwise alignment.
const MaxScoreMagnitude = 1e6

// JobParams is the closed set of per-type job parameters.
type JobParams interface {
	JobType() JobType
	Validate() error
}

// JobResult is the closed set of per-type job results.
type JobResult interface {
	JobType() JobType
}

// ScoringParams is the scoring configuration used by an alignment.
type ScoringParams struct {
	MatchScore     float64 `json:"matchScore"`
	MismatchScore  float64 `json:"mismatchScore"`
	GapOpenScore   float64 `json:"gapOpenScore"`
	GapExtendScore float64 `json:"gapExtendScore"`
}

// Validate rejects scores that are not finite or exceed MaxScoreMagnitude.
func (s ScoringParams) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"matchScore", s.MatchScore},
		{"mismatchScore", s.MismatchScore},
		{"gapOpenScore", s.GapOpenScore},
		{"gapExtendScore", s.GapExtendScore},
	} {
		if math.IsNaN(f.value) || math.Abs(f.value) > MaxScoreMagnitude {
			return fmt.Errorf("%s must be a finite number within ±%g", f.name, MaxScoreMagnitude)
		}
	}
	return nil
}

// PairwiseAlignmentParams requests an alignment of two stored sequences.
type PairwiseAlignmentParams struct {
	SequenceID1    string        `json:"sequenceId1"`
	SequenceID2    string        `json:"sequenceId2"`
	AlignmentType  AlignmentType `json:"alignmentType,omitempty"`
	MatchScore     *float64      `json:"matchScore,omitempty"`
	MismatchScore  *float64      `json:"mismatchScore,omitempty"`
	GapOpenScore   *float64      `json:"gapOpenScore,omitempty"`
	GapExtendScore *float64      `json:"gapExtendScore,omitempty"`
}

// JobType implements JobParams.
func (PairwiseAlignmentParams) JobType() JobType { return JobTypePairwiseAlignment }

// Validate implements JobParams.
func (p PairwiseAlignmentParams) Validate() error {
	if strings.TrimSpace(p.SequenceID1) == "" || strings.TrimSpace(p.SequenceID2) == "" {
		return errors.New("sequenceId1 and sequenceId2 are required")
	}
	if p.AlignmentType != "" && !p.AlignmentType.Valid() {
		return fmt.Errorf("invalid alignmentType %q", p.AlignmentType)
	}
	s := p.Scoring()
	if err := s.Validate(); err != nil {
		return err
	}
	if s.GapOpenScore > 0 || s.GapExtendScore > 0 {
		return errors.New("gap scores must be zero or negative")
	}
	if s.MatchScore < s.MismatchScore {
		return errors.New("matchScore must not be lower than mismatchScore")
	}
	return nil
}

// WithDefaults returns a copy with every optional field resolved.
func (p PairwiseAlignmentParams) WithDefaults() PairwiseAlignmentParams {
	if p.AlignmentType == "" {
		p.AlignmentType = AlignmentGlobal
	}
	s := p.Scoring()
	p.MatchScore = &s.MatchScore
	p.MismatchScore = &s.MismatchScore
	p.GapOpenScore = &s.GapOpenScore
	p.GapExtendScore = &s.GapExtendScore
	return p
}

// Scoring returns the effective scoring configuration.
func (p PairwiseAlignmentParams) Scoring() ScoringParams {
	return ScoringParams{
		MatchScore:     valueOr(p.MatchScore, DefaultMatchScore),
		MismatchScore:  valueOr(p.MismatchScore, DefaultMismatchScore),
		GapOpenScore:   valueOr(p.GapOpenScore, DefaultGapOpenScore),
		GapExtendScore: valueOr(p.GapExtendScore, DefaultGapExtendScore),
	}
}

// MarshalJSON includes the discriminator alongside the fields.
func (p PairwiseAlignmentParams) MarshalJSON() ([]byte, error) {
	type alias PairwiseAlignmentParams
	return json.Marshal(struct {
		JobType JobType `json:"jobType"`
		alias
	}{JobTypePairwiseAlignment, alias(p)})
}

// StructurePredictionParams requests a structure prediction for a protein sequence.
type StructurePredictionParams struct {
	SequenceID     string `json:"sequenceId"`
	ForceRecompute bool   `json:"forceRecompute,omitempty"`
}

// JobType implements JobParams.
func (StructurePredictionParams) JobType() JobType { return JobTypeStructurePrediction }

// Validate implements JobParams.
func (p StructurePredictionParams) Validate() error {
	if strings.TrimSpace(p.SequenceID) == "" {
		return errors.New("sequenceId is required")
	}
	return nil
}

// MarshalJSON includes the discriminator alongside the fields.
func (p StructurePredictionParams) MarshalJSON() ([]byte, error) {
	type alias StructurePredictionParams
	return json.Marshal(struct {
		JobType JobType `json:"jobType"`
		alias
	}{JobTypeStructurePrediction, alias(p)})
}

// PairwiseAlignmentResult is the outcome of a pairwise alignment job.
type PairwiseAlignmentResult struct {
	SequenceID1     string        `json:"sequenceId1"`
	SequenceID2     string        `json:"sequenceId2"`
	SequenceName1   string        `json:"sequenceName1"`
	SequenceName2   string        `json:"sequenceName2"`
	AlignmentType   AlignmentType `json:"alignmentType"`
	AlignmentScore  float64       `json:"alignmentScore"`
	AlignedSeq1     string        `json:"alignedSeq1"`
	AlignedSeq2     string        `json:"alignedSeq2"`
	AlignmentLength int           `json:"alignmentLength"`
	Matches         int           `json:"matches"`
	Mismatches      int           `json:"mismatches"`
	Gaps            int           `json:"gaps"`
	IdentityPercent float64       `json:"identityPercent"`
	Cigar           string        `json:"cigar"`
	ScoringParams   ScoringParams `json:"scoringParams"`
}

// JobType implements JobResult.
func (PairwiseAlignmentResult) JobType() JobType { return JobTypePairwiseAlignment }

// MarshalJSON includes the discriminator alongside the fields.
func (r PairwiseAlignmentResult) MarshalJSON() ([]byte, error) {
	type alias PairwiseAlignmentResult
	return json.Marshal(struct {
		JobType JobType `json:"jobType"`
		alias
	}{JobTypePairwiseAlignment, alias(r)})
}

// StructurePredictionResult is the outcome of a structure prediction job.
type StructurePredictionResult struct {
	SequenceID       string    `json:"sequenceId"`
	SequenceName     string    `json:"sequenceName"`
	StructureID      string    `json:"structureId"`
	Source           string    `json:"source"`
	ModelVersion     string    `json:"modelVersion"`
	CachedResult     bool      `json:"cachedResult"`
	ResidueCount     int       `json:"residueCount"`
	MeanConfidence   float64   `json:"meanConfidence"`
	MinConfidence    float64   `json:"minConfidence"`
	MaxConfidence    float64   `json:"maxConfidence"`
	ConfidenceScores []float64 `json:"confidenceScores"`
}

// JobType implements JobResult.
func (StructurePredictionResult) JobType() JobType { return JobTypeStructurePrediction }

// MarshalJSON includes the discriminator alongside the fields.
func (r StructurePredictionResult) MarshalJSON() ([]byte, error) {
	type alias StructurePredictionResult
	return json.Marshal(struct {
		JobType JobType `json:"jobType"`
		alias
	}{JobTypeStructurePrediction, alias(r)})
}

// PeekJobType reads the jobType discriminator from a JSON object.
func PeekJobType(raw []byte) (JobType, error) {
	var head struct {
		JobType JobType `json:"jobType"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return "", err
	}
	return head.JobType, nil
}

// DecodeParams decodes raw JSON into the params variant for t.
func DecodeParams(t JobType, raw []byte) (JobParams, error) {
	switch t {
	case JobTypePairwiseAlignment:
		var p PairwiseAlignmentParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", t, err)
		}
		return p, nil
	case JobTypeStructurePrediction:
		var p StructurePredictionParams
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

// DecodeResult decodes raw JSON into the result variant for t.
func DecodeResult(t JobType, raw []byte) (JobResult, error) {
	switch t {
	case JobTypePairwiseAlignment:
		var r PairwiseAlignmentResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", t, err)
		}
		return r, nil
	case JobTypeStructurePrediction:
		var r StructurePredictionResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode %s result: %w", t, err)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

// strictUnmarshal rejects unknown fields other than the discriminator.
func strictUnmarshal(raw []byte, v any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	delete(fields, "jobType")
	cleaned, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(cleaned))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}
