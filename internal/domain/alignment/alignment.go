// Package alignment implements pairwise sequence alignment with affine gap
// penalties (Gotoh) in global and local mode.
//
// Three score matrices are filled: M (ends in a match or mismatch), X (ends in a
// gap within sequence 2, consuming a residue of sequence 1) and Y (ends in a gap
// within sequence 1). A gap of length k scores GapOpen + (k-1)*GapExtend.
//
// Traceback is deterministic. At every cell the diagonal predecessor wins ties
// over gap predecessors, a gap that continues the current gap wins over opening
// one, and when two gap directions still tie, X is preferred over Y. In local
// mode the optimum is the first maximal M cell in row-major order, and the
// traceback stops at the first cell whose predecessor score is not positive.
package alignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Mode selects the boundary conditions of the dynamic program.
type Mode int

const (
	// Global aligns both sequences end to end (Needleman-Wunsch).
	Global Mode = iota
	// Local aligns the best scoring pair of substrings (Smith-Waterman).
	Local
)

func (m Mode) String() string {
	if m == Local {
		return "LOCAL"
	}
	return "GLOBAL"
}

// GapChar marks a gap in an aligned sequence.
const GapChar = '-'

var (
	// ErrEmptySequence is returned when either input is empty.
	ErrEmptySequence = errors.New("alignment input sequence is empty")
	// ErrInvalidAlphabet is returned when an input contains a character outside the configured alphabet.
	ErrInvalidAlphabet = errors.New("alignment input contains invalid characters")
	// ErrSizeLimit is returned when the DP matrix would exceed the configured number of cells.
	ErrSizeLimit = errors.New("alignment exceeds size limit")
	// ErrInvalidScoring is returned for scores that are not finite numbers.
	ErrInvalidScoring = errors.New("alignment scoring is invalid")
	// ErrScoreOverflow is returned when a matrix cell leaves the range of finite float64 values.
	ErrScoreOverflow = errors.New("alignment score overflow")
)

// SizeError reports the dimensions that exceeded the configured bound.
type SizeError struct {
	Len1, Len2 int
	MaxCells   int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("alignment of %d x %d residues exceeds the limit of %d matrix cells",
		e.Len1, e.Len2, e.MaxCells)
}

// Unwrap lets callers match ErrSizeLimit.
func (e *SizeError) Unwrap() error { return ErrSizeLimit }

// Scoring is the affine scoring configuration. Gap scores are expected to be zero or negative.
type Scoring struct {
	Match     float64
	Mismatch  float64
	GapOpen   float64
	GapExtend float64
}

// Validate rejects NaN and infinite scores.
func (s Scoring) Validate() error {
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"match", s.Match},
		{"mismatch", s.Mismatch},
		{"gap open", s.GapOpen},
		{"gap extend", s.GapExtend},
	} {
		if !finite(f.value) {
			return fmt.Errorf("%w: %s score is %v", ErrInvalidScoring, f.name, f.value)
		}
	}
	return nil
}

// DefaultScoring returns match=2, mismatch=-1, gapOpen=-5, gapExtend=-1.
func DefaultScoring() Scoring {
	return Scoring{Match: 2, Mismatch: -1, GapOpen: -5, GapExtend: -1}
}

// Options configures a single alignment.
type Options struct {
	Mode    Mode
	Scoring Scoring
	// MaxCells bounds len1*len2. Zero disables the check.
	MaxCells int64
	// Alphabet lists the allowed characters (case-insensitive). Empty disables the check.
	Alphabet string
}

// Result is an optimal alignment and its statistics.
type Result struct {
	Mode         Mode
	Score        float64
	Aligned1     string
	Aligned2     string
	Cigar        string
	Length       int
	Matches      int
	Mismatches   int
	Gaps         int
	Identity     float64
	Scoring      Scoring
	Start1, End1 int
	Start2, End2 int
}

// Align computes an optimal alignment of seq1 and seq2. Inputs are compared
// case-insensitively. The context is checked between rows so a job timeout can
// abort a long fill.
func Align(ctx context.Context, seq1, seq2 string, opts Options) (*Result, error) {
	if seq1 == "" || seq2 == "" {
		return nil, ErrEmptySequence
	}
	a := strings.ToUpper(seq1)
	b := strings.ToUpper(seq2)
	if opts.Alphabet != "" {
		if err := checkAlphabet(a, b, strings.ToUpper(opts.Alphabet)); err != nil {
			return nil, err
		}
	}
	if err := opts.Scoring.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxCells > 0 && int64(len(a))*int64(len(b)) > opts.MaxCells {
		return nil, &SizeError{Len1: len(a), Len2: len(b), MaxCells: opts.MaxCells}
	}

	g := newGrid(a, b, opts.Mode, opts.Scoring)
	if err := g.fill(ctx); err != nil {
		return nil, err
	}
	res := g.traceback()
	res.Mode = opts.Mode
	res.Scoring = opts.Scoring
	summarize(res)
	return res, nil
}

func checkAlphabet(a, b, alphabet string) error {
	var bad []string
	seen := map[rune]bool{}
	for _, s := range []string{a, b} {
		for _, r := range s {
			if seen[r] || strings.ContainsRune(alphabet, r) {
				continue
			}
			seen[r] = true
			bad = append(bad, string(r))
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidAlphabet, strings.Join(bad, ", "))
	}
	return nil
}

// summarize derives the statistics and CIGAR from the aligned pair.
func summarize(r *Result) {
	r.Length = len(r.Aligned1)
	r.Matches, r.Mismatches, r.Gaps = 0, 0, 0
	for i := range r.Length {
		c1, c2 := r.Aligned1[i], r.Aligned2[i]
		switch {
		case c1 == GapChar || c2 == GapChar:
			r.Gaps++
		case c1 == c2:
			r.Matches++
		default:
			r.Mismatches++
		}
	}
	r.Identity = 0
	if r.Length > 0 {
		r.Identity = float64(r.Matches) / float64(r.Length) * 100
	}
	r.Cigar = Cigar(r.Aligned1, r.Aligned2)
}
