package alignment

import (
	"fmt"
	"strconv"
	"strings"
)

// CIGAR operations.
const (
	OpMatch     = 'M' // match or mismatch
	OpInsertion = 'I' // residue of sequence 1 against a gap in sequence 2
	OpDeletion  = 'D' // residue of sequence 2 against a gap in sequence 1
)

func columnOp(c1, c2 byte) byte {
	switch {
	case c1 == GapChar:
		return OpDeletion
	case c2 == GapChar:
		return OpInsertion
	default:
		return OpMatch
	}
}

// Cigar run-length encodes the column operations of an aligned pair.
func Cigar(aligned1, aligned2 string) string {
	var b strings.Builder
	var cur byte
	run := 0
	for i := range len(aligned1) {
		op := columnOp(aligned1[i], aligned2[i])
		if op == cur {
			run++
			continue
		}
		if run > 0 {
			b.WriteString(strconv.Itoa(run))
			b.WriteByte(cur)
		}
		cur, run = op, 1
	}
	if run > 0 {
		b.WriteString(strconv.Itoa(run))
		b.WriteByte(cur)
	}
	return b.String()
}

// CigarOp is one run of a CIGAR string.
type CigarOp struct {
	Len int
	Op  byte
}

// ParseCigar splits a CIGAR string into runs.
func ParseCigar(cigar string) ([]CigarOp, error) {
	var ops []CigarOp
	num := 0
	digits := false
	for i := range len(cigar) {
		c := cigar[i]
		if c >= '0' && c <= '9' {
			num = num*10 + int(c-'0')
			digits = true
			continue
		}
		if c != OpMatch && c != OpInsertion && c != OpDeletion {
			return nil, fmt.Errorf("invalid cigar operation %q at %d", c, i)
		}
		if !digits || num == 0 {
			return nil, fmt.Errorf("missing run length before %q at %d", c, i)
		}
		ops = append(ops, CigarOp{Len: num, Op: c})
		num, digits = 0, false
	}
	if digits {
		return nil, fmt.Errorf("trailing run length in %q", cigar)
	}
	return ops, nil
}

// ApplyCigar rebuilds the aligned pair from the ungapped substrings the alignment covers.
func ApplyCigar(cigar, seq1, seq2 string) (string, string, error) {
	ops, err := ParseCigar(cigar)
	if err != nil {
		return "", "", err
	}
	var out1, out2 strings.Builder
	i, j := 0, 0
	for _, op := range ops {
		for range op.Len {
			switch op.Op {
			case OpMatch:
				if i >= len(seq1) || j >= len(seq2) {
					return "", "", fmt.Errorf("cigar %q overruns input", cigar)
				}
				out1.WriteByte(seq1[i])
				out2.WriteByte(seq2[j])
				i++
				j++
			case OpInsertion:
				if i >= len(seq1) {
					return "", "", fmt.Errorf("cigar %q overruns sequence 1", cigar)
				}
				out1.WriteByte(seq1[i])
				out2.WriteByte(GapChar)
				i++
			case OpDeletion:
				if j >= len(seq2) {
					return "", "", fmt.Errorf("cigar %q overruns sequence 2", cigar)
				}
				out1.WriteByte(GapChar)
				out2.WriteByte(seq2[j])
				j++
			}
		}
	}
	if i != len(seq1) || j != len(seq2) {
		return "", "", fmt.Errorf("cigar %q consumes %d/%d residues, inputs have %d/%d",
			cigar, i, j, len(seq1), len(seq2))
	}
	return out1.String(), out2.String(), nil
}

// Rescore sums the scoring configuration over an aligned pair. Consecutive gap
// columns of the same kind extend one gap; switching gap kind opens a new one.
func Rescore(aligned1, aligned2 string, sc Scoring) float64 {
	var total float64
	var prev byte
	for i := range len(aligned1) {
		c1, c2 := aligned1[i], aligned2[i]
		op := columnOp(c1, c2)
		switch {
		case op == OpMatch && c1 == c2:
			total += sc.Match
		case op == OpMatch:
			total += sc.Mismatch
		case op == prev:
			total += sc.GapExtend
		default:
			total += sc.GapOpen
		}
		prev = op
	}
	return total
}
