package sequence

import (
	"strings"

	"github.com/jakub-figat/chromatin/internal/domain/model"
)

var complement = [256]byte{'A': 'T', 'C': 'G', 'G': 'C', 'T': 'A'}

// codonTable maps RNA codons to amino acids; '*' marks a stop codon.
var codonTable = map[string]byte{
	"UUU": 'F', "UUC": 'F', "UUA": 'L', "UUG": 'L',
	"CUU": 'L', "CUC": 'L', "CUA": 'L', "CUG": 'L',
	"AUU": 'I', "AUC": 'I', "AUA": 'I', "AUG": 'M',
	"GUU": 'V', "GUC": 'V', "GUA": 'V', "GUG": 'V',
	"UCU": 'S', "UCC": 'S', "UCA": 'S', "UCG": 'S',
	"CCU": 'P', "CCC": 'P', "CCA": 'P', "CCG": 'P',
	"ACU": 'T', "ACC": 'T', "ACA": 'T', "ACG": 'T',
	"GCU": 'A', "GCC": 'A', "GCA": 'A', "GCG": 'A',
	"UAU": 'Y', "UAC": 'Y', "UAA": '*', "UAG": '*',
	"CAU": 'H', "CAC": 'H', "CAA": 'Q', "CAG": 'Q',
	"AAU": 'N', "AAC": 'N', "AAA": 'K', "AAG": 'K',
	"GAU": 'D', "GAC": 'D', "GAA": 'E', "GAG": 'E',
	"UGU": 'C', "UGC": 'C', "UGA": '*', "UGG": 'W',
	"CGU": 'R', "CGC": 'R', "CGA": 'R', "CGG": 'R',
	"AGU": 'S', "AGC": 'S', "AGA": 'R', "AGG": 'R',
	"GGU": 'G', "GGC": 'G', "GGA": 'G', "GGG": 'G',
}

// ReverseComplement returns the reverse complement of a DNA sequence.
func ReverseComplement(dna string) (string, error) {
	if err := Validate(dna, "", model.SequenceTypeDNA); err != nil {
		return "", err
	}
	upper := strings.ToUpper(dna)
	out := make([]byte, len(upper))
	for i := range len(upper) {
		out[len(upper)-1-i] = complement[upper[i]]
	}
	return string(out), nil
}

// Transcribe converts DNA to RNA by replacing T with U.
func Transcribe(dna string) (string, error) {
	if err := Validate(dna, "", model.SequenceTypeDNA); err != nil {
		return "", err
	}
	return strings.ReplaceAll(strings.ToUpper(dna), "T", "U"), nil
}

// Translate reads RNA codons in frame from the first base and stops at the first stop codon.
// A trailing partial codon is ignored.
func Translate(rna string) (string, error) {
	if err := Validate(rna, "", model.SequenceTypeRNA); err != nil {
		return "", err
	}
	upper := strings.ToUpper(rna)
	var b strings.Builder
	for i := 0; i+3 <= len(upper); i += 3 {
		aa := codonTable[upper[i:i+3]]
		if aa == '*' {
			break
		}
		b.WriteByte(aa)
	}
	return b.String(), nil
}

// TranslateDNA transcribes and translates a DNA sequence.
func TranslateDNA(dna string) (string, error) {
	rna, err := Transcribe(dna)
	if err != nil {
		return "", err
	}
	return Translate(rna)
}
