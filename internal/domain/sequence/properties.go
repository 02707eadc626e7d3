package sequence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jakub-figat/chromatin/internal/domain/model"
)

// waterMass is released once per peptide bond.
const waterMass = 18.015

// Average amino acid masses in Daltons.
var aminoAcidWeights = map[byte]float64{
	'A': 89.09, 'R': 174.20, 'N': 132.12, 'D': 133.10, 'C': 121.15,
	'E': 147.13, 'Q': 146.15, 'G': 75.07, 'H': 155.16, 'I': 131.17,
	'L': 131.17, 'K': 146.19, 'M': 149.21, 'F': 165.19, 'P': 115.13,
	'S': 105.09, 'T': 119.12, 'W': 204.23, 'Y': 181.19, 'V': 117.15,
}

// Properties are the values derived once at write time.
type Properties struct {
	Length          int
	GCContent       *float64
	MolecularWeight *float64
	Hash            string
}

// Derive computes the length and type-specific properties of validated data.
func Derive(data string, t model.SequenceType) Properties {
	p := Properties{Length: len(data), Hash: Hash(data)}
	if t.Nucleic() {
		gc := GCContent(data)
		p.GCContent = &gc
	}
	if t == model.SequenceTypeProtein {
		mw := MolecularWeight(data)
		p.MolecularWeight = &mw
	}
	return p
}

// Hash is the hex SHA-256 of the upper-cased residues. Sequences with identical content share it.
func Hash(data string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(data)))
	return hex.EncodeToString(sum[:])
}

// GCContent is the fraction of G and C bases, 0 for empty input.
func GCContent(data string) float64 {
	if data == "" {
		return 0
	}
	upper := strings.ToUpper(data)
	gc := strings.Count(upper, "G") + strings.Count(upper, "C")
	return float64(gc) / float64(len(data))
}

// MolecularWeight sums residue masses and subtracts one water per peptide bond.
// Unknown residues contribute nothing; callers validate the alphabet first.
func MolecularWeight(data string) float64 {
	if data == "" {
		return 0
	}
	var total float64
	for i := range len(data) {
		total += aminoAcidWeights[upperByte(data[i])]
	}
	return total - float64(len(data)-1)*waterMass
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
