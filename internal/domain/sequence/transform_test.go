package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReverseComplement(t *testing.T) {
	got, err := ReverseComplement("aaccgt")
	require.NoError(t, err)
	assert.Equal(t, "ACGGTT", got)

	_, err = ReverseComplement("ACGU")
	assert.Error(t, err)
}

func TestTranscribeAndTranslate(t *testing.T) {
	rna, err := Transcribe("ATGGCCTAA")
	require.NoError(t, err)
	assert.Equal(t, "AUGGCCUAA", rna)

	protein, err := Translate(rna)
	require.NoError(t, err)
	assert.Equal(t, "MA", protein)

	// Trailing partial codon is dropped.
	protein, err = TranslateDNA("ATGTTTGC")
	require.NoError(t, err)
	assert.Equal(t, "MF", protein)
}
