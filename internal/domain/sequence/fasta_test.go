package sequence

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFasta(t *testing.T) {
	input := ">seq1 first record\nACGT\nAC GT\n\n>seq2\nMKV\n"

	recs, err := ParseFasta(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "seq1", recs[0].Name)
	require.NotNil(t, recs[0].Description)
	assert.Equal(t, "first record", *recs[0].Description)
	assert.Equal(t, "ACGTACGT", recs[0].Data)

	assert.Equal(t, "seq2", recs[1].Name)
	assert.Nil(t, recs[1].Description)
	assert.Equal(t, "MKV", recs[1].Data)
}

func TestParseFasta_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "  \n\n", want: "FASTA file is empty"},
		{name: "data before header", input: "ACGT\n>a\nAC", want: "line 1: sequence data found before header"},
		{name: "empty header", input: ">\nACGT", want: "line 1: header is empty after '>'"},
		{name: "header without data", input: ">a\n>b\nACGT", want: "sequence 'a' has no sequence data"},
		{name: "trailing header without data", input: ">a\nAC\n>b\n", want: "sequence 'b' has no sequence data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFasta(context.Background(), strings.NewReader(tt.input))
			var fe *FastaError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.want, fe.Error())
		})
	}
}

func TestWriteFastaHeader(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WriteFastaHeader(&b, "brca1"))
	assert.Equal(t, ">brca1\n", b.String())
}
