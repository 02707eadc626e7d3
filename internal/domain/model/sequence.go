package model

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// SequenceType is the biological alphabet of a sequence.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type SequenceType string

const (
	// SequenceTypeDNA uses the ACGT alphabet.
	SequenceTypeDNA SequenceType = "DNA"
	// SequenceTypeRNA uses the ACGU alphabet.
	SequenceTypeRNA SequenceType = "RNA"
	// SequenceTypeProtein uses the twenty standard amino acid letters.
	SequenceTypeProtein SequenceType = "PROTEIN"
)

// Valid returns true if the SequenceType is valid.
func (t SequenceType) Valid() bool {
	return t == SequenceTypeDNA || t == SequenceTypeRNA || t == SequenceTypeProtein
}

// Nucleic reports whether the type is DNA or RNA.
func (t SequenceType) Nucleic() bool {
	return t == SequenceTypeDNA || t == SequenceTypeRNA
}

// UnmarshalText implements encoding.TextUnmarshaler for SequenceType.
func (t *SequenceType) UnmarshalText(text []byte) error {
	v := SequenceType(strings.ToUpper(strings.TrimSpace(string(text))))
	if !v.Valid() {
		return fmt.Errorf("invalid SequenceType: %q", string(text))
	}
	*t = v
	return nil
}

// StorageTier records where a payload lives.
type StorageTier string

const (
	// StorageInline keeps the payload in the database row.
	StorageInline StorageTier = "inline"
	// StorageExternal keeps only a blob locator in the database row.
	StorageExternal StorageTier = "external"
)

// StoredContent is the storage location of a payload: inline data or an external locator, never both.
type StoredContent struct {
	Inline  *string
	Locator *string
	Size    int64
}

// Tier reports the storage tier of the content.
func (c StoredContent) Tier() StorageTier {
	if c.Locator != nil {
		return StorageExternal
	}
	return StorageInline
}

// Validate checks the inline/external exclusivity invariant.
func (c StoredContent) Validate() error {
	if (c.Inline == nil) == (c.Locator == nil) {
		return errors.New("stored content must be either inline or external")
	}
	return nil
}

// Sequence is a stored biological sequence and its precomputed properties.
type Sequence struct {
	ID              string        `json:"id"`
	OwnerID         string        `json:"ownerId"`
	ProjectID       string        `json:"projectId"`
	Name            string        `json:"name"`
	Description     *string       `json:"description,omitempty"`
	Type            SequenceType  `json:"sequenceType"`
	Length          int           `json:"length"`
	GCContent       *float64      `json:"gcContent,omitempty"`
	MolecularWeight *float64      `json:"molecularWeight,omitempty"`
	ContentHash     string        `json:"contentHash"`
	Content         StoredContent `json:"-"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// SequenceOutput is the API shape of a sequence; inline data is included, external data is not.
type SequenceOutput struct {
	*Sequence
	Storage      StorageTier `json:"storage"`
	SequenceData *string     `json:"sequenceData,omitempty"`
}

// Output converts a sequence into its API shape.
func (s *Sequence) Output() SequenceOutput {
	return SequenceOutput{Sequence: s, Storage: s.Content.Tier(), SequenceData: s.Content.Inline}
}

// CreateSequenceRequest represents a request to store a single sequence.
type CreateSequenceRequest struct {
	ProjectID    string       `json:"projectId"             validate:"required,max=64"`
	Name         string       `json:"name"                  validate:"required,max=255"`
	Description  *string      `json:"description,omitempty" validate:"omitempty,max=255"`
	Type         SequenceType `json:"sequenceType"          validate:"required,oneof=DNA RNA PROTEIN"`
	SequenceData string       `json:"sequenceData"          validate:"required"`
}

// UpdateSequenceRequest replaces the mutable fields of a sequence.
type UpdateSequenceRequest = CreateSequenceRequest

// SequenceListOptions groups filters for listing an owner's sequences.
type SequenceListOptions struct {
	OwnerID   string
	ProjectID *string
	Type      *SequenceType
	Name      *string
	LengthGTE *int
	LengthLTE *int
	Limit     int
	Offset    int
}

// SequenceWrite is the fully derived row the service hands to the repository.
type SequenceWrite struct {
	OwnerID         string
	ProjectID       string
	Name            string
	Description     *string
	Type            SequenceType
	Length          int
	GCContent       *float64
	MolecularWeight *float64
	ContentHash     string
	Content         StoredContent
}

// FastaFile is one uploaded FASTA document.
type FastaFile struct {
	Filename string
	Content  io.Reader
}

// FastaUpload imports every record of Files for one owner. When Type is set every record must match
// it; otherwise each record's type is detected.
type FastaUpload struct {
	ProjectID string
	Type      SequenceType
	Files     []FastaFile
}

// FastaUploadResult reports the outcome of a FASTA import.
type FastaUploadResult struct {
	SequencesCreated int `json:"sequencesCreated"`
}

// SequenceStructure is a predicted 3D structure. Structures are addressed by the content hash of the
// residues they were predicted from, so every sequence with identical content shares one structure.
type SequenceStructure struct {
	ID               string        `json:"id"`
	SequenceID       *string       `json:"sequenceId,omitempty"`
	SequenceHash     string        `json:"sequenceHash"`
	Source           string        `json:"source"`
	ModelVersion     string        `json:"modelVersion"`
	ResidueCount     int           `json:"residueCount"`
	MeanConfidence   float64       `json:"meanConfidence"`
	MinConfidence    float64       `json:"minConfidence"`
	MaxConfidence    float64       `json:"maxConfidence"`
	ConfidenceScores []float64     `json:"confidenceScores"`
	PDB              StoredContent `json:"-"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// BatchDownloadRequest names the sequences streamed into one FASTA document.
type BatchDownloadRequest struct {
	SequenceIDs []string `json:"sequenceIds" validate:"required,min=1,max=1000,dive,required"`
}

// TransformOperation is a nucleotide utility applied to raw sequence text.
type TransformOperation string

const (
	// TransformReverseComplement reverse-complements DNA.
	TransformReverseComplement TransformOperation = "reverse_complement"
	// TransformTranscribe converts DNA to RNA.
	TransformTranscribe TransformOperation = "transcribe"
	// TransformTranslate translates RNA (or DNA, after transcription) to protein.
	TransformTranslate TransformOperation = "translate"
)

// TransformRequest applies Operation to Sequence without storing anything.
type TransformRequest struct {
	Operation TransformOperation `json:"operation" validate:"required,oneof=reverse_complement transcribe translate"`
	Sequence  string             `json:"sequence"  validate:"required"`
}

// TransformResult is the output of a TransformRequest.
type TransformResult struct {
	Operation    TransformOperation `json:"operation"`
	Input        string             `json:"input"`
	Output       string             `json:"output"`
	OutputType   SequenceType       `json:"outputType"`
	OutputLength int                `json:"outputLength"`
}
