// Package testutil provides testing utilities and helpers for the chromatin job engine.
package testutil

import (
	"strings"

	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/domain/sequence"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewAlignmentJobRequest starts a pairwise alignment request between two sequence ids.
func NewAlignmentJobRequest(ownerID, seq1, seq2 string) *JobRequestBuilder {
	return &JobRequestBuilder{req: &model.CreateJobRequest{
		OwnerID: ownerID,
		Params:  model.PairwiseAlignmentParams{SequenceID1: seq1, SequenceID2: seq2},
	}}
}

// NewPredictionJobRequest starts a structure prediction request for a sequence id.
func NewPredictionJobRequest(ownerID, sequenceID string) *JobRequestBuilder {
	return &JobRequestBuilder{req: &model.CreateJobRequest{
		OwnerID: ownerID,
		Params:  model.StructurePredictionParams{SequenceID: sequenceID},
	}}
}

// WithMaxAttempts sets the number of claims the job may consume.
func (b *JobRequestBuilder) WithMaxAttempts(n int) *JobRequestBuilder {
	b.req.MaxAttempts = n
	return b
}

// WithParams replaces the job parameters.
func (b *JobRequestBuilder) WithParams(p model.JobParams) *JobRequestBuilder {
	b.req.Params = p
	return b
}

// Build returns the constructed request.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// SequenceWriteBuilder builds fully derived inline sequence rows for repository tests.
type SequenceWriteBuilder struct {
	w *model.SequenceWrite
}

// NewSequenceWrite derives a row for data the way the sequence service would, stored inline.
func NewSequenceWrite(ownerID, name, data string) *SequenceWriteBuilder {
	data = strings.ToUpper(data)
	seqType, err := sequence.Detect(data)
	if err != nil {
		seqType = model.SequenceTypeProtein
	}
	props := sequence.Derive(data, seqType)
	return &SequenceWriteBuilder{w: &model.SequenceWrite{
		OwnerID:         ownerID,
		ProjectID:       "project-1",
		Name:            name,
		Type:            seqType,
		Length:          props.Length,
		GCContent:       props.GCContent,
		MolecularWeight: props.MolecularWeight,
		ContentHash:     props.Hash,
		Content:         model.StoredContent{Inline: &data, Size: int64(len(data))},
	}}
}

// WithProject sets the project id.
func (b *SequenceWriteBuilder) WithProject(projectID string) *SequenceWriteBuilder {
	b.w.ProjectID = projectID
	return b
}

// WithLocator stores the content externally under locator instead of inline.
func (b *SequenceWriteBuilder) WithLocator(locator string) *SequenceWriteBuilder {
	b.w.Content.Inline = nil
	b.w.Content.Locator = &locator
	return b
}

// Build returns the constructed row.
func (b *SequenceWriteBuilder) Build() *model.SequenceWrite {
	return b.w
}
