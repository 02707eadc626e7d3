package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jakub-figat/chromatin/config"
	"github.com/jakub-figat/chromatin/internal/data"
	"github.com/jakub-figat/chromatin/internal/domain/model"
	"github.com/jakub-figat/chromatin/internal/mocks"
	"github.com/jakub-figat/chromatin/internal/service"
	"github.com/jakub-figat/chromatin/internal/storage"
)

const testOwner = "user-1"

type apiFixture struct {
	jobs       *mocks.MockJobRepository
	sequences  *mocks.MockSequenceRepository
	structures *mocks.MockStructureRepository
	router     http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &apiFixture{
		jobs:       mocks.NewMockJobRepository(ctrl),
		sequences:  mocks.NewMockSequenceRepository(ctrl),
		structures: mocks.NewMockStructureRepository(ctrl),
	}
	jobSvc := service.MustNewJobService(service.JobServiceOptions{
		Repo:         f.jobs,
		Sequences:    f.sequences,
		DefaultLease: 30 * time.Second,
	})
	seqSvc, err := service.NewSequenceService(service.SequenceServiceOptions{
		Repo:       f.sequences,
		Structures: f.structures,
		Content:    storage.NewHybridStore(storage.HybridOptions{}),
		Upload:     config.UploadConfig{MaxFileBytes: 1 << 20, MaxTotalBytes: 2 << 20},
	})
	require.NoError(t, err)
	f.router = NewRouter(RouterServices{Jobs: jobSvc, Sequences: seqSvc, MaxUploadBytes: 2 << 20})
	return f
}

func (f *apiFixture) do(t *testing.T, r *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if r.Header.Get(OwnerIDHeader) == "" {
		r.Header.Set(OwnerIDHeader, testOwner)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, r)
	return w
}

func jsonRequest(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func storedSequence(id string, t model.SequenceType, residues string) *model.Sequence {
	return &model.Sequence{
		ID:          id,
		OwnerID:     testOwner,
		Name:        "seq-" + id,
		Type:        t,
		Length:      len(residues),
		ContentHash: "hash-" + id,
		Content:     model.StoredContent{Inline: &residues, Size: int64(len(residues))},
	}
}

func TestRouter_RequiresOwner(t *testing.T) {
	f := newAPIFixture(t)
	r := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	w := httptest.NewRecorder()

	f.router.ServeHTTP(w, r)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Error)
}

func TestCreateJob(t *testing.T) {
	f := newAPIFixture(t)
	f.sequences.EXPECT().GetByID(gomock.Any(), "a").Return(storedSequence("a", model.SequenceTypeDNA, "ACGT"), nil)
	f.sequences.EXPECT().GetByID(gomock.Any(), "b").Return(storedSequence("b", model.SequenceTypeDNA, "ACGA"), nil)
	f.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
			assert.Equal(t, testOwner, req.OwnerID)
			assert.Equal(t, 2, req.MaxAttempts)
			p, ok := req.Params.(model.PairwiseAlignmentParams)
			require.True(t, ok)
			assert.Equal(t, model.AlignmentLocal, p.AlignmentType)
			return &model.Job{
				ID:      "job-1",
				OwnerID: req.OwnerID,
				Type:    model.JobTypePairwiseAlignment,
				Status:  model.JobStatusPending,
				Params:  p,
			}, nil
		})

	w := f.do(t, jsonRequest(http.MethodPost, "/api/jobs", `{
		"params": {"jobType": "PAIRWISE_ALIGNMENT", "sequenceId1": "a", "sequenceId2": "b", "alignmentType": "LOCAL"},
		"maxAttempts": 2
	}`))

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "job-1", got["id"])
	assert.Equal(t, "PENDING", got["status"])
	params, ok := got["params"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "PAIRWISE_ALIGNMENT", params["jobType"])
}

func TestCreateJob_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantCode  string
		wantField string
	}{
		{name: "malformed json", body: `{bad`, wantCode: "invalid_json"},
		{name: "unknown field", body: `{"params": {"jobType": "STRUCTURE_PREDICTION", "sequenceId": "p"}, "priority": 1}`, wantCode: "invalid_json"},
		{name: "missing params", body: `{}`, wantCode: "validation", wantField: "params"},
		{name: "unknown job type", body: `{"params": {"jobType": "FOLDING"}}`, wantCode: "validation"},
		{name: "missing job type", body: `{"params": {"sequenceId": "p"}}`, wantCode: "validation", wantField: "jobType"},
		{name: "attempts out of range", body: `{"params": {"jobType": "STRUCTURE_PREDICTION", "sequenceId": "p"}, "maxAttempts": 50}`, wantCode: "validation", wantField: "maxAttempts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			w := f.do(t, jsonRequest(http.MethodPost, "/api/jobs", tt.body))

			require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			body := decodeError(t, w)
			assert.Equal(t, tt.wantCode, body.Error)
			assert.Equal(t, tt.wantField, body.Field)
		})
	}
}

func TestJobRoutes_ErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	f.jobs.EXPECT().GetByID(gomock.Any(), "theirs").Return(&model.Job{ID: "theirs", OwnerID: "someone-else"}, nil)
	f.jobs.EXPECT().Cancel(gomock.Any(), "done", testOwner).
		Return(nil, fmt.Errorf("%w: status is COMPLETED", data.ErrJobNotCancellable))
	f.jobs.EXPECT().Delete(gomock.Any(), "broken", testOwner).Return(errors.New("connection reset"))

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/theirs", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Error)

	w = f.do(t, httptest.NewRequest(http.MethodPost, "/api/jobs/done/cancel", nil))
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "only PENDING or RUNNING jobs can be cancelled")

	w = f.do(t, httptest.NewRequest(http.MethodDelete, "/api/jobs/broken", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, "internal server error", body.Message)
	assert.NotContains(t, body.Message, "connection reset")

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?status=DONE", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "status", decodeError(t, w).Field)
}

func TestListJobs(t *testing.T) {
	f := newAPIFixture(t)
	f.jobs.EXPECT().List(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, opts *model.JobListOptions) ([]*model.Job, error) {
			assert.Equal(t, testOwner, opts.OwnerID)
			require.NotNil(t, opts.Status)
			assert.Equal(t, model.JobStatusRunning, *opts.Status)
			assert.Equal(t, 10, opts.Limit)
			return []*model.Job{{
				ID:     "job-1",
				Type:   model.JobTypeStructurePrediction,
				Status: model.JobStatusRunning,
				Params: model.StructurePredictionParams{SequenceID: "p"},
			}}, nil
		})

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs?status=running&limit=10", nil))

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got []map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.NotContains(t, got[0], "result")
}

func TestCreateSequenceAndDownload(t *testing.T) {
	f := newAPIFixture(t)
	var created *model.Sequence
	f.sequences.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, w *model.SequenceWrite) (*model.Sequence, error) {
			created = &model.Sequence{
				ID: "seq-1", OwnerID: w.OwnerID, Name: w.Name, Type: w.Type, Length: w.Length, Content: w.Content,
			}
			return created, nil
		})

	w := f.do(t, jsonRequest(http.MethodPost, "/api/sequences",
		`{"projectId": "proj", "name": "my seq", "sequenceType": "dna", "sequenceData": "acgt"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var out map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	assert.Equal(t, "inline", out["storage"])
	assert.Equal(t, "ACGT", out["sequenceData"])
	assert.Equal(t, "DNA", out["sequenceType"])

	f.sequences.EXPECT().GetByID(gomock.Any(), "seq-1").DoAndReturn(
		func(context.Context, string) (*model.Sequence, error) { return created, nil })
	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/sequences/seq-1/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, fastaContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="my seq.fasta"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, ">my seq\nACGT\n", w.Body.String())
}

func TestCreateSequence_Validation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, jsonRequest(http.MethodPost, "/api/sequences",
		`{"projectId": "proj", "name": "x", "sequenceType": "DNA", "sequenceData": "ACGZ"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeError(t, w).Message, "invalid characters for DNA: Z")

	w = f.do(t, jsonRequest(http.MethodPost, "/api/sequences",
		`{"projectId": "proj", "sequenceType": "DNA", "sequenceData": "ACGT"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "name", decodeError(t, w).Field)
}

func TestBatchDownload(t *testing.T) {
	f := newAPIFixture(t)
	a := storedSequence("a", model.SequenceTypeDNA, "ACGT")
	b := storedSequence("b", model.SequenceTypeProtein, "MKT")
	f.sequences.EXPECT().GetByIDs(gomock.Any(), []string{"b", "a"}).Return([]*model.Sequence{a, b}, nil)
	f.sequences.EXPECT().GetByIDs(gomock.Any(), []string{"a", "missing"}).Return([]*model.Sequence{a}, nil)

	w := f.do(t, jsonRequest(http.MethodPost, "/api/sequences/download", `{"sequenceIds": ["b", "a"]}`))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ">seq-b\nMKT\n>seq-a\nACGT\n", w.Body.String())

	w = f.do(t, jsonRequest(http.MethodPost, "/api/sequences/download", `{"sequenceIds": ["a", "missing"]}`))
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, decodeError(t, w).Message, "missing")

	w = f.do(t, jsonRequest(http.MethodPost, "/api/sequences/download", `{"sequenceIds": []}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadFASTA(t *testing.T) {
	f := newAPIFixture(t)
	f.sequences.EXPECT().UpsertByName(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, writes []*model.SequenceWrite) ([]model.StoredContent, error) {
			require.Len(t, writes, 2)
			for _, w := range writes {
				assert.Equal(t, "proj", w.ProjectID)
				assert.Equal(t, model.SequenceTypeRNA, w.Type)
			}
			return nil, nil
		})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("projectId", "proj"))
	require.NoError(t, mw.WriteField("sequenceType", "rna"))
	for name, content := range map[string]string{"a.fa": ">r1\nACGU\n", "b.fa": ">r2 second\nUUAG\n"} {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(part, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/sequences/fasta", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := f.do(t, r)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res model.FastaUploadResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, 2, res.SequencesCreated)
}

func TestStructureRoutes(t *testing.T) {
	f := newAPIFixture(t)
	pdb := "ATOM      1  N   MET A   1      1.000   2.000   3.000  1.00 90.00           N\n"
	st := &model.SequenceStructure{
		ID:           "st-1",
		SequenceHash: "hash-p",
		ModelVersion: "esmfold_v1",
		ResidueCount: 1,
		PDB:          model.StoredContent{Inline: &pdb, Size: int64(len(pdb))},
	}
	f.sequences.EXPECT().GetByID(gomock.Any(), "p").Return(storedSequence("p", model.SequenceTypeProtein, "M"), nil).Times(2)
	f.structures.EXPECT().GetByHash(gomock.Any(), "hash-p", "esmfold_v1").Return(st, nil).Times(2)

	w := f.do(t, httptest.NewRequest(http.MethodGet, "/api/sequences/p/structure", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got model.SequenceStructure
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, "st-1", got.ID)

	w = f.do(t, httptest.NewRequest(http.MethodGet, "/api/sequences/p/structure/pdb", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pdbContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, pdb, w.Body.String())
}

func TestTransform(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, jsonRequest(http.MethodPost, "/api/sequences/transform",
		`{"operation": "reverse_complement", "sequence": "AACG"}`))
	require.Equal(t, http.StatusOK, w.Code)
	var res model.TransformResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, "CGTT", res.Output)

	w = f.do(t, jsonRequest(http.MethodPost, "/api/sequences/transform",
		`{"operation": "fold", "sequence": "AACG"}`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "operation", decodeError(t, w).Field)
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "a_b_c", safeFilename(`a"b/c`))
	assert.Equal(t, "sequence", safeFilename(""))
}
