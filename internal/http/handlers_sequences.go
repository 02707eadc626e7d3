package httpx

import (
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/jakub-figat/chromatin/internal/domain/model"
	apperrors "github.com/jakub-figat/chromatin/internal/errors"
	"github.com/jakub-figat/chromatin/internal/service"
)

const (
	defaultSequencePageSize = 50
	maxSequencePageSize     = 1000

	// multipartMemory is held in memory per upload; larger parts spill to temp files.
	multipartMemory = 8 << 20
	// multipartOverhead allows for boundaries and form fields on top of the file bytes.
	multipartOverhead = 1 << 20

	fastaContentType = "text/x-fasta; charset=utf-8"
	pdbContentType   = "chemical/x-pdb"
)

// SequenceHandlers provides HTTP handlers for sequences, FASTA import and export and structures.
type SequenceHandlers struct {
	Svc            *service.SequenceService
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// CreateSequence handles HTTP requests to store one sequence.
func (h *SequenceHandlers) CreateSequence(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSequenceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	seq, err := h.Svc.Create(r.Context(), ownerID(r), &req)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, seq.Output())
}

// ListSequences handles HTTP requests to list the caller's sequences.
func (h *SequenceHandlers) ListSequences(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultSequencePageSize, maxSequencePageSize)
	opts := model.SequenceListOptions{
		OwnerID:   ownerID(r),
		ProjectID: optionalQuery(r, "projectId"),
		Name:      optionalQuery(r, "name"),
		Limit:     limit,
		Offset:    offset,
	}
	if v := optionalQuery(r, "sequenceType"); v != nil {
		var t model.SequenceType
		if err := t.UnmarshalText([]byte(*v)); err != nil {
			writeAppError(w, apperrors.ValidationField("sequenceType", err.Error()))
			return
		}
		opts.Type = &t
	}
	var err error
	if opts.LengthGTE, err = optionalIntQuery(r, "minLength"); err != nil {
		writeAppError(w, err)
		return
	}
	if opts.LengthLTE, err = optionalIntQuery(r, "maxLength"); err != nil {
		writeAppError(w, err)
		return
	}

	seqs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	out := make([]model.SequenceOutput, 0, len(seqs))
	for _, s := range seqs {
		out = append(out, s.Output())
	}
	WriteJSON(w, http.StatusOK, out)
}

// GetSequence handles HTTP requests to fetch one sequence. External data is not inlined.
func (h *SequenceHandlers) GetSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := h.Svc.Get(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, seq.Output())
}

// UpdateSequence handles HTTP requests to replace a sequence.
func (h *SequenceHandlers) UpdateSequence(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateSequenceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	seq, err := h.Svc.Update(r.Context(), ownerID(r), r.PathValue("id"), &req)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, seq.Output())
}

// DeleteSequence handles HTTP requests to delete a sequence.
func (h *SequenceHandlers) DeleteSequence(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.Delete(r.Context(), ownerID(r), r.PathValue("id")); err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DownloadSequence streams one sequence as a FASTA attachment.
func (h *SequenceHandlers) DownloadSequence(w http.ResponseWriter, r *http.Request) {
	seq, err := h.Svc.Get(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	h.streamFasta(w, r, safeFilename(seq.Name)+".fasta", seq)
}

// BatchDownload streams several sequences as one FASTA attachment. Every id is resolved first so a
// missing id fails the request before any byte is sent.
func (h *SequenceHandlers) BatchDownload(w http.ResponseWriter, r *http.Request) {
	var req model.BatchDownloadRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	seqs, err := h.Svc.ResolveBatch(r.Context(), ownerID(r), req.SequenceIDs)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	h.streamFasta(w, r, "sequences.fasta", seqs...)
}

func (h *SequenceHandlers) streamFasta(w http.ResponseWriter, r *http.Request, filename string, seqs ...*model.Sequence) {
	w.Header().Set("Content-Type", fastaContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	if err := h.Svc.WriteFASTA(r.Context(), w, seqs...); err != nil {
		// Headers are gone; the client sees a truncated body.
		h.Logger.WarnContext(r.Context(), "fasta stream interrupted", slog.Any("error", err))
	}
}

// UploadFASTA handles multipart uploads of one or more FASTA files in the "files" field, with
// optional "projectId" and "sequenceType" fields.
func (h *SequenceHandlers) UploadFASTA(w http.ResponseWriter, r *http.Request) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAppError(w, apperrors.ValidationField("files",
				fmt.Sprintf("upload exceeds the total limit of %d bytes", h.MaxUploadBytes)))
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	upload := model.FastaUpload{ProjectID: strings.TrimSpace(r.FormValue("projectId"))}
	if v := strings.TrimSpace(r.FormValue("sequenceType")); v != "" {
		if err := upload.Type.UnmarshalText([]byte(v)); err != nil {
			writeAppError(w, apperrors.ValidationField("sequenceType", err.Error()))
			return
		}
	}

	headers := r.MultipartForm.File["files"]
	files := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			serviceError(w, r, h.Logger, fmt.Errorf("open uploaded file: %w", err))
			return
		}
		files = append(files, f)
		upload.Files = append(upload.Files, model.FastaFile{Filename: fh.Filename, Content: f})
	}

	res, err := h.Svc.UploadFASTA(r.Context(), ownerID(r), upload)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusCreated, res)
}

// GetStructure handles HTTP requests for the predicted structure of a sequence.
func (h *SequenceHandlers) GetStructure(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.Structure(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, st)
}

// GetStructurePDB streams the PDB text of a sequence's predicted structure.
func (h *SequenceHandlers) GetStructurePDB(w http.ResponseWriter, r *http.Request) {
	st, err := h.Svc.Structure(r.Context(), ownerID(r), r.PathValue("id"))
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	w.Header().Set("Content-Type", pdbContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.pdb"`, st.ID))
	w.WriteHeader(http.StatusOK)
	if err := h.Svc.StreamPDB(r.Context(), st, w); err != nil {
		h.Logger.WarnContext(r.Context(), "pdb stream interrupted", slog.Any("error", err))
	}
}

// Transform handles HTTP requests for reverse complement, transcription and translation.
func (h *SequenceHandlers) Transform(w http.ResponseWriter, r *http.Request) {
	var req model.TransformRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	res, err := h.Svc.Transform(req)
	if err != nil {
		serviceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

// safeFilename keeps a sequence name usable inside a quoted Content-Disposition filename.
func safeFilename(name string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == '\\' || r == '/' || r < 0x20 || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, name)
	if clean == "" {
		return "sequence"
	}
	return clean
}
