// Package httpx serves the submission API: font bundles in, documents out.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/target/fbdispatch/internal/domain/model"
	"github.com/target/fbdispatch/internal/service"
)

// Multipart field names accepted by the submission endpoints.
const (
	fieldFiles    = "files"
	fieldMetadata = "metadata"
	maxIDLength   = 128
)

// SubmissionService is the subset of service.SubmissionService the handlers use.
type SubmissionService interface {
	SubmitFamilyTest(ctx context.Context, files model.Bundle, metadata json.RawMessage) (*model.FamilyTestDocument, error)
	SubmitDiff(ctx context.Context, files model.Bundle, metadata json.RawMessage) (*model.FamilyTestDocument, error)
	Get(ctx context.Context, id string) (*model.FamilyTestDocument, error)
	List(ctx context.Context, opts model.DocumentListOptions) (model.DocumentPage, error)
}

// DocumentHandlers provides HTTP handlers for submissions and document reads.
type DocumentHandlers struct {
	Svc            SubmissionService
	MaxUploadBytes int64
	Logger         *slog.Logger
}

type submissionResponse struct {
	ID       string             `json:"id"`
	Kind     model.DocumentKind `json:"kind"`
	CacheKey string             `json:"cache_key"`
	URL      string             `json:"url"`
}

// SubmitFamilyTest accepts font files in the "files" field and starts a family test.
func (h *DocumentHandlers) SubmitFamilyTest(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.readUpload(w, r, func(field, filename string) (string, bool) {
		return filename, field == fieldFiles
	})
	if !ok {
		return
	}
	doc, err := h.Svc.SubmitFamilyTest(r.Context(), upload.files, upload.metadata)
	h.respondSubmitted(w, r, doc, err)
}

// SubmitDiff accepts font files in the "before" and "after" fields and starts a diff run.
func (h *DocumentHandlers) SubmitDiff(w http.ResponseWriter, r *http.Request) {
	upload, ok := h.readUpload(w, r, func(field, filename string) (string, bool) {
		if field != service.DiffBeforeDir && field != service.DiffAfterDir {
			return "", false
		}
		return field + "/" + filename, true
	})
	if !ok {
		return
	}
	doc, err := h.Svc.SubmitDiff(r.Context(), upload.files, upload.metadata)
	h.respondSubmitted(w, r, doc, err)
}

// GetDocument returns the current state of a document.
func (h *DocumentHandlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" || len(id) > maxIDLength {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("document id is required")})
		return
	}
	doc, err := h.Svc.Get(r.Context(), id)
	if err != nil {
		h.logFailure(r, "get document failed", err)
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, doc)
}

// ListDocuments returns a page of document summaries filtered by kind and status.
func (h *DocumentHandlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListQuery(r)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: err})
		return
	}
	page, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		h.logFailure(r, "list documents failed", err)
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

func parseListQuery(r *http.Request) (model.DocumentListOptions, error) {
	q := r.URL.Query()
	opts := model.DocumentListOptions{
		Kind:   model.DocumentKind(q.Get("kind")),
		Status: model.DocumentStatus(q.Get("status")),
	}
	var err error
	if opts.Limit, err = queryInt(q.Get("limit")); err != nil {
		return opts, fmt.Errorf("limit: %w", err)
	}
	if opts.Offset, err = queryInt(q.Get("offset")); err != nil {
		return opts, fmt.Errorf("offset: %w", err)
	}
	return opts, nil
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", v)
	}
	return n, nil
}

func (h *DocumentHandlers) respondSubmitted(w http.ResponseWriter, r *http.Request, doc *model.FamilyTestDocument, err error) {
	if err != nil {
		h.logFailure(r, "submission failed", err)
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, submissionResponse{
		ID:       doc.ID,
		Kind:     doc.Kind,
		CacheKey: doc.CacheKey,
		URL:      "/api/family-tests/" + doc.ID,
	})
}

func (h *DocumentHandlers) logFailure(r *http.Request, msg string, err error) {
	if h.Logger == nil {
		return
	}
	h.Logger.WarnContext(r.Context(), msg, "path", r.URL.Path, "error", err)
}

type upload struct {
	files    model.Bundle
	metadata json.RawMessage
}

// fileNamer maps a multipart field and base filename onto a bundle name; false skips the part.
type fileNamer func(field, filename string) (string, bool)

// readUpload streams a multipart body into a bundle. On failure the error response is written
// and false is returned.
func (h *DocumentHandlers) readUpload(w http.ResponseWriter, r *http.Request, name fileNamer) (upload, bool) {
	if h.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.MaxUploadBytes)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return upload{}, false
	}

	var out upload
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeUploadError(w, err)
			return upload{}, false
		}
		if err := readPart(part, name, &out); err != nil {
			_ = part.Close()
			writeUploadError(w, err)
			return upload{}, false
		}
		_ = part.Close()
	}

	if len(out.files) == 0 {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "no_files", Err: errors.New("no files submitted")})
		return upload{}, false
	}
	return out, true
}

func readPart(part *multipart.Part, name fileNamer, out *upload) error {
	field := part.FormName()
	if field == fieldMetadata && part.FileName() == "" {
		raw, err := io.ReadAll(part)
		if err != nil {
			return err
		}
		if !json.Valid(raw) {
			return errInvalidMetadata
		}
		out.metadata = raw
		return nil
	}

	filename := path.Base(strings.ReplaceAll(part.FileName(), "\\", "/"))
	if part.FileName() == "" || filename == "." || filename == "/" {
		return nil
	}
	bundleName, ok := name(field, filename)
	if !ok {
		return nil
	}
	data, err := io.ReadAll(part)
	if err != nil {
		return err
	}
	out.files = append(out.files, model.NamedBlob{Name: bundleName, Data: data})
	return nil
}

var errInvalidMetadata = errors.New("metadata must be valid JSON")

func writeUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		WriteError(w, ErrorParams{
			Code:    http.StatusRequestEntityTooLarge,
			ErrCode: "too_large",
			Err:     fmt.Errorf("submission exceeds %d bytes", maxErr.Limit),
		})
		return
	}
	WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
}
