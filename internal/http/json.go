package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/target/fbdispatch/internal/data"
	apperrors "github.com/target/fbdispatch/internal/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	// Client disconnects can't be recovered from here.
	_, _ = buf.WriteTo(w)
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// WriteError writes a JSON error response using ErrorParams.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, map[string]string{"error": p.ErrCode, "message": p.Err.Error()})
}

// writeServiceError maps service and store failures onto HTTP status codes.
// Unclassified failures are reported without their message.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, data.ErrDocumentNotFound), apperrors.IsNotFound(err):
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
	case apperrors.IsPreparation(err), apperrors.IsValidation(err):
		WriteError(w, ErrorParams{Code: http.StatusUnprocessableEntity, ErrCode: "invalid_submission", Err: err})
	case apperrors.IsConflict(err):
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "conflict", Err: err})
	case apperrors.IsTransport(err), apperrors.IsTimeout(err):
		WriteError(w, ErrorParams{Code: http.StatusServiceUnavailable, ErrCode: "unavailable", Err: err})
	default:
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "internal",
			Err:     errors.New(http.StatusText(http.StatusInternalServerError)),
		})
	}
}
