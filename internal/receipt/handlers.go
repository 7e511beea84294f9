package receipt

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/zombor/receipt-extractor/internal/batch"
	"github.com/zombor/receipt-extractor/internal/export"
)

// extractResponse is the JSON body of a processed batch
type extractResponse struct {
	CSV    string            `json:"csv"`
	Errors []batch.FileError `json:"errors,omitempty"`
	Files  int               `json:"files"`
	Rows   int               `json:"rows"`
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes an {"error": message} response
func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleExtractReceipts accepts a multipart batch and returns the merged CSV
func (s *Server) handleExtractReceipts(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.requireAuth(s.extractReceipts)(w, r)
}

func (s *Server) extractReceipts(w http.ResponseWriter, r *http.Request) {
	// Refuse before touching the upload
	if !s.service.Configured() {
		slog.Error("Extraction backend not configured")
		writeError(w, http.StatusInternalServerError, ErrNotConfigured.Error())
		return
	}

	if limit := s.service.Policy().MaxBodyBytes(); limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	files, err := s.ingestor.Ingest(r.Body, r.Header.Get("Content-Type"))
	if err != nil {
		slog.Error("Error parsing upload", "error", err)
		writeError(w, http.StatusBadRequest, ingestErrorMessage(err))
		return
	}

	result, err := s.service.ExtractBatch(r.Context(), files)
	if err != nil {
		code, message := serviceErrorResponse(err)
		slog.Error("Error processing batch", "files", len(files), "error", err)
		writeError(w, code, message)
		return
	}

	w.Header().Set("X-Batch-ID", result.BatchID)
	w.Header().Set("X-Failed-Files", strconv.Itoa(len(result.Errors)))

	if wantsXLSX(r) {
		w.Header().Set("Content-Type", export.XLSXContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="receipts-export.xlsx"`)
		if err := export.WriteXLSX(w, result.Table, result.Errors); err != nil {
			slog.Error("Error writing workbook", "batch_id", result.BatchID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		CSV:    result.Table.CSV(),
		Errors: result.Errors,
		Files:  result.Files,
		Rows:   result.Table.Len(),
	})
}

// wantsXLSX reports whether the client asked for a workbook instead of JSON
func wantsXLSX(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), export.XLSXContentType)
}

// ingestErrorMessage maps upload decoding failures to user messages
func ingestErrorMessage(err error) string {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return "Upload too large"
	case errors.Is(err, batch.ErrMalformedUpload):
		return "No multipart boundary found"
	case errors.Is(err, batch.ErrEmptyBatch):
		return "No files provided"
	default:
		return "Error parsing form"
	}
}

// serviceErrorResponse maps whole-request failures to a status code and message
func serviceErrorResponse(err error) (int, string) {
	var v *batch.Violation
	switch {
	case errors.Is(err, ErrNotConfigured):
		return http.StatusInternalServerError, ErrNotConfigured.Error()
	case errors.Is(err, batch.ErrEmptyBatch):
		return http.StatusBadRequest, "No files provided"
	case errors.As(err, &v):
		return http.StatusBadRequest, v.Message
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "Rate limit exceeded. Please try again later."
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusPaymentRequired, "AI credits exhausted. Please add credits to continue."
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
