package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vmsplus/usersync/internal/audit"
	"github.com/vmsplus/usersync/internal/core"
	"github.com/vmsplus/usersync/internal/dbconn"
	"github.com/vmsplus/usersync/internal/ingest"
	"github.com/vmsplus/usersync/internal/logging"
)

// uploadResponse mirrors the original module's upload payload shape.
type uploadResponse struct {
	Success bool             `json:"success"`
	Message string           `json:"message"`
	Data    *core.SyncResult `json:"data"`
}

// errorResponse is the JSON structure for error responses. Details carries
// the itemized validation error list when present.
type errorResponse struct {
	Error   string   `json:"error"`
	Code    string   `json:"code"`
	Details []string `json:"details,omitempty"`
}

// handleUpload accepts a multipart file plus an uploader identity and runs
// the parse, normalize, validate, sync pipeline.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, http.StatusBadRequest, "file too large or invalid form", "bad_request", nil)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file provided", "bad_request", nil)
		return
	}
	defer file.Close()

	uploadedBy := r.FormValue("uploadedBy")
	if uploadedBy == "" {
		uploadedBy = "Anonymous"
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file", "read_failed", nil)
		return
	}

	raw, headers, err := ingest.Parse(header.Filename, data)
	if err != nil {
		status, code := parseErrorStatus(err)
		writeError(w, status, err.Error(), code, nil)
		return
	}

	records := ingest.Normalize(raw)

	if err := core.ValidateRecords(headers, records).Err(); err != nil {
		verr, _ := core.AsValidationError(err)
		logger.Info("upload rejected by validation",
			"file", header.Filename,
			"problems", len(verr.Problems),
		)
		writeError(w, http.StatusBadRequest, "validation failed", "validation_failed", verr.Problems)
		return
	}

	result, err := s.syncer.Sync(r.Context(), records, header.Filename, uploadedBy, s.target)
	if err != nil {
		logger.Error("sync failed", "file", header.Filename, "error", err)
		switch {
		case errors.Is(err, dbconn.ErrConnectionFailure):
			writeError(w, http.StatusBadGateway, "could not connect to the target store", "connection_failure", nil)
		case errors.Is(err, core.ErrSyncInfrastructure):
			writeError(w, http.StatusBadGateway, "sync aborted, no rows were committed reliably", "sync_infrastructure_failure", nil)
		default:
			writeError(w, http.StatusInternalServerError, "sync failed", "internal", nil)
		}
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success: true,
		Message: "file processed",
		Data:    result,
	})
}

// handleHistory returns recent sync batches, most recent first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.Upload.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "bad_request", nil)
			return
		}
		limit = n
	}

	batches, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		logging.FromContext(r.Context()).Error("history query failed", "error", err)
		writeError(w, http.StatusBadGateway, "history unavailable", "history_unavailable", nil)
		return
	}

	writeJSON(w, http.StatusOK, batches)
}

// handleHistoryDetail returns one batch with its row errors.
func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	details, err := s.history.GetDetails(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, audit.ErrBatchNotFound) {
			writeError(w, http.StatusNotFound, "sync batch not found", "not_found", nil)
			return
		}
		logging.FromContext(r.Context()).Error("history detail query failed", "batch_id", batchID, "error", err)
		writeError(w, http.StatusBadGateway, "history unavailable", "history_unavailable", nil)
		return
	}

	writeJSON(w, http.StatusOK, details)
}

// handleHealth reports process liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// parseErrorStatus maps ingest failures to HTTP status and error code.
func parseErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrUnsupportedFormat):
		return http.StatusBadRequest, "unsupported_format"
	case errors.Is(err, ingest.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	default:
		return http.StatusBadRequest, "parse_failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string, details []string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, Details: details})
}
