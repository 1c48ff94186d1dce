package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/sheetquery/sheetquery/internal/assistant"
	"github.com/sheetquery/sheetquery/internal/auth"
	"github.com/sheetquery/sheetquery/internal/config"
	"github.com/sheetquery/sheetquery/internal/dataset"
)

type mappingRequest struct {
	Mapping map[string]string `json:"mapping"`
}

// handleUpload accepts either a multipart form with a "file" field or a raw
// body named by the filename query parameter.
func handleUpload(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}
	if deps.Loader == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "LOADER_NOT_CONFIGURED", "dataset loader is not configured", false, nil)
		return
	}
	if cfg.HTTP.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.HTTP.MaxUploadBytes)
	}

	filename, body, closeBody, err := uploadBody(r)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}
	defer closeBody()

	result, err := deps.Loader.Load(r.Context(), session, filename, body)
	if err != nil {
		writeUploadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":   session.ID,
		"load_id":      result.LoadID,
		"archive_path": result.ArchivePath,
		"relation":     result.Relation,
	})
}

func uploadBody(r *http.Request) (string, io.Reader, func(), error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, nil, err
		}
		return filepath.Base(header.Filename), file, func() { _ = file.Close() }, nil
	}
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		return "", nil, nil, errFilenameRequired
	}
	return filepath.Base(filename), r.Body, func() {}, nil
}

var errFilenameRequired = errors.New("filename query parameter is required for raw uploads")

func writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE", err.Error(), false, map[string]any{"limit_bytes": tooLarge.Limit})
	case errors.Is(err, errFilenameRequired), errors.Is(err, http.ErrMissingFile), errors.Is(err, multipart.ErrMessageTooLarge):
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), false, nil)
	case errors.Is(err, dataset.ErrUnsupportedFormat), errors.Is(err, dataset.ErrUnreadable), errors.Is(err, dataset.ErrEmptyTable):
		writeError(r.Context(), w, http.StatusBadRequest, "LOAD_FAILED", err.Error(), false, nil)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "LOAD_FAILED", "failed to load dataset", true, map[string]any{"details": err.Error()})
	}
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	rel, ok := session.Relation()
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "NO_DATASET", assistant.ErrNoDataset.Error(), false, nil)
		return
	}
	mapping := map[string]string{}
	for _, entry := range session.Mapping().Entries() {
		mapping[string(entry.Role)] = entry.Column
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"relation":    rel.Name,
		"source_name": rel.SourceName,
		"format":      rel.Format,
		"row_count":   rel.RowCount,
		"loaded_at":   rel.LoadedAt,
		"columns":     rel.Columns,
		"mapping":     mapping,
		"sample_rows": session.Sample(),
	})
}

func handleSetMapping(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleDatasetWriter)
	if !ok {
		return
	}

	var req mappingRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid mapping request body", false, map[string]any{"details": err.Error()})
		return
	}
	mapping := dataset.SemanticMapping{}
	for rawRole, column := range req.Mapping {
		role, err := dataset.ParseLogicalRole(rawRole)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MAPPING", err.Error(), false, nil)
			return
		}
		if _, exists := mapping[role]; exists {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MAPPING", "role "+string(role)+" is mapped twice", false, nil)
			return
		}
		mapping[role] = strings.TrimSpace(column)
	}

	if err := session.SetMapping(mapping); err != nil {
		switch {
		case errors.Is(err, assistant.ErrMappingAlreadySet):
			writeError(r.Context(), w, http.StatusConflict, "MAPPING_ALREADY_SET", err.Error(), false, nil)
		case errors.Is(err, assistant.ErrNoDataset):
			writeError(r.Context(), w, http.StatusBadRequest, "NO_DATASET", err.Error(), false, nil)
		default:
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MAPPING", err.Error(), false, nil)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"mapping": req.Mapping})
}
