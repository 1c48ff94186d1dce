package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sheetquery/sheetquery/internal/auth"
	"github.com/sheetquery/sheetquery/internal/storage"
)

const maxLoadsLimit = 500

func handleListLoads(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	if deps.Loads == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "LOADS_NOT_CONFIGURED", "dataset load catalog is not configured", false, nil)
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxLoadsLimit {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be between 1 and 500", false, nil)
			return
		}
		limit = parsed
	}

	loads, err := deps.Loads.ListLoads(r.Context(), session.TenantID, session.ID, limit)
	if err != nil {
		writeError(r.Context(), w, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", "failed to list dataset loads", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": session.ID, "loads": loads})
}

func handleDownloadArchive(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	if deps.Archives == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ARCHIVE_NOT_CONFIGURED", "dataset archive is not configured", false, nil)
		return
	}

	loadID := r.PathValue("load")
	if _, err := storage.BuildArchivePath(session.ID, loadID); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), false, nil)
		return
	}
	body, info, err := deps.Archives.Open(r.Context(), session.ID, loadID)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_NOT_FOUND", "archived load not found", false, map[string]any{"load_id": loadID})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "ARCHIVE_UNAVAILABLE", "failed to read archived load", true, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = body.Close() }()

	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+loadID+`.parquet"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	if info.ETag != "" {
		w.Header().Set("ETag", info.ETag)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && deps.Logger != nil {
		deps.Logger.Warn("archive download interrupted", "session_id", session.ID, "load_id", loadID, "error", err)
	}
}
