package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sheetquery/sheetquery/internal/assistant"
	"github.com/sheetquery/sheetquery/internal/auth"
	"github.com/sheetquery/sheetquery/internal/relation"
)

type askRequest struct {
	Question string `json:"question"`
}

type resultPayload struct {
	Columns    []string `json:"columns"`
	Rows       [][]any  `json:"rows"`
	RowCount   int      `json:"row_count"`
	Truncated  bool     `json:"truncated"`
	DurationMS int64    `json:"duration_ms"`
}

type outcomePayload struct {
	Question    string         `json:"question"`
	State       string         `json:"state"`
	Class       string         `json:"class,omitempty"`
	SQL         string         `json:"sql,omitempty"`
	RawResponse string         `json:"raw_response,omitempty"`
	EngineError string         `json:"engine_error,omitempty"`
	ErrorKind   string         `json:"error_kind,omitempty"`
	Message     string         `json:"message,omitempty"`
	NoData      bool           `json:"no_data"`
	Repaired    bool           `json:"repaired,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Model       string         `json:"model,omitempty"`
	Result      *resultPayload `json:"result,omitempty"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "PIPELINE_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	outcome := deps.Pipeline.Ask(r.Context(), session, req.Question)
	if outcome.Class == assistant.ClassNoDataset {
		writeError(r.Context(), w, http.StatusBadRequest, "NO_DATASET", "upload a dataset before asking questions", false, map[string]any{"session_id": session.ID})
		return
	}
	writeJSON(w, http.StatusOK, newOutcomePayload(outcome))
}

func newOutcomePayload(outcome assistant.Outcome) outcomePayload {
	payload := outcomePayload{
		Question:    outcome.Question,
		State:       string(outcome.State),
		Class:       string(outcome.Class),
		SQL:         outcome.SQL,
		RawResponse: outcome.RawResponse,
		EngineError: outcome.EngineError,
		ErrorKind:   string(outcome.ErrorKind),
		NoData:      outcome.NoData,
		Repaired:    outcome.Repaired,
		Provider:    outcome.Provider,
		Model:       outcome.Model,
	}
	switch outcome.Class {
	case assistant.ClassServiceUnavailable:
		payload.Message = "the query generation service is unavailable, try again later"
	case assistant.ClassComprehension:
		payload.Message = "the question could not be turned into a query, try rephrasing it"
	case assistant.ClassExecution:
		payload.Message = "the query was rejected by the engine, try naming the column explicitly"
	}
	if outcome.NoData {
		payload.Message = "no rows matched the question"
	}
	if outcome.Result != nil {
		payload.Result = &resultPayload{
			Columns:    outcome.Result.Columns,
			Rows:       outcome.Result.Rows,
			RowCount:   len(outcome.Result.Rows),
			Truncated:  outcome.Result.Truncated,
			DurationMS: outcome.Result.Duration.Milliseconds(),
		}
	}
	return payload
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	history := session.History()
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_ARGUMENT", "limit must be a positive integer", false, nil)
			return
		}
		if limit < len(history) {
			history = history[len(history)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": session.ID, "history": history})
}

func handleClearHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	session.ClearHistory()
	w.WriteHeader(http.StatusNoContent)
}

// handleExport streams the latest successful result of the session as CSV.
func handleExport(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	result, ok := session.LastResult()
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, "NO_RESULT", "no query result to export", false, map[string]any{"session_id": session.ID})
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+session.RelationName()+`.csv"`)
	w.WriteHeader(http.StatusOK)
	if err := relation.WriteCSV(w, result); err != nil && deps.Logger != nil {
		deps.Logger.Warn("csv export interrupted", "session_id", session.ID, "error", err)
	}
}
