package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sheetquery/sheetquery/internal/assistant"
	"github.com/sheetquery/sheetquery/internal/auth"
)

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return
	}
	identity := identityFromRequest(r)
	if err := requireRole(identity, auth.RoleDatasetWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	session := deps.Sessions.Create(identity.TenantID)
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFromRequest(deps, w, r, auth.RoleQuestionAsker)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return
	}
	identity := identityFromRequest(r)
	if err := requireRole(identity, auth.RoleDatasetWriter); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	sessionID := r.PathValue("session")
	if err := deps.Sessions.Delete(r.Context(), identity.TenantID, sessionID); err != nil {
		if errors.Is(err, assistant.ErrSessionNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), false, map[string]any{"session_id": sessionID})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_DELETE_FAILED", "failed to release session", true, map[string]any{"details": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionFromRequest resolves the {session} path value for the caller's
// tenant and writes the error response itself when that fails.
func sessionFromRequest(deps Dependencies, w http.ResponseWriter, r *http.Request, role string) (*assistant.Session, bool) {
	if deps.Sessions == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SESSIONS_NOT_CONFIGURED", "session manager is not configured", false, nil)
		return nil, false
	}
	identity := identityFromRequest(r)
	if err := requireRole(identity, role); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return nil, false
	}
	sessionID := r.PathValue("session")
	session, err := deps.Sessions.Get(identity.TenantID, sessionID)
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "SESSION_NOT_FOUND", err.Error(), false, map[string]any{"session_id": sessionID})
		return nil, false
	}
	return session, true
}

// identityFromRequest falls back to the anonymous identity when no API key
// was checked. X-Tenant-ID then selects the tenant.
func identityFromRequest(r *http.Request) auth.Identity {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && strings.TrimSpace(identity.TenantID) != "" {
		return identity
	}
	identity := auth.Anonymous()
	if tenantID := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); tenantID != "" {
		identity.TenantID = tenantID
	}
	return identity
}

func requireRole(identity auth.Identity, role string) error {
	if identity.HasRole(role) {
		return nil
	}
	return fmt.Errorf("missing required role %q", role)
}

func sessionPayload(session *assistant.Session) map[string]any {
	payload := map[string]any{
		"session_id":    session.ID,
		"tenant_id":     session.TenantID,
		"relation_name": session.RelationName(),
		"created_at":    session.CreatedAt,
		"has_dataset":   false,
	}
	if rel, ok := session.Relation(); ok {
		payload["has_dataset"] = true
		payload["source_name"] = rel.SourceName
		payload["row_count"] = rel.RowCount
	}
	return payload
}
