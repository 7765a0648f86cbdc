package httpapi

import (
	"net/http"
	"strings"
)

type updateEmailRequest struct {
	Email string `json:"email"`
}

func (a *API) handleAccountResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/accounts/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/email") {
		handle := strings.TrimSuffix(strings.TrimSuffix(path, "/email"), "/")
		if handle == "" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.updateEmail(w, r, handle)
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		a.deleteAccount(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodDelete)
	}
}

func (a *API) updateEmail(w http.ResponseWriter, r *http.Request, handle string) {
	if !a.authorizeOwner(w, r, handle) {
		return
	}

	var req updateEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.identity.UpdateEmail(r.Context(), handle, req.Email); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "confirmation_sent"})
}

func (a *API) deleteAccount(w http.ResponseWriter, r *http.Request, handle string) {
	if !a.authorizeOwner(w, r, handle) {
		return
	}

	if err := a.identity.DeleteAccount(r.Context(), handle); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorizeOwner checks that the authenticated subject owns the handle's
// account. Missing accounts report 404 only after authentication passed.
func (a *API) authorizeOwner(w http.ResponseWriter, r *http.Request, handle string) bool {
	subject, ok := SubjectFromContext(r.Context())
	if !ok {
		writeAuthError(w, r, "unauthenticated", "missing bearer token")
		return false
	}

	account, err := a.identity.FindByHandle(r.Context(), handle)
	if err != nil {
		handleIdentityError(w, r, err)
		return false
	}
	if account.ID != subject {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}
