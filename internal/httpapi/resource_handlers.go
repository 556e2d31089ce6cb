package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"stockroom.org/internal/audit"
	"stockroom.org/internal/auth"
)

type createProjectRequest struct {
	Name string `json:"name"`
}

type grantMembershipRequest struct {
	PrincipalID string `json:"principal_id"`
	Permission  string `json:"permission"` // viewer | editor | admin
}

type revokeMembershipRequest struct {
	PrincipalID string `json:"principal_id"`
}

type createItemRequest struct {
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
	Quantity  int64  `json:"quantity"`
}

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createProject(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/projects/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/members") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/members"), "/")
		id = strings.TrimSuffix(id, "/")
		if id == "" {
			writeError(w, r, http.StatusNotFound, "project not found")
			return
		}
		switch r.Method {
		case http.MethodPost:
			a.grantMembership(w, r, id)
		case http.MethodDelete:
			a.revokeMembership(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
		}
		return
	}

	if strings.Contains(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getProject(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleItemsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createItem(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost)
	}
}

func (a *API) handleItemResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/items/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getItem(w, r, id)
	case http.MethodDelete:
		a.deleteItem(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}

	project := &auth.Project{Name: name, OwnerID: principal.ID}
	if err := a.store.Projects(r.Context()).Create(r.Context(), project); err != nil {
		writeError(w, r, http.StatusInternalServerError, "project creation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "project.create", map[string]any{
		"project_id": project.ID,
		"name":       project.Name,
	})

	w.Header().Set("Location", "/v1/projects/"+project.ID)
	writeJSON(w, http.StatusCreated, "project created", project)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	allowed, err := a.resolver.AuthorizeProject(r.Context(), principal, id, auth.CapRead)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "insufficient capability")
		return
	}

	project, err := a.store.Projects(r.Context()).Find(r.Context(), id)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok", project)
}

// grantMembership requires full capability on the project: owners and
// administrators always pass, members only with the admin composite.
func (a *API) grantMembership(w http.ResponseWriter, r *http.Request, projectID string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req grantMembershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	memberID := strings.TrimSpace(req.PrincipalID)
	if memberID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}
	permission, ok := auth.ParseCapability(req.Permission)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "permission must be viewer, editor or admin")
		return
	}

	allowed, err := a.resolver.AuthorizeProject(r.Context(), principal, projectID, auth.CapAdmin)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "insufficient capability")
		return
	}

	membership := &auth.Membership{
		PrincipalID: memberID,
		ProjectID:   projectID,
		Permission:  permission,
	}
	if err := a.store.Memberships(r.Context()).Upsert(r.Context(), membership); err != nil {
		writeError(w, r, http.StatusInternalServerError, "membership grant failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "project.membership.grant", map[string]any{
		"project_id": projectID,
		"member_id":  memberID,
		"permission": permission.String(),
	})

	writeJSON(w, http.StatusCreated, "membership granted", membership)
}

func (a *API) revokeMembership(w http.ResponseWriter, r *http.Request, projectID string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req revokeMembershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	memberID := strings.TrimSpace(req.PrincipalID)
	if memberID == "" {
		writeError(w, r, http.StatusBadRequest, "principal_id is required")
		return
	}

	allowed, err := a.resolver.AuthorizeProject(r.Context(), principal, projectID, auth.CapAdmin)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, "insufficient capability")
		return
	}

	if err := a.store.Memberships(r.Context()).Remove(r.Context(), memberID, projectID); err != nil && !errors.Is(err, auth.ErrNotFound) {
		writeError(w, r, http.StatusInternalServerError, "membership revoke failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "project.membership.revoke", map[string]any{
		"project_id": projectID,
		"member_id":  memberID,
	})

	writeJSON(w, http.StatusOK, "membership revoked", nil)
}

func (a *API) createItem(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	var req createItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	if req.Quantity < 0 {
		writeError(w, r, http.StatusBadRequest, "quantity must be >= 0")
		return
	}

	projectID := strings.TrimSpace(req.ProjectID)
	if projectID != "" {
		allowed, err := a.resolver.AuthorizeProject(r.Context(), principal, projectID, auth.CapCreate)
		if err != nil {
			handleResolverError(w, r, err)
			return
		}
		if !allowed {
			writeError(w, r, http.StatusForbidden, "insufficient capability")
			return
		}
	}

	item := &auth.Item{Name: name, ProjectID: projectID, Quantity: req.Quantity}
	if err := a.store.Items(r.Context()).Create(r.Context(), item); err != nil {
		writeError(w, r, http.StatusInternalServerError, "item creation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "item.create", map[string]any{
		"item_id":    item.ID,
		"project_id": projectID,
	})

	w.Header().Set("Location", "/v1/items/"+item.ID)
	writeJSON(w, http.StatusCreated, "item created", item)
}

func (a *API) getItem(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := a.resolver.Require(r.Context(), principal, id, auth.CapRead); err != nil {
		handleResolverError(w, r, err)
		return
	}

	item, err := a.store.Items(r.Context()).Find(r.Context(), id)
	if err != nil {
		handleResolverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, "ok", item)
}

func (a *API) deleteItem(w http.ResponseWriter, r *http.Request, id string) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated")
		return
	}

	if err := a.resolver.Require(r.Context(), principal, id, auth.CapDelete); err != nil {
		handleResolverError(w, r, err)
		return
	}

	if err := a.store.Items(r.Context()).Delete(r.Context(), id); err != nil {
		handleResolverError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "item.delete", map[string]any{"item_id": id})

	writeJSON(w, http.StatusOK, "item deleted", nil)
}

func handleResolverError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrResourceNotFound), errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrInsufficientCapability):
		writeError(w, r, http.StatusForbidden, "insufficient capability")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
