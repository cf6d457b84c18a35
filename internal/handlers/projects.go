package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/models"
)

type projectRequest struct {
	ClientID    *string `json:"clientId"`
	GroupID     *string `json:"groupId"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LogoURL     *string `json:"logoUrl"`
}

func (req projectRequest) fields() (map[string]any, error) {
	fields := make(map[string]any)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, common.NewValidationError("EMPTY_NAME", "project name is required")
		}
		fields["name"] = name
	}
	if req.ClientID != nil {
		if *req.ClientID == "" {
			return nil, common.NewValidationError("MISSING_CLIENT", "clientId must not be empty")
		}
		fields["clientId"] = *req.ClientID
	}
	if req.GroupID != nil {
		if *req.GroupID == "" {
			fields["groupId"] = nil
		} else {
			fields["groupId"] = *req.GroupID
		}
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.LogoURL != nil {
		fields["logoUrl"] = *req.LogoURL
	}
	return fields, nil
}

// ProjectResponse is a project with its effective board layout applied.
type ProjectResponse struct {
	*models.Project
	LayoutDefaulted bool `json:"layoutDefaulted"`
}

// cardExcerptRunes bounds the description preview shown on a board card.
const cardExcerptRunes = 140

// BoardResponse is everything needed to render a project board. Excerpts
// holds the plain-text description preview of each ticket by id.
type BoardResponse struct {
	Project  *models.Project   `json:"project"`
	Grid     board.Grid        `json:"grid"`
	Total    int               `json:"total"`
	Excerpts map[string]string `json:"excerpts"`
}

func (h *APIHandlers) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.repo.ListProjects(r.Context(), mux.Vars(r)["clientId"], queryBool(r, "archived"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, projects)
}

// CreateProject creates a project under an existing client with the
// default board layout.
func (h *APIHandlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == nil {
		h.writeError(w, r, common.NewValidationError("EMPTY_NAME", "project name is required"))
		return
	}
	if req.ClientID == nil {
		h.writeError(w, r, common.NewValidationError("MISSING_CLIENT", "clientId is required"))
		return
	}
	fields, err := req.fields()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	id := uuid.NewString()
	project := models.Project{
		ID:        id,
		ClientID:  *req.ClientID,
		Name:      fields["name"].(string),
		Statuses:  board.DefaultStatuses(id),
		Swimlanes: board.DefaultSwimlanes(id),
		CreatedBy: currentUser(r),
	}
	if req.GroupID != nil {
		project.GroupID = *req.GroupID
	}
	if req.Description != nil {
		project.Description = *req.Description
	}

	created, err := h.repo.CreateProject(r.Context(), project)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info().Str("project", created.ID).Str("client", created.ClientID).Msg("Project created")
	h.writeJSON(w, http.StatusCreated, created)
}

// loadProject reads a project and resolves its board layout, writing the
// defaults back when it has none. A failed write is logged by the resolver
// and does not fail the read.
func (h *APIHandlers) loadProject(r *http.Request, id string) (*models.Project, bool, error) {
	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		return nil, false, err
	}
	layout, _ := h.resolver.Resolve(r.Context(), *project)
	project.Statuses = layout.Statuses
	project.Swimlanes = layout.Swimlanes
	return project, layout.Defaulted, nil
}

func (h *APIHandlers) GetProject(w http.ResponseWriter, r *http.Request) {
	project, defaulted, err := h.loadProject(r, mux.Vars(r)["projectId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ProjectResponse{Project: project, LayoutDefaulted: defaulted})
}

func (h *APIHandlers) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]

	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fields, err := req.fields()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if clientID, ok := fields["clientId"].(string); ok {
		if _, err := h.repo.GetClient(r.Context(), clientID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	if err := h.repo.UpdateProject(r.Context(), id, fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, project)
}

// DeleteProject permanently removes the project and its tickets.
func (h *APIHandlers) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]
	if err := h.repo.DeleteProject(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info().Str("project", id).Str("user", currentUser(r)).Msg("Project deleted")
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *APIHandlers) ArchiveProject(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["projectId"]
		if err := h.repo.UpdateProject(r.Context(), id, map[string]any{"isArchived": archived}); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	}
}

// columnInput is one status or swimlane in a settings edit.
type columnInput struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

// normalizeColumns validates a settings edit. List position becomes the
// order, and new entries get generated ids.
func normalizeColumns(kind string, in []columnInput) ([]columnInput, error) {
	if len(in) == 0 {
		return nil, common.NewValidationError("EMPTY_LIST", fmt.Sprintf("at least one %s is required", kind))
	}
	seen := make(map[string]bool, len(in))
	out := make([]columnInput, len(in))
	for i, c := range in {
		c.Title = strings.TrimSpace(c.Title)
		if c.Title == "" {
			return nil, common.NewValidationError("EMPTY_TITLE", fmt.Sprintf("%s %d has no title", kind, i+1))
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if seen[c.ID] {
			return nil, common.NewValidationError("DUPLICATE_ID", fmt.Sprintf("%s id %q is used twice", kind, c.ID))
		}
		seen[c.ID] = true
		if c.Color == "" {
			c.Color = "#64748b"
		}
		out[i] = c
	}
	return out, nil
}

// PutStatuses replaces the project's columns.
func (h *APIHandlers) PutStatuses(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]

	var in []columnInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	columns, err := normalizeColumns("status", in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	statuses := make([]models.ProjectStatus, len(columns))
	for i, c := range columns {
		statuses[i] = models.ProjectStatus{ID: c.ID, ProjectID: id, Title: c.Title, Order: i, Color: c.Color}
	}
	if err := h.repo.UpdateProject(r.Context(), id, map[string]any{"statuses": statuses}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statuses)
}

// PutSwimlanes replaces the project's rows.
func (h *APIHandlers) PutSwimlanes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]

	var in []columnInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	columns, err := normalizeColumns("swimlane", in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	swimlanes := make([]models.Swimlane, len(columns))
	for i, c := range columns {
		swimlanes[i] = models.Swimlane{ID: c.ID, ProjectID: id, Title: c.Title, Order: i, Color: c.Color}
	}
	if err := h.repo.UpdateProject(r.Context(), id, map[string]any{"swimlanes": swimlanes}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, swimlanes)
}

func (h *APIHandlers) UploadProjectLogo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]
	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	hints := interfaces.FolderHints{Project: project.Name}
	if client, err := h.repo.GetClient(r.Context(), project.ClientID); err == nil {
		hints.Client = client.Name
	}

	link, err := h.uploadLogo(r, hints)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.UpdateProject(r.Context(), id, map[string]any{"logoUrl": link}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"logoUrl": link})
}

// GetBoard renders the project's active tickets on its grid.
func (h *APIHandlers) GetBoard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]
	project, _, err := h.loadProject(r, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tickets, err := h.repo.ListTickets(r.Context(), id, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	excerpts := make(map[string]string, len(tickets))
	for _, t := range tickets {
		if excerpt := common.Excerpt(t.Description, cardExcerptRunes); excerpt != "" {
			excerpts[t.ID] = excerpt
		}
	}

	layout := board.Layout{Statuses: project.Statuses, Swimlanes: project.Swimlanes}
	h.writeJSON(w, http.StatusOK, BoardResponse{
		Project:  project,
		Grid:     board.BuildBoard(layout, tickets),
		Total:    len(tickets),
		Excerpts: excerpts,
	})
}

// ExportProject streams a zip of the project and all of its tickets.
func (h *APIHandlers) ExportProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectId"]
	project, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := h.repo.ExportProject(r.Context(), id, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	name := strings.Join(strings.Fields(project.Name), "-")
	if name == "" {
		name = id
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".zip"))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn().Err(err).Str("project", id).Msg("Export interrupted")
	}
}
