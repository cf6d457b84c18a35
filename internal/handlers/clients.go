package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/models"
)

type clientRequest struct {
	Name                  *string `json:"name"`
	LogoURL               *string `json:"logoUrl"`
	LogoUseDarkBackground *bool   `json:"logoUseDarkBackground"`
}

func (req clientRequest) fields() (map[string]any, error) {
	fields := make(map[string]any)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, common.NewValidationError("EMPTY_NAME", "client name is required")
		}
		fields["name"] = name
	}
	if req.LogoURL != nil {
		fields["logoUrl"] = *req.LogoURL
	}
	if req.LogoUseDarkBackground != nil {
		fields["logoUseDarkBackground"] = *req.LogoUseDarkBackground
	}
	return fields, nil
}

type groupRequest struct {
	Name  *string `json:"name"`
	Order *int    `json:"order"`
}

func (req groupRequest) fields() (map[string]any, error) {
	fields := make(map[string]any)
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, common.NewValidationError("EMPTY_NAME", "group name is required")
		}
		fields["name"] = name
	}
	if req.Order != nil {
		fields["order"] = *req.Order
	}
	return fields, nil
}

func (h *APIHandlers) ListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.repo.ListClients(r.Context(), queryBool(r, "archived"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, clients)
}

func (h *APIHandlers) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == nil {
		h.writeError(w, r, common.NewValidationError("EMPTY_NAME", "client name is required"))
		return
	}
	fields, err := req.fields()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	client := models.Client{Name: fields["name"].(string), CreatedBy: currentUser(r)}
	if req.LogoURL != nil {
		client.LogoURL = *req.LogoURL
	}
	if req.LogoUseDarkBackground != nil {
		client.LogoUseDarkBackground = *req.LogoUseDarkBackground
	}

	created, err := h.repo.CreateClient(r.Context(), client)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info().Str("client", created.ID).Str("user", client.CreatedBy).Msg("Client created")
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandlers) GetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.repo.GetClient(r.Context(), mux.Vars(r)["clientId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, client)
}

func (h *APIHandlers) UpdateClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["clientId"]

	var req clientRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fields, err := req.fields()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.UpdateClient(r.Context(), id, fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	client, err := h.repo.GetClient(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, client)
}

// DeleteClient permanently removes the client. Its projects are left in
// place; the response reports how many.
func (h *APIHandlers) DeleteClient(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.repo.DeleteClient(r.Context(), mux.Vars(r)["clientId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "client deleted", Count: orphans})
}

func (h *APIHandlers) ArchiveClient(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["clientId"]
		if err := h.repo.UpdateClient(r.Context(), id, map[string]any{"isArchived": archived}); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	}
}

// UploadClientLogo stores the uploaded image under the client's folder and
// points logoUrl at its shared link.
func (h *APIHandlers) UploadClientLogo(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["clientId"]
	client, err := h.repo.GetClient(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	link, err := h.uploadLogo(r, interfaces.FolderHints{Client: client.Name})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.UpdateClient(r.Context(), id, map[string]any{"logoUrl": link}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"logoUrl": link})
}

func (h *APIHandlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.repo.ListGroups(r.Context(), mux.Vars(r)["clientId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, groups)
}

func (h *APIHandlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["clientId"]
	if _, err := h.repo.GetClient(r.Context(), clientID); err != nil {
		h.writeError(w, r, err)
		return
	}

	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Name == nil {
		h.writeError(w, r, common.NewValidationError("EMPTY_NAME", "group name is required"))
		return
	}
	fields, err := req.fields()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	group := models.ProjectGroup{ClientID: clientID, Name: fields["name"].(string)}
	if req.Order != nil {
		group.Order = *req.Order
	}
	created, err := h.repo.CreateGroup(r.Context(), group)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandlers) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["groupId"]

	var req groupRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	fields, err := req.fields()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.UpdateGroup(r.Context(), id, fields); err != nil {
		h.writeError(w, r, err)
		return
	}
	group, err := h.repo.GetGroup(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, group)
}

func (h *APIHandlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeleteGroup(r.Context(), mux.Vars(r)["groupId"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// uploadLogo reads the "file" form field and returns the finalized link.
func (h *APIHandlers) uploadLogo(r *http.Request, hints interfaces.FolderHints) (string, error) {
	if err := h.requireBlob(); err != nil {
		return "", err
	}
	if err := r.ParseMultipartForm(h.maxUploadBytes()); err != nil {
		return "", common.WrapError(err, common.ErrorTypeValidation, "INVALID_UPLOAD", "expected a multipart form")
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", common.NewValidationError("MISSING_FILE", "form field \"file\" is required")
	}
	defer file.Close()

	if !strings.HasPrefix(header.Header.Get("Content-Type"), "image/") &&
		models.InferAttachmentType(header.Filename, header.Header.Get("Content-Type")) != models.AttachmentImage {
		return "", common.NewValidationError("NOT_AN_IMAGE", "logo must be an image")
	}

	folderID, err := h.blob.ResolveFolder(r.Context(), hints)
	if err != nil {
		return "", err
	}
	uploaded, err := h.blob.Upload(r.Context(), folderID, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		return "", err
	}
	return h.blob.Finalize(r.Context(), uploaded.FileID)
}

func (h *APIHandlers) maxUploadBytes() int64 {
	return int64(h.config.Server.MaxUploadMB) << 20
}
