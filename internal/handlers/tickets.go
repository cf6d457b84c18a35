package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/models"
)

type ticketRequest struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	SwimlaneID  string              `json:"swimlaneId"`
	StatusID    string              `json:"statusId"`
	Order       *int                `json:"order"`
	AssigneeIDs []string            `json:"assigneeIds"`
	DueDate     *time.Time          `json:"dueDate"`
	Attachments []models.Attachment `json:"attachments"`
}

// MoveResponse is the optimistic board after a move. The write for the moved
// ticket may still be in flight.
type MoveResponse struct {
	Tickets    []models.Ticket `json:"tickets"`
	Moved      *models.Ticket  `json:"moved,omitempty"`
	Changed    bool            `json:"changed"`
	Optimistic bool            `json:"optimistic"`
}

// TicketResponse is a ticket with the links found in its description.
type TicketResponse struct {
	*models.Ticket
	DescriptionLinks []string `json:"descriptionLinks,omitempty"`
}

type linkRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type commentRequest struct {
	Content string `json:"content"`
}

func ticketVars(r *http.Request) (string, string) {
	vars := mux.Vars(r)
	return vars["projectId"], vars["ticketId"]
}

func (h *APIHandlers) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.repo.ListTickets(r.Context(), mux.Vars(r)["projectId"], queryBool(r, "archived"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tickets)
}

// CreateTicket stores a new ticket. A client-supplied id is kept; without an
// order the ticket goes to the bottom of its cell.
func (h *APIHandlers) CreateTicket(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	var req ticketRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		h.writeError(w, r, common.NewValidationError("EMPTY_TITLE", "ticket title is required"))
		return
	}
	if _, err := h.repo.GetProject(r.Context(), projectID); err != nil {
		h.writeError(w, r, err)
		return
	}

	ticket := models.Ticket{
		ID:          req.ID,
		Title:       title,
		Description: req.Description,
		SwimlaneID:  req.SwimlaneID,
		StatusID:    req.StatusID,
		AssigneeIDs: req.AssigneeIDs,
		DueDate:     req.DueDate,
		Attachments: req.Attachments,
		Comments:    []models.Comment{},
		CreatedBy:   currentUser(r),
	}
	if ticket.Attachments == nil {
		ticket.Attachments = []models.Attachment{}
	}
	if req.Order != nil {
		ticket.Order = *req.Order
	} else {
		existing, err := h.repo.ListTickets(r.Context(), projectID, false)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		ticket.Order = nextOrder(existing, board.CellOf(ticket))
	}

	created, err := h.repo.CreateTicket(r.Context(), projectID, ticket)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info().Str("project", projectID).Str("ticket", created.ID).Str("cell", board.CellOf(*created).String()).Msg("Ticket created")
	h.writeJSON(w, http.StatusCreated, created)
}

// nextOrder is one past the highest order in the cell.
func nextOrder(tickets []models.Ticket, key board.CellKey) int {
	cell := board.CellTickets(tickets, key)
	if len(cell) == 0 {
		return 0
	}
	return cell[len(cell)-1].Order + 1
}

func (h *APIHandlers) GetTicket(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)
	ticket, err := h.repo.GetTicket(r.Context(), projectID, ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ticket.Comments = models.CommentsNewestFirst(ticket.Comments)
	h.writeJSON(w, http.StatusOK, TicketResponse{Ticket: ticket, DescriptionLinks: common.DescriptionLinks(ticket.Description)})
}

// ticketPatch converts a PATCH body into a partial field set. An explicit
// null dueDate clears it.
func ticketPatch(raw map[string]json.RawMessage) (map[string]any, error) {
	fields := make(map[string]any, len(raw))
	for field, value := range raw {
		var err error
		switch field {
		case "title":
			var title string
			if err = json.Unmarshal(value, &title); err == nil {
				if title = strings.TrimSpace(title); title == "" {
					return nil, common.NewValidationError("EMPTY_TITLE", "ticket title is required")
				}
				fields[field] = title
			}
		case "description", "swimlaneId", "statusId":
			var s string
			if err = json.Unmarshal(value, &s); err == nil {
				fields[field] = s
			}
		case "order":
			var order int
			if err = json.Unmarshal(value, &order); err == nil {
				fields[field] = order
			}
		case "assigneeIds":
			var ids []string
			if err = json.Unmarshal(value, &ids); err == nil {
				fields[field] = models.NormalizeAssignees(ids)
			}
		case "dueDate":
			var due *time.Time
			if err = json.Unmarshal(value, &due); err == nil {
				if due == nil {
					fields[field] = nil
				} else {
					fields[field] = *due
				}
			}
		default:
			return nil, common.NewValidationError("UNKNOWN_FIELD", fmt.Sprintf("field %q cannot be updated", field))
		}
		if err != nil {
			return nil, common.WrapError(err, common.ErrorTypeValidation, "INVALID_FIELD", fmt.Sprintf("field %q has the wrong type", field))
		}
	}
	return fields, nil
}

func (h *APIHandlers) UpdateTicket(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)

	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		h.writeError(w, r, err)
		return
	}
	fields, err := ticketPatch(raw)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.UpdateTicket(r.Context(), projectID, ticketID, fields); err != nil {
		h.writeError(w, r, err)
		return
	}

	ticket, err := h.repo.GetTicket(r.Context(), projectID, ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, ticket)
}

// DeleteTicket permanently removes a ticket with its attachments and
// comments. It is refused while an upload for the ticket is in progress.
func (h *APIHandlers) DeleteTicket(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)

	if err := h.uploads.GuardDelete(projectID, ticketID); err != nil {
		h.logger.Warn().Str("project", projectID).Str("ticket", ticketID).Msg("Refused ticket delete during upload")
		h.writeError(w, r, err)
		return
	}

	ticket, err := h.repo.GetTicket(r.Context(), projectID, ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.repo.DeleteTicket(r.Context(), projectID, ticketID); err != nil {
		h.writeError(w, r, err)
		return
	}

	for _, attachment := range ticket.Attachments {
		h.deleteStoredFile(r.Context(), attachment)
	}
	h.logger.Info().Str("project", projectID).Str("ticket", ticketID).Str("user", currentUser(r)).Msg("Ticket deleted")
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (h *APIHandlers) ArchiveTicket(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID, ticketID := ticketVars(r)
		if err := h.repo.UpdateTicket(r.Context(), projectID, ticketID, map[string]any{"isArchived": archived}); err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
	}
}

// MoveTicket applies a drag-and-drop move to the project's active tickets
// and answers with the optimistic board. Only the moved ticket is written,
// in the background; a failed write is logged and never rolled back.
func (h *APIHandlers) MoveTicket(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectId"]

	var move board.Move
	if err := decodeJSON(r, &move); err != nil {
		h.writeError(w, r, err)
		return
	}
	if move.TicketID == "" {
		h.writeError(w, r, common.NewValidationError("MISSING_TICKET", "ticketId is required"))
		return
	}

	tickets, err := h.repo.ListTickets(r.Context(), projectID, false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	engine := newBoardEngine(h.config, h.repo, h.metrics, h.logger, projectID)
	engine.ApplySnapshot(tickets)

	result, err := engine.Move(r.Context(), move)
	if err != nil {
		if errors.Is(err, board.ErrTicketNotFound) {
			err = common.NewNotFoundError("TICKET_NOT_FOUND", "ticket is not on this board").WithContext("ticket", move.TicketID)
		}
		h.writeError(w, r, err)
		return
	}

	h.moves.Add(1)
	go func() {
		defer h.moves.Done()
		engine.Wait()
	}()

	resp := MoveResponse{Tickets: result.Tickets, Changed: result.Changed, Optimistic: true}
	status := http.StatusOK
	if result.Changed {
		resp.Moved = &result.Moved
		status = http.StatusAccepted
	}
	h.writeJSON(w, status, resp)
}

// AddAttachments attaches uploaded files (multipart, field "files" or
// "file") or a link (JSON body). The ticket may not exist yet: attachments
// for a ticket id that is still being created are returned without being
// stored, for the caller to include in the create request.
func (h *APIHandlers) AddAttachments(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)

	var (
		attachments []models.Attachment
		err         error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		attachments, err = h.uploadAttachments(r, projectID, ticketID)
	} else {
		attachments, err = linkAttachment(r)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.storeAttachments(r.Context(), projectID, ticketID, attachments); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, attachments)
}

func linkAttachment(r *http.Request) ([]models.Attachment, error) {
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, common.NewValidationError("INVALID_URL", "link must be an http or https URL")
	}
	return []models.Attachment{
		models.NewLinkAttachment(uuid.NewString(), strings.TrimSpace(req.Name), u.String(), currentUser(r), time.Now().UTC()),
	}, nil
}

// uploadAttachments streams each file to blob storage under the
// client/project/ticket folder. The ticket is marked as uploading until
// every file is finalized.
func (h *APIHandlers) uploadAttachments(r *http.Request, projectID, ticketID string) ([]models.Attachment, error) {
	if err := h.requireBlob(); err != nil {
		return nil, err
	}
	done := h.uploads.Begin(projectID, ticketID)
	defer done()

	project, err := h.repo.GetProject(r.Context(), projectID)
	if err != nil {
		return nil, err
	}
	hints := interfaces.FolderHints{Project: project.Name, Ticket: ticketID}
	if client, err := h.repo.GetClient(r.Context(), project.ClientID); err == nil {
		hints.Client = client.Name
	}

	if err := r.ParseMultipartForm(h.maxUploadBytes()); err != nil {
		return nil, common.WrapError(err, common.ErrorTypeValidation, "INVALID_UPLOAD", "expected a multipart form")
	}
	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	if len(headers) == 0 {
		return nil, common.NewValidationError("MISSING_FILE", "no files in upload")
	}

	folderID, err := h.blob.ResolveFolder(r.Context(), hints)
	if err != nil {
		return nil, err
	}

	user := currentUser(r)
	attachments := make([]models.Attachment, 0, len(headers))
	for _, header := range headers {
		attachment, err := h.uploadAttachment(r.Context(), folderID, header, user)
		if err != nil {
			h.logger.Warn().Err(err).Str("ticket", ticketID).Str("file", header.Filename).Msg("Attachment upload failed")
			return nil, err
		}
		attachments = append(attachments, attachment)
	}

	h.logger.Info().Str("project", projectID).Str("ticket", ticketID).Int("files", len(attachments)).Msg("Attachments uploaded")
	return attachments, nil
}

func (h *APIHandlers) uploadAttachment(ctx context.Context, folderID string, header *multipart.FileHeader, user string) (models.Attachment, error) {
	file, err := header.Open()
	if err != nil {
		return models.Attachment{}, common.WrapError(err, common.ErrorTypeValidation, "INVALID_UPLOAD", "could not read uploaded file")
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	uploaded, err := h.blob.Upload(ctx, folderID, header.Filename, contentType, file, header.Size)
	if err != nil {
		return models.Attachment{}, err
	}
	link, err := h.blob.Finalize(ctx, uploaded.FileID)
	if err != nil {
		return models.Attachment{}, err
	}

	return models.Attachment{
		ID:         uuid.NewString(),
		Name:       header.Filename,
		Type:       models.InferAttachmentType(header.Filename, uploaded.ContentType),
		URL:        "/api/files/" + uploaded.FileID + "/content",
		FileID:     uploaded.FileID,
		SharedLink: link,
		MimeType:   uploaded.ContentType,
		Size:       uploaded.Size,
		UploadedAt: time.Now().UTC(),
		UploadedBy: user,
	}, nil
}

// storeAttachments appends attachments to an existing ticket.
func (h *APIHandlers) storeAttachments(ctx context.Context, projectID, ticketID string, attachments []models.Attachment) error {
	ticket, err := h.repo.GetTicket(ctx, projectID, ticketID)
	if common.IsNotFound(err) {
		h.logger.Debug().Str("project", projectID).Str("ticket", ticketID).Msg("Ticket not created yet; returning attachments unsaved")
		return nil
	}
	if err != nil {
		return err
	}
	return h.repo.UpdateTicket(ctx, projectID, ticketID, map[string]any{
		"attachments": append(ticket.Attachments, attachments...),
	})
}

func (h *APIHandlers) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)
	attachmentID := mux.Vars(r)["attachmentId"]

	ticket, err := h.repo.GetTicket(r.Context(), projectID, ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	i := slices.IndexFunc(ticket.Attachments, func(a models.Attachment) bool { return a.ID == attachmentID })
	if i < 0 {
		h.writeError(w, r, common.NewNotFoundError("ATTACHMENT_NOT_FOUND", "attachment not found"))
		return
	}
	removed := ticket.Attachments[i]
	remaining := slices.Delete(slices.Clone(ticket.Attachments), i, i+1)

	if err := h.repo.UpdateTicket(r.Context(), projectID, ticketID, map[string]any{"attachments": remaining}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.deleteStoredFile(r.Context(), removed)
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// deleteStoredFile removes an attachment's blob, if it has one. Failures are
// logged only.
func (h *APIHandlers) deleteStoredFile(ctx context.Context, attachment models.Attachment) {
	if attachment.FileID == "" || h.blob == nil {
		return
	}
	if err := h.blob.Delete(ctx, attachment.FileID); err != nil && !common.IsNotFound(err) {
		h.logger.Warn().Err(err).Str("attachment", attachment.ID).Msg("Failed to delete attachment file")
	}
}

func (h *APIHandlers) AddComment(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)

	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		h.writeError(w, r, common.NewValidationError("EMPTY_COMMENT", "comment must not be empty"))
		return
	}

	ticket, err := h.repo.GetTicket(r.Context(), projectID, ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	comment := models.Comment{
		ID:        uuid.NewString(),
		Content:   content,
		UserID:    currentUser(r),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.UpdateTicket(r.Context(), projectID, ticketID, map[string]any{
		"comments": append(ticket.Comments, comment),
	}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, comment)
}

func (h *APIHandlers) DeleteComment(w http.ResponseWriter, r *http.Request) {
	projectID, ticketID := ticketVars(r)
	commentID := mux.Vars(r)["commentId"]

	ticket, err := h.repo.GetTicket(r.Context(), projectID, ticketID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	remaining := slices.DeleteFunc(slices.Clone(ticket.Comments), func(c models.Comment) bool { return c.ID == commentID })
	if len(remaining) == len(ticket.Comments) {
		h.writeError(w, r, common.NewNotFoundError("COMMENT_NOT_FOUND", "comment not found"))
		return
	}
	if err := h.repo.UpdateTicket(r.Context(), projectID, ticketID, map[string]any{"comments": remaining}); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
