package handlers

import (
	"context"
	"net/http"
	"slices"
	"testing"

	"studio-board/internal/models"
)

func TestCreateTicketAppendsToCell(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	path := "/api/projects/" + project.ID + "/tickets"

	expectErrorCode(t, s.request(http.MethodPost, path, map[string]any{"title": " "}), http.StatusBadRequest, "EMPTY_TITLE")
	expectStatus(t, s.request(http.MethodPost, "/api/projects/missing/tickets", map[string]any{"title": "x"}), http.StatusNotFound)

	first := s.seedTicket(project.ID, "Rough cut")
	second := s.seedTicket(project.ID, "Grade")
	if first.Order != 0 || second.Order != 1 {
		t.Errorf("orders = %d, %d; want 0, 1", first.Order, second.Order)
	}

	rec := s.request(http.MethodPost, path, map[string]any{"id": "client-chosen", "title": "Mix", "statusId": "review"})
	expectStatus(t, rec, http.StatusCreated)
	mix := decodeBody[models.Ticket](t, rec)
	if mix.ID != "client-chosen" || mix.Order != 0 {
		t.Errorf("ticket in empty cell = id %q order %d", mix.ID, mix.Order)
	}
}

func TestUpdateTicketPatch(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	ticket := s.seedTicket(project.ID, "Rough cut")
	path := "/api/projects/" + project.ID + "/tickets/" + ticket.ID

	rec := s.request(http.MethodPatch, path, map[string]any{
		"title":       "Fine cut",
		"assigneeIds": []string{"ann", "", "ann", "bo"},
		"dueDate":     "2024-05-01T00:00:00Z",
	})
	expectStatus(t, rec, http.StatusOK)
	updated := decodeBody[models.Ticket](t, rec)
	if updated.Title != "Fine cut" || !slices.Equal(updated.AssigneeIDs, []string{"ann", "bo"}) || updated.DueDate == nil {
		t.Fatalf("updated = %+v", updated)
	}

	rec = s.request(http.MethodPatch, path, map[string]any{"dueDate": nil})
	expectStatus(t, rec, http.StatusOK)
	if cleared := decodeBody[models.Ticket](t, rec); cleared.DueDate != nil {
		t.Errorf("DueDate = %v, want cleared", cleared.DueDate)
	}

	expectErrorCode(t, s.request(http.MethodPatch, path, map[string]any{"isArchived": true}), http.StatusBadRequest, "UNKNOWN_FIELD")
	expectErrorCode(t, s.request(http.MethodPatch, path, map[string]any{"order": "first"}), http.StatusBadRequest, "INVALID_FIELD")
	expectErrorCode(t, s.request(http.MethodPatch, path, map[string]any{"title": ""}), http.StatusBadRequest, "EMPTY_TITLE")
	expectStatus(t, s.request(http.MethodPatch, "/api/projects/"+project.ID+"/tickets/missing", map[string]any{"title": "x"}), http.StatusNotFound)
}

func TestArchivedTicketsLeaveTheBoard(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	ticket := s.seedTicket(project.ID, "Rough cut")
	s.seedTicket(project.ID, "Grade")

	expectStatus(t, s.request(http.MethodPost, "/api/projects/"+project.ID+"/tickets/"+ticket.ID+"/archive", nil), http.StatusOK)

	active := decodeBody[[]models.Ticket](t, s.request(http.MethodGet, "/api/projects/"+project.ID+"/tickets", nil))
	archived := decodeBody[[]models.Ticket](t, s.request(http.MethodGet, "/api/projects/"+project.ID+"/tickets?archived=true", nil))
	if len(active) != 1 || len(archived) != 1 || archived[0].ID != ticket.ID {
		t.Fatalf("active = %d, archived = %+v", len(active), archived)
	}
}

func TestMoveTicket(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	first := s.seedTicket(project.ID, "Rough cut")
	second := s.seedTicket(project.ID, "Grade")
	path := "/api/projects/" + project.ID + "/board/moves"

	rec := s.request(http.MethodPost, path, map[string]any{
		"ticketId":    first.ID,
		"source":      "production::todo",
		"sourceIndex": 0,
		"dest":        "vfx::review",
		"destIndex":   3,
	})
	expectStatus(t, rec, http.StatusAccepted)
	resp := decodeBody[MoveResponse](t, rec)
	if !resp.Changed || !resp.Optimistic || resp.Moved == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.Moved.SwimlaneID != "vfx" || resp.Moved.StatusID != "review" || resp.Moved.Order != 0 {
		t.Errorf("moved = %s/%s order %d; want vfx/review order 0", resp.Moved.SwimlaneID, resp.Moved.StatusID, resp.Moved.Order)
	}
	if len(resp.Tickets) != 2 {
		t.Errorf("tickets = %d, want 2", len(resp.Tickets))
	}

	s.api.Wait()
	stored, err := s.repo.GetTicket(context.Background(), project.ID, first.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if stored.SwimlaneID != "vfx" || stored.StatusID != "review" || stored.Order != 0 {
		t.Errorf("stored = %s/%s order %d", stored.SwimlaneID, stored.StatusID, stored.Order)
	}
	// Siblings are never rewritten.
	sibling, _ := s.repo.GetTicket(context.Background(), project.ID, second.ID)
	if sibling.Order != 1 {
		t.Errorf("sibling order = %d, want 1", sibling.Order)
	}
}

func TestMoveTicketNoopAndErrors(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	ticket := s.seedTicket(project.ID, "Rough cut")
	path := "/api/projects/" + project.ID + "/board/moves"

	rec := s.request(http.MethodPost, path, map[string]any{
		"ticketId": ticket.ID, "source": "production::todo", "sourceIndex": 0, "dest": "production::todo", "destIndex": 0,
	})
	expectStatus(t, rec, http.StatusOK)
	if resp := decodeBody[MoveResponse](t, rec); resp.Changed || resp.Moved != nil {
		t.Errorf("no-op move = %+v", resp)
	}

	expectErrorCode(t, s.request(http.MethodPost, path, map[string]any{
		"ticketId": "ghost", "source": "production::todo", "dest": "production::done",
	}), http.StatusNotFound, "TICKET_NOT_FOUND")
	expectErrorCode(t, s.request(http.MethodPost, path, map[string]any{"dest": "production::done"}), http.StatusBadRequest, "MISSING_TICKET")
	expectErrorCode(t, s.request(http.MethodPost, path, map[string]any{"ticketId": ticket.ID, "dest": "no-separator"}), http.StatusBadRequest, "INVALID_BODY")
}

func TestComments(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	ticket := s.seedTicket(project.ID, "Rough cut")
	path := "/api/projects/" + project.ID + "/tickets/" + ticket.ID

	expectErrorCode(t, s.request(http.MethodPost, path+"/comments", map[string]any{"content": "  "}), http.StatusBadRequest, "EMPTY_COMMENT")

	rec := s.request(http.MethodPost, path+"/comments", map[string]any{"content": "Trim the intro"})
	expectStatus(t, rec, http.StatusCreated)
	comment := decodeBody[models.Comment](t, rec)
	if comment.UserID != testUser {
		t.Errorf("UserID = %q", comment.UserID)
	}
	expectStatus(t, s.request(http.MethodPost, path+"/comments", map[string]any{"content": "Looks good"}), http.StatusCreated)

	got := decodeBody[models.Ticket](t, s.request(http.MethodGet, path, nil))
	if len(got.Comments) != 2 || got.Comments[0].Content != "Looks good" {
		t.Fatalf("comments = %+v, want newest first", got.Comments)
	}

	expectErrorCode(t, s.request(http.MethodDelete, path+"/comments/nope", nil), http.StatusNotFound, "COMMENT_NOT_FOUND")
	expectStatus(t, s.request(http.MethodDelete, path+"/comments/"+comment.ID, nil), http.StatusOK)
	got = decodeBody[models.Ticket](t, s.request(http.MethodGet, path, nil))
	if len(got.Comments) != 1 {
		t.Errorf("comments = %d after delete, want 1", len(got.Comments))
	}
}

func TestAttachments(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	ticket := s.seedTicket(project.ID, "Rough cut")
	path := "/api/projects/" + project.ID + "/tickets/" + ticket.ID

	rec := s.upload(path+"/attachments", "files", map[string]string{"cut.mov": "frames", "brief.pdf": "%PDF"}, nil)
	expectStatus(t, rec, http.StatusCreated)
	uploaded := decodeBody[[]models.Attachment](t, rec)
	if len(uploaded) != 2 {
		t.Fatalf("uploaded = %d, want 2", len(uploaded))
	}
	for _, a := range uploaded {
		if a.FileID == "" || a.URL != "/api/files/"+a.FileID+"/content" || a.SharedLink == "" || a.UploadedBy != testUser {
			t.Errorf("attachment = %+v", a)
		}
	}

	rec = s.request(http.MethodPost, path+"/attachments", map[string]any{"name": "Review", "url": "https://frame.io/r/1"})
	expectStatus(t, rec, http.StatusCreated)
	link := decodeBody[[]models.Attachment](t, rec)[0]
	if link.Type != models.AttachmentLink {
		t.Errorf("link type = %q", link.Type)
	}
	expectErrorCode(t, s.request(http.MethodPost, path+"/attachments", map[string]any{"url": "ftp://x"}), http.StatusBadRequest, "INVALID_URL")

	stored := decodeBody[models.Ticket](t, s.request(http.MethodGet, path, nil))
	if len(stored.Attachments) != 3 {
		t.Fatalf("stored attachments = %d, want 3", len(stored.Attachments))
	}

	expectStatus(t, s.request(http.MethodDelete, path+"/attachments/"+uploaded[0].ID, nil), http.StatusOK)
	if deleted := s.blob.deletedFiles(); !slices.Equal(deleted, []string{uploaded[0].FileID}) {
		t.Errorf("deleted files = %v", deleted)
	}
	expectErrorCode(t, s.request(http.MethodDelete, path+"/attachments/"+uploaded[0].ID, nil), http.StatusNotFound, "ATTACHMENT_NOT_FOUND")

	// Deleting the ticket removes the remaining stored file.
	expectStatus(t, s.request(http.MethodDelete, path, nil), http.StatusOK)
	if deleted := s.blob.deletedFiles(); len(deleted) != 2 {
		t.Errorf("deleted files = %v, want both uploads", deleted)
	}
	expectStatus(t, s.request(http.MethodGet, path, nil), http.StatusNotFound)
}

func TestAttachmentsBeforeTicketExists(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()

	rec := s.upload("/api/projects/"+project.ID+"/tickets/pending-1/attachments", "file", map[string]string{"still.png": "png"}, nil)
	expectStatus(t, rec, http.StatusCreated)
	attachments := decodeBody[[]models.Attachment](t, rec)
	if len(attachments) != 1 || attachments[0].Type != models.AttachmentImage {
		t.Fatalf("attachments = %+v", attachments)
	}

	rec = s.request(http.MethodPost, "/api/projects/"+project.ID+"/tickets", map[string]any{
		"id": "pending-1", "title": "Poster", "attachments": attachments,
	})
	expectStatus(t, rec, http.StatusCreated)
	if created := decodeBody[models.Ticket](t, rec); len(created.Attachments) != 1 {
		t.Errorf("created attachments = %d, want 1", len(created.Attachments))
	}
}

func TestDeleteTicketRefusedDuringUpload(t *testing.T) {
	s := newTestServer(t)
	_, project := s.seedProject()
	ticket := s.seedTicket(project.ID, "Rough cut")
	path := "/api/projects/" + project.ID + "/tickets/" + ticket.ID

	done := s.deps.Uploads.Begin(project.ID, ticket.ID)
	expectErrorCode(t, s.request(http.MethodDelete, path, nil), http.StatusConflict, "UPLOAD_IN_PROGRESS")
	done()

	expectStatus(t, s.request(http.MethodDelete, path, nil), http.StatusOK)
}

func TestUploadWithoutBlobStorage(t *testing.T) {
	s := newTestServerWithBlob(t, nil)
	_, project := s.seedProject()

	rec := s.upload("/api/projects/"+project.ID+"/tickets/t1/attachments", "files", map[string]string{"a.txt": "a"}, nil)
	expectErrorCode(t, rec, http.StatusBadGateway, "BLOB_NOT_CONFIGURED")
}
