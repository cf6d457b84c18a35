package services

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"studio-board/internal/models"
)

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader: %v", err)
	}
	files := make(map[string][]byte)
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		files[f.Name] = body
	}
	return files
}

func TestWriteProjectArchive(t *testing.T) {
	project := &models.Project{ID: "p1", ClientID: "c1", Name: "Launch Spot"}
	tickets := []models.Ticket{
		{ID: "t1", Title: "Edit", StatusID: "todo", Order: 0},
		{ID: "t2", Title: "Grade", StatusID: "done", Order: 1, IsArchived: true},
	}

	var buf bytes.Buffer
	if err := WriteProjectArchive(context.Background(), &buf, project, tickets, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)); err != nil {
		t.Fatalf("WriteProjectArchive: %v", err)
	}

	files := readZip(t, buf.Bytes())
	if len(files) != 2 {
		t.Fatalf("archive entries = %d, want 2", len(files))
	}

	var gotProject models.Project
	if err := json.Unmarshal(files["project.json"], &gotProject); err != nil {
		t.Fatalf("project.json: %v", err)
	}
	if gotProject.Name != "Launch Spot" {
		t.Errorf("project name = %q, want Launch Spot", gotProject.Name)
	}

	var gotTickets []models.Ticket
	if err := json.Unmarshal(files["tickets.json"], &gotTickets); err != nil {
		t.Fatalf("tickets.json: %v", err)
	}
	if len(gotTickets) != 2 || gotTickets[1].ID != "t2" || !gotTickets[1].IsArchived {
		t.Errorf("tickets = %+v", gotTickets)
	}
}

func TestExportProjectIncludesArchived(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store, store.logger)
	ctx := context.Background()

	client, err := repo.CreateClient(ctx, models.Client{Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	project, err := repo.CreateProject(ctx, models.Project{ClientID: client.ID, Name: "Spot"})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	for _, ticket := range []models.Ticket{
		{Title: "Active"},
		{Title: "Old", IsArchived: true},
	} {
		if _, err := repo.CreateTicket(ctx, project.ID, ticket); err != nil {
			t.Fatalf("CreateTicket: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := repo.ExportProject(ctx, project.ID, &buf); err != nil {
		t.Fatalf("ExportProject: %v", err)
	}

	var tickets []models.Ticket
	if err := json.Unmarshal(readZip(t, buf.Bytes())["tickets.json"], &tickets); err != nil {
		t.Fatalf("tickets.json: %v", err)
	}
	if len(tickets) != 2 {
		t.Errorf("exported tickets = %d, want 2", len(tickets))
	}
}
