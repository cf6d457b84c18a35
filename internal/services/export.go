package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"io/fs"
	"time"

	"github.com/mholt/archives"

	"studio-board/internal/models"
)

// ExportProject writes a zip holding project.json and tickets.json,
// including archived tickets.
func (r *Repository) ExportProject(ctx context.Context, projectID string, w io.Writer) error {
	project, err := r.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	active, err := r.ListTickets(ctx, projectID, false)
	if err != nil {
		return err
	}
	archived, err := r.ListTickets(ctx, projectID, true)
	if err != nil {
		return err
	}
	return WriteProjectArchive(ctx, w, project, append(active, archived...), time.Now())
}

// WriteProjectArchive zips the project and its tickets as indented JSON.
func WriteProjectArchive(ctx context.Context, w io.Writer, project *models.Project, tickets []models.Ticket, modTime time.Time) error {
	if tickets == nil {
		tickets = []models.Ticket{}
	}

	entries := []struct {
		name  string
		value any
	}{
		{"project.json", project},
		{"tickets.json", tickets},
	}

	files := make([]archives.FileInfo, 0, len(entries))
	for _, entry := range entries {
		data, err := json.MarshalIndent(entry.value, "", "  ")
		if err != nil {
			return err
		}
		info := memFileInfo{name: entry.name, size: int64(len(data)), modTime: modTime}
		files = append(files, archives.FileInfo{
			FileInfo:      info,
			NameInArchive: entry.name,
			Open: func() (fs.File, error) {
				return &memFile{info: info, Reader: bytes.NewReader(data)}, nil
			},
		})
	}

	return archives.Zip{}.Archive(ctx, w, files)
}

type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) Mode() fs.FileMode  { return 0644 }
func (fi memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi memFileInfo) IsDir() bool        { return false }
func (fi memFileInfo) Sys() any           { return nil }

type memFile struct {
	info memFileInfo
	*bytes.Reader
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }
