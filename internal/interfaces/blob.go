package interfaces

import (
	"context"
	"io"
)

// FolderHints names the entities a file belongs to. Empty hints are skipped
// when the folder path is built.
type FolderHints struct {
	Client  string `json:"client,omitempty"`
	Project string `json:"project,omitempty"`
	Ticket  string `json:"ticket,omitempty"`
}

// ByteRange is an inclusive range; End < 0 means through the last byte.
type ByteRange struct {
	Start int64
	End   int64
}

type UploadedFile struct {
	FileID      string `json:"fileId"`
	FolderID    string `json:"folderId"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// BlobContent is an open file stream. Range is set for partial reads.
type BlobContent struct {
	Body        io.ReadCloser
	Name        string
	ContentType string
	Size        int64
	Range       *ContentRange
}

type ContentRange struct {
	Start int64
	End   int64
	Total int64
}

// Thumbnail is either a PNG stream or, when none became available, a URL
// the client should be redirected to.
type Thumbnail struct {
	Body        io.ReadCloser
	RedirectURL string
}

type BlobStore interface {
	ResolveFolder(ctx context.Context, hints FolderHints) (folderID string, err error)
	Upload(ctx context.Context, folderID, name, contentType string, r io.Reader, size int64) (*UploadedFile, error)
	Finalize(ctx context.Context, fileID string) (sharedLink string, err error)
	Open(ctx context.Context, fileID string, rng *ByteRange) (*BlobContent, error)
	Thumbnail(ctx context.Context, fileID string) (*Thumbnail, error)
	Delete(ctx context.Context, fileID string) error
	Ping(ctx context.Context) error
}
