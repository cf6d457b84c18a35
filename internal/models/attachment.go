package models

import (
	"path"
	"strings"
	"time"
)

type AttachmentType string

const (
	AttachmentLink     AttachmentType = "link"
	AttachmentImage    AttachmentType = "image"
	AttachmentVideo    AttachmentType = "video"
	AttachmentAudio    AttachmentType = "audio"
	AttachmentDocument AttachmentType = "document"
	AttachmentOther    AttachmentType = "other"
)

// Attachment references either an external URL or a file in blob storage.
type Attachment struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       AttachmentType `json:"type"`
	URL        string         `json:"url,omitempty"`
	FileID     string         `json:"fileId,omitempty"`
	SharedLink string         `json:"sharedLink,omitempty"`
	MimeType   string         `json:"mimeType,omitempty"`
	Size       int64          `json:"size,omitempty"`
	UploadedAt time.Time      `json:"uploadedAt"`
	UploadedBy string         `json:"uploadedBy"`
}

var documentMimeTypes = map[string]bool{
	"application/pdf":               true,
	"application/msword":            true,
	"application/rtf":               true,
	"application/vnd.ms-excel":      true,
	"application/vnd.ms-powerpoint": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/vnd.oasis.opendocument.spreadsheet":                            true,
	"application/vnd.oasis.opendocument.presentation":                           true,
}

var extensionTypes = map[string]AttachmentType{
	"png": AttachmentImage, "jpg": AttachmentImage, "jpeg": AttachmentImage,
	"gif": AttachmentImage, "webp": AttachmentImage, "svg": AttachmentImage,
	"bmp": AttachmentImage, "tif": AttachmentImage, "tiff": AttachmentImage,
	"heic": AttachmentImage,

	"mp4": AttachmentVideo, "mov": AttachmentVideo, "avi": AttachmentVideo,
	"mkv": AttachmentVideo, "webm": AttachmentVideo, "m4v": AttachmentVideo,

	"mp3": AttachmentAudio, "wav": AttachmentAudio, "aac": AttachmentAudio,
	"flac": AttachmentAudio, "ogg": AttachmentAudio, "m4a": AttachmentAudio,
	"aif": AttachmentAudio, "aiff": AttachmentAudio,

	"pdf": AttachmentDocument, "doc": AttachmentDocument, "docx": AttachmentDocument,
	"xls": AttachmentDocument, "xlsx": AttachmentDocument, "ppt": AttachmentDocument,
	"pptx": AttachmentDocument, "odt": AttachmentDocument, "ods": AttachmentDocument,
	"odp": AttachmentDocument, "rtf": AttachmentDocument,
}

// InferAttachmentType classifies an uploaded file. The MIME type wins when it
// is recognised; otherwise the filename extension decides. Both checks are
// case-insensitive.
func InferAttachmentType(filename, mimeType string) AttachmentType {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return AttachmentVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return AttachmentAudio
	case documentMimeTypes[mimeType]:
		return AttachmentDocument
	}

	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	return AttachmentOther
}

// NewLinkAttachment builds an attachment pointing at an external URL.
func NewLinkAttachment(id, name, url, uploadedBy string, at time.Time) Attachment {
	if name == "" {
		name = url
	}
	return Attachment{
		ID:         id,
		Name:       name,
		Type:       AttachmentLink,
		URL:        url,
		UploadedAt: at,
		UploadedBy: uploadedBy,
	}
}
