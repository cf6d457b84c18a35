package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/services"
)

// ResolveFolder returns the folder id for the naming hints, creating the
// folder when needed.
func (h *APIHandlers) ResolveFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.requireBlob(); err != nil {
		h.writeError(w, r, err)
		return
	}
	var hints interfaces.FolderHints
	if err := decodeJSON(r, &hints); err != nil {
		h.writeError(w, r, err)
		return
	}
	if hints.Client == "" && hints.Project == "" && hints.Ticket == "" {
		h.writeError(w, r, common.NewValidationError("MISSING_HINTS", "at least one of client, project or ticket is required"))
		return
	}

	folderID, err := h.blob.ResolveFolder(r.Context(), hints)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"folderId": folderID})
}

// UploadFile stores the multipart "file" field in the folder named by the
// "folderId" field.
func (h *APIHandlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	if err := h.requireBlob(); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := r.ParseMultipartForm(h.maxUploadBytes()); err != nil {
		h.writeError(w, r, common.WrapError(err, common.ErrorTypeValidation, "INVALID_UPLOAD", "expected a multipart form"))
		return
	}
	folderID := r.FormValue("folderId")
	if folderID == "" {
		h.writeError(w, r, common.NewValidationError("MISSING_FOLDER", "folderId is required"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, common.NewValidationError("MISSING_FILE", "form field \"file\" is required"))
		return
	}
	defer file.Close()

	uploaded, err := h.blob.Upload(r.Context(), folderID, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, uploaded)
}

func (h *APIHandlers) FinalizeFile(w http.ResponseWriter, r *http.Request) {
	if err := h.requireBlob(); err != nil {
		h.writeError(w, r, err)
		return
	}
	link, err := h.blob.Finalize(r.Context(), mux.Vars(r)["fileId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"sharedLink": link})
}

// FileContent proxies a stored file. A single-range Range header yields a
// 206 partial response.
func (h *APIHandlers) FileContent(w http.ResponseWriter, r *http.Request) {
	if err := h.requireBlob(); err != nil {
		h.writeError(w, r, err)
		return
	}
	rng, err := services.ParseRange(r.Header.Get("Range"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	content, err := h.blob.Open(r.Context(), mux.Vars(r)["fileId"], rng)
	if err != nil {
		if appErr, ok := common.AsAppError(err); ok && appErr.Code == "RANGE_NOT_SATISFIABLE" {
			if size, ok := appErr.Context["size"].(int64); ok {
				w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			}
			_, body := common.NewErrorResponse(err)
			h.writeJSON(w, http.StatusRequestedRangeNotSatisfiable, body)
			return
		}
		h.writeError(w, r, err)
		return
	}
	defer content.Body.Close()

	header := w.Header()
	contentType := content.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", fmt.Sprintf("%d", content.Size))
	header.Set("Accept-Ranges", "bytes")
	header.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": content.Name}))

	status := http.StatusOK
	if content.Range != nil {
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", content.Range.Start, content.Range.End, content.Range.Total))
		status = http.StatusPartialContent
	}
	w.WriteHeader(status)

	if _, err := io.Copy(w, content.Body); err != nil {
		h.logger.Debug().Err(err).Str("file", content.Name).Msg("File stream interrupted")
	}
}

// FileThumbnail serves the PNG preview, or redirects to the file itself
// when no preview became available.
func (h *APIHandlers) FileThumbnail(w http.ResponseWriter, r *http.Request) {
	if err := h.requireBlob(); err != nil {
		h.writeError(w, r, err)
		return
	}
	thumb, err := h.blob.Thumbnail(r.Context(), mux.Vars(r)["fileId"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if thumb.Body == nil {
		http.Redirect(w, r, thumb.RedirectURL, http.StatusFound)
		return
	}
	defer thumb.Body.Close()

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, thumb.Body); err != nil {
		h.logger.Debug().Err(err).Msg("Thumbnail stream interrupted")
	}
}
