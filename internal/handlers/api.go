package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"

	"studio-board/internal/board"
	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/middleware"
	"studio-board/internal/services"
)

const maxJSONBody = 1 << 20

// Dependencies are the services the handlers work against. Blob is nil when
// blob storage is not configured.
type Dependencies struct {
	Config   *common.Config
	Repo     *services.Repository
	Blob     interfaces.BlobStore
	Uploads  *services.UploadTracker
	Metrics  *services.Metrics
	Resolver *board.ConfigResolver
	Logger   arbor.ILogger
}

// APIHandlers contains all API endpoint handlers
type APIHandlers struct {
	config    *common.Config
	repo      *services.Repository
	blob      interfaces.BlobStore
	uploads   *services.UploadTracker
	metrics   *services.Metrics
	resolver  *board.ConfigResolver
	logger    arbor.ILogger
	startTime time.Time

	// moves tracks board writes started by the HTTP move endpoint.
	moves sync.WaitGroup
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Build     string    `json:"build"`
	Uptime    float64   `json:"uptime_seconds"`
	Services  struct {
		Database bool `json:"database"`
		Blob     bool `json:"blob"`
	} `json:"services"`
}

// VersionResponse represents server version information
type VersionResponse struct {
	Version string `json:"version"`
	Build   string `json:"build"`
	Commit  string `json:"commit"`
}

// ConfigResponse is the configuration with every secret left out.
type ConfigResponse struct {
	Server  common.ServerConfig  `json:"server"`
	Storage common.StorageConfig `json:"storage"`
	Blob    struct {
		Configured bool   `json:"configured"`
		Endpoint   string `json:"endpoint,omitempty"`
		Bucket     string `json:"bucket,omitempty"`
		Auth       string `json:"auth,omitempty"`
		RootFolder string `json:"root_folder,omitempty"`
	} `json:"blob"`
	Auth struct {
		Enabled        bool     `json:"enabled"`
		AllowedDomains []string `json:"allowed_domains"`
	} `json:"auth"`
	Board   common.BoardConfig   `json:"board"`
	Logging common.LoggingConfig `json:"logging"`
}

// SuccessResponse acknowledges operations that return no entity.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// NewAPIHandlers creates a new API handlers instance
func NewAPIHandlers(deps Dependencies) *APIHandlers {
	return &APIHandlers{
		config:    deps.Config,
		repo:      deps.Repo,
		blob:      deps.Blob,
		uploads:   deps.Uploads,
		metrics:   deps.Metrics,
		resolver:  deps.Resolver,
		logger:    deps.Logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes mounts the REST API on r. Paths are relative to r.
func (h *APIHandlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/clients", h.ListClients).Methods(http.MethodGet)
	r.HandleFunc("/clients", h.CreateClient).Methods(http.MethodPost)
	r.HandleFunc("/clients/{clientId}", h.GetClient).Methods(http.MethodGet)
	r.HandleFunc("/clients/{clientId}", h.UpdateClient).Methods(http.MethodPatch)
	r.HandleFunc("/clients/{clientId}", h.DeleteClient).Methods(http.MethodDelete)
	r.HandleFunc("/clients/{clientId}/archive", h.ArchiveClient(true)).Methods(http.MethodPost)
	r.HandleFunc("/clients/{clientId}/unarchive", h.ArchiveClient(false)).Methods(http.MethodPost)
	r.HandleFunc("/clients/{clientId}/logo", h.UploadClientLogo).Methods(http.MethodPost)
	r.HandleFunc("/clients/{clientId}/groups", h.ListGroups).Methods(http.MethodGet)
	r.HandleFunc("/clients/{clientId}/groups", h.CreateGroup).Methods(http.MethodPost)
	r.HandleFunc("/clients/{clientId}/projects", h.ListProjects).Methods(http.MethodGet)

	r.HandleFunc("/groups/{groupId}", h.UpdateGroup).Methods(http.MethodPatch)
	r.HandleFunc("/groups/{groupId}", h.DeleteGroup).Methods(http.MethodDelete)

	r.HandleFunc("/projects", h.CreateProject).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}", h.GetProject).Methods(http.MethodGet)
	r.HandleFunc("/projects/{projectId}", h.UpdateProject).Methods(http.MethodPatch)
	r.HandleFunc("/projects/{projectId}", h.DeleteProject).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{projectId}/archive", h.ArchiveProject(true)).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/unarchive", h.ArchiveProject(false)).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/statuses", h.PutStatuses).Methods(http.MethodPut)
	r.HandleFunc("/projects/{projectId}/swimlanes", h.PutSwimlanes).Methods(http.MethodPut)
	r.HandleFunc("/projects/{projectId}/logo", h.UploadProjectLogo).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/board", h.GetBoard).Methods(http.MethodGet)
	r.HandleFunc("/projects/{projectId}/board/moves", h.MoveTicket).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/export", h.ExportProject).Methods(http.MethodGet)

	r.HandleFunc("/projects/{projectId}/tickets", h.ListTickets).Methods(http.MethodGet)
	r.HandleFunc("/projects/{projectId}/tickets", h.CreateTicket).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}", h.GetTicket).Methods(http.MethodGet)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}", h.UpdateTicket).Methods(http.MethodPatch)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}", h.DeleteTicket).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}/archive", h.ArchiveTicket(true)).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}/unarchive", h.ArchiveTicket(false)).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}/attachments", h.AddAttachments).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}/attachments/{attachmentId}", h.DeleteAttachment).Methods(http.MethodDelete)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}/comments", h.AddComment).Methods(http.MethodPost)
	r.HandleFunc("/projects/{projectId}/tickets/{ticketId}/comments/{commentId}", h.DeleteComment).Methods(http.MethodDelete)

	r.HandleFunc("/files/folders", h.ResolveFolder).Methods(http.MethodPost)
	r.HandleFunc("/files/upload", h.UploadFile).Methods(http.MethodPost)
	r.HandleFunc("/files/{fileId}/finalize", h.FinalizeFile).Methods(http.MethodPost)
	r.HandleFunc("/files/{fileId}/content", h.FileContent).Methods(http.MethodGet)
	r.HandleFunc("/files/{fileId}/thumbnail", h.FileThumbnail).Methods(http.MethodGet)
}

// Wait blocks until every board write started over HTTP has finished.
func (h *APIHandlers) Wait() {
	h.moves.Wait()
}

// HealthHandler returns system health status
func (h *APIHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   common.GetVersion(),
		Build:     common.GetBuild(),
		Uptime:    time.Since(h.startTime).Seconds(),
	}

	_, err := h.repo.Store().Query(ctx, services.ClientsQuery(false))
	health.Services.Database = err == nil
	if err != nil {
		h.logger.Warn().Err(err).Msg("Health check: database unavailable")
	}

	if h.blob != nil {
		if err := h.blob.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Health check: blob storage unavailable")
		} else {
			health.Services.Blob = true
		}
	}

	if !health.Services.Database || (h.blob != nil && !health.Services.Blob) {
		health.Status = "degraded"
	}

	h.writeJSON(w, http.StatusOK, health)
}

// VersionHandler returns version information
func (h *APIHandlers) VersionHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, VersionResponse{
		Version: common.GetVersion(),
		Build:   common.GetBuild(),
		Commit:  common.GetGitCommit(),
	})
}

// ConfigHandler returns the current configuration without secrets
func (h *APIHandlers) ConfigHandler(w http.ResponseWriter, r *http.Request) {
	resp := ConfigResponse{
		Server:  h.config.Server,
		Storage: h.config.Storage,
		Board:   h.config.Board,
		Logging: h.config.Logging,
	}
	if h.config.BlobConfigured() {
		resp.Blob.Configured = true
		resp.Blob.Endpoint = h.config.Blob.Endpoint
		resp.Blob.Bucket = h.config.Blob.Bucket
		resp.Blob.Auth = h.config.Blob.Auth
		resp.Blob.RootFolder = h.config.Blob.RootFolder
	}
	resp.Auth.Enabled = h.config.Auth.Enabled
	resp.Auth.AllowedDomains = h.config.Auth.AllowedDomains

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError renders err as the JSON error body. Server-side failures are
// logged here; client errors are not.
func (h *APIHandlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := common.NewErrorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	}
	h.writeJSON(w, status, body)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(v); err != nil {
		return common.WrapError(err, common.ErrorTypeValidation, "INVALID_BODY", "request body is not valid JSON")
	}
	return nil
}

// queryBool reads a boolean query parameter; anything unparsable is false.
func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func currentUser(r *http.Request) string {
	return middleware.UserID(r.Context())
}

func (h *APIHandlers) requireBlob() error {
	if h.blob == nil {
		return common.NewBlobError("BLOB_NOT_CONFIGURED", "file storage is not configured")
	}
	return nil
}
