package board

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"

	"studio-board/internal/models"
)

// ProjectUpdater writes a partial field set onto one project.
type ProjectUpdater interface {
	UpdateProject(ctx context.Context, projectID string, fields map[string]any) error
}

// Layout is the effective column and row configuration of a board.
type Layout struct {
	Statuses  []models.ProjectStatus `json:"statuses"`
	Swimlanes []models.Swimlane      `json:"swimlanes"`
	// Defaulted is true when either list came from the built-in set.
	Defaulted bool `json:"defaulted"`
}

// ConfigResolver resolves board layouts and writes the default layout back
// onto projects that have none, once per empty state.
type ConfigResolver struct {
	updater ProjectUpdater
	logger  arbor.ILogger

	mu      sync.Mutex
	claimed map[string]bool
}

func NewConfigResolver(updater ProjectUpdater, logger arbor.ILogger) *ConfigResolver {
	return &ConfigResolver{
		updater: updater,
		logger:  logger,
		claimed: make(map[string]bool),
	}
}

// Resolve returns the project's layout. Configured lists are sorted by
// order; empty lists are replaced by the defaults, which are persisted on
// the first call that sees them empty. A failed write is returned alongside
// the layout and releases the guard so a later call retries.
func (r *ConfigResolver) Resolve(ctx context.Context, project models.Project) (Layout, error) {
	layout := Layout{
		Statuses:  models.SortedStatuses(project.Statuses),
		Swimlanes: models.SortedSwimlanes(project.Swimlanes),
	}

	fields := make(map[string]any)
	if len(layout.Statuses) == 0 {
		layout.Statuses = DefaultStatuses(project.ID)
		fields["statuses"] = layout.Statuses
	}
	if len(layout.Swimlanes) == 0 {
		layout.Swimlanes = DefaultSwimlanes(project.ID)
		fields["swimlanes"] = layout.Swimlanes
	}

	if len(fields) == 0 {
		r.release(project.ID)
		return layout, nil
	}
	layout.Defaulted = true

	if !r.claim(project.ID) {
		return layout, nil
	}

	if err := r.updater.UpdateProject(ctx, project.ID, fields); err != nil {
		r.release(project.ID)
		r.logger.Warn().Err(err).Str("project", project.ID).Msg("Failed to persist default board layout")
		return layout, err
	}

	r.logger.Info().Str("project", project.ID).
		Int("statuses", len(layout.Statuses)).
		Int("swimlanes", len(layout.Swimlanes)).
		Msg("Persisted default board layout")
	return layout, nil
}

func (r *ConfigResolver) claim(projectID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[projectID] {
		return false
	}
	r.claimed[projectID] = true
	return true
}

func (r *ConfigResolver) release(projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, projectID)
}

// DefaultStatuses is the column set used for projects without one.
func DefaultStatuses(projectID string) []models.ProjectStatus {
	defaults := []struct{ id, title, color string }{
		{DefaultStatusID, "To Do", "#64748b"},
		{"in-progress", "In Progress", "#3b82f6"},
		{"review", "Internal Review", "#8b5cf6"},
		{"feedback", "Client Feedback", "#f59e0b"},
		{"approved", "Approved", "#10b981"},
		{"done", "Done", "#22c55e"},
	}
	out := make([]models.ProjectStatus, len(defaults))
	for i, d := range defaults {
		out[i] = models.ProjectStatus{ID: d.id, ProjectID: projectID, Title: d.title, Order: i, Color: d.color}
	}
	return out
}

// DefaultSwimlanes is the row set used for projects without one.
func DefaultSwimlanes(projectID string) []models.Swimlane {
	defaults := []struct{ id, title, color string }{
		{DefaultSwimlaneID, "Production", "#0ea5e9"},
		{"sfx", "SFX", "#f97316"},
		{"vfx", "VFX", "#a855f7"},
		{"music", "Music", "#ec4899"},
	}
	out := make([]models.Swimlane, len(defaults))
	for i, d := range defaults {
		out[i] = models.Swimlane{ID: d.id, ProjectID: projectID, Title: d.title, Order: i, Color: d.color}
	}
	return out
}
