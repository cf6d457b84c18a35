package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/models"
)

// serverFields are assigned by the store and never written by callers.
var serverFields = []string{"id", "projectId", "createdAt", "updatedAt"}

// Repository maps models onto the document store.
type Repository struct {
	store  interfaces.DocumentStore
	logger arbor.ILogger
}

func NewRepository(store interfaces.DocumentStore, logger arbor.ILogger) *Repository {
	return &Repository{store: store, logger: logger}
}

func (r *Repository) Store() interfaces.DocumentStore {
	return r.store
}

// Decode converts a stored document into a model.
func Decode[T any](doc interfaces.Document) (T, error) {
	var out T
	encoded, err := json.Marshal(doc.Data)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		return out, common.WrapError(err, common.ErrorTypeStorage, "DECODE_FAILED", "failed to decode document").
			WithContext("id", doc.ID)
	}
	return out, nil
}

// DecodeAll converts documents, skipping any that do not decode.
func DecodeAll[T any](docs []interfaces.Document, logger arbor.ILogger) []T {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := Decode[T](doc)
		if err != nil {
			logger.Warn().Err(err).Str("id", doc.ID).Msg("Skipping document")
			continue
		}
		out = append(out, v)
	}
	return out
}

// ToFields converts a model into a writable field set.
func ToFields(v any) (map[string]any, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, err
	}
	for _, f := range serverFields {
		delete(fields, f)
	}
	return fields, nil
}

// DecodeTickets converts ticket documents and fills ProjectID from the key.
func DecodeTickets(docs []interfaces.Document, logger arbor.ILogger) []models.Ticket {
	tickets := make([]models.Ticket, 0, len(docs))
	for _, doc := range docs {
		t, err := Decode[models.Ticket](doc)
		if err != nil {
			logger.Warn().Err(err).Str("id", doc.ID).Msg("Skipping ticket")
			continue
		}
		t.ProjectID = doc.Parent
		tickets = append(tickets, t)
	}
	return tickets
}

// Clients

func ClientsQuery(archived bool) interfaces.Query {
	return interfaces.Query{
		Collection: interfaces.CollectionClients,
		Where:      []interfaces.Condition{archivedCondition(archived)},
		OrderBy:    "name",
	}
}

func (r *Repository) ListClients(ctx context.Context, archived bool) ([]models.Client, error) {
	docs, err := r.store.Query(ctx, ClientsQuery(archived))
	if err != nil {
		return nil, err
	}
	return DecodeAll[models.Client](docs, r.logger), nil
}

func (r *Repository) GetClient(ctx context.Context, id string) (*models.Client, error) {
	doc, err := r.store.Get(ctx, clientRef(id))
	if err != nil {
		return nil, err
	}
	c, err := Decode[models.Client](*doc)
	return &c, err
}

func (r *Repository) CreateClient(ctx context.Context, c models.Client) (*models.Client, error) {
	fields, err := ToFields(c)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Create(ctx, clientRef(c.ID), fields)
	if err != nil {
		return nil, err
	}
	created, err := Decode[models.Client](*doc)
	return &created, err
}

func (r *Repository) UpdateClient(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Update(ctx, clientRef(id), fields)
}

// DeleteClient removes the client document only. Its projects and groups
// stay behind; the returned count says how many projects were orphaned.
func (r *Repository) DeleteClient(ctx context.Context, id string) (int, error) {
	if err := r.store.Delete(ctx, clientRef(id)); err != nil {
		return 0, err
	}
	orphans, err := r.store.Query(ctx, interfaces.Query{
		Collection: interfaces.CollectionProjects,
		Where:      []interfaces.Condition{{Field: "clientId", Op: interfaces.OpEqual, Value: id}},
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("client", id).Msg("Could not count projects of deleted client")
		return 0, nil
	}
	if len(orphans) > 0 {
		r.logger.Warn().Str("client", id).Int("projects", len(orphans)).Msg("Deleted client still owns projects")
	}
	return len(orphans), nil
}

// Project groups

func (r *Repository) ListGroups(ctx context.Context, clientID string) ([]models.ProjectGroup, error) {
	docs, err := r.store.Query(ctx, interfaces.Query{
		Collection: interfaces.CollectionProjectGroups,
		Where:      []interfaces.Condition{{Field: "clientId", Op: interfaces.OpEqual, Value: clientID}},
		OrderBy:    "order",
	})
	if err != nil {
		return nil, err
	}
	return DecodeAll[models.ProjectGroup](docs, r.logger), nil
}

func (r *Repository) GetGroup(ctx context.Context, id string) (*models.ProjectGroup, error) {
	doc, err := r.store.Get(ctx, groupRef(id))
	if err != nil {
		return nil, err
	}
	g, err := Decode[models.ProjectGroup](*doc)
	return &g, err
}

func (r *Repository) CreateGroup(ctx context.Context, g models.ProjectGroup) (*models.ProjectGroup, error) {
	fields, err := ToFields(g)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Create(ctx, groupRef(g.ID), fields)
	if err != nil {
		return nil, err
	}
	created, err := Decode[models.ProjectGroup](*doc)
	return &created, err
}

func (r *Repository) UpdateGroup(ctx context.Context, id string, fields map[string]any) error {
	return r.store.Update(ctx, groupRef(id), fields)
}

// DeleteGroup removes the group and clears groupId on its projects.
func (r *Repository) DeleteGroup(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, groupRef(id)); err != nil {
		return err
	}
	members, err := r.store.Query(ctx, interfaces.Query{
		Collection: interfaces.CollectionProjects,
		Where:      []interfaces.Condition{{Field: "groupId", Op: interfaces.OpEqual, Value: id}},
	})
	if err != nil {
		return err
	}
	for _, doc := range members {
		if err := r.store.Update(ctx, projectRef(doc.ID), map[string]any{"groupId": nil}); err != nil {
			return err
		}
	}
	return nil
}

// Projects

func ProjectsQuery(clientID string, archived bool) interfaces.Query {
	q := interfaces.Query{
		Collection: interfaces.CollectionProjects,
		Where:      []interfaces.Condition{archivedCondition(archived)},
		OrderBy:    "name",
	}
	if clientID != "" {
		q.Where = append(q.Where, interfaces.Condition{Field: "clientId", Op: interfaces.OpEqual, Value: clientID})
	}
	return q
}

func (r *Repository) ListProjects(ctx context.Context, clientID string, archived bool) ([]models.Project, error) {
	docs, err := r.store.Query(ctx, ProjectsQuery(clientID, archived))
	if err != nil {
		return nil, err
	}
	return DecodeAll[models.Project](docs, r.logger), nil
}

func (r *Repository) GetProject(ctx context.Context, id string) (*models.Project, error) {
	doc, err := r.store.Get(ctx, projectRef(id))
	if err != nil {
		return nil, err
	}
	p, err := Decode[models.Project](*doc)
	return &p, err
}

func (r *Repository) CreateProject(ctx context.Context, p models.Project) (*models.Project, error) {
	if _, err := r.GetClient(ctx, p.ClientID); err != nil {
		return nil, err
	}
	fields, err := ToFields(p)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Create(ctx, projectRef(p.ID), fields)
	if err != nil {
		return nil, err
	}
	created, err := Decode[models.Project](*doc)
	return &created, err
}

// UpdateProject writes a partial field set onto a project.
func (r *Repository) UpdateProject(ctx context.Context, projectID string, fields map[string]any) error {
	return r.store.Update(ctx, projectRef(projectID), fields)
}

// DeleteProject removes the project and every ticket under it.
func (r *Repository) DeleteProject(ctx context.Context, id string) error {
	return r.store.Delete(ctx, projectRef(id))
}

// Tickets

// TicketsQuery selects a project's tickets in board order. Tickets without
// an isArchived field count as active.
func TicketsQuery(projectID string, archived bool) interfaces.Query {
	return interfaces.Query{
		Collection: interfaces.CollectionTickets,
		Parent:     projectID,
		Where:      []interfaces.Condition{archivedCondition(archived)},
		OrderBy:    "order",
	}
}

func (r *Repository) ListTickets(ctx context.Context, projectID string, archived bool) ([]models.Ticket, error) {
	docs, err := r.store.Query(ctx, TicketsQuery(projectID, archived))
	if err != nil {
		return nil, err
	}
	return DecodeTickets(docs, r.logger), nil
}

func (r *Repository) GetTicket(ctx context.Context, projectID, ticketID string) (*models.Ticket, error) {
	doc, err := r.store.Get(ctx, ticketRef(projectID, ticketID))
	if err != nil {
		return nil, err
	}
	t, err := Decode[models.Ticket](*doc)
	t.ProjectID = projectID
	return &t, err
}

// CreateTicket stores t under its project. A caller-supplied id is kept so
// files can be attached before the write completes.
func (r *Repository) CreateTicket(ctx context.Context, projectID string, t models.Ticket) (*models.Ticket, error) {
	t.AssigneeIDs = models.NormalizeAssignees(t.AssigneeIDs)
	fields, err := ToFields(t)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Create(ctx, ticketRef(projectID, t.ID), fields)
	if err != nil {
		return nil, err
	}
	created, err := Decode[models.Ticket](*doc)
	created.ProjectID = projectID
	return &created, err
}

// UpdateTicket writes a partial field set onto one ticket.
func (r *Repository) UpdateTicket(ctx context.Context, projectID, ticketID string, fields map[string]any) error {
	return r.store.Update(ctx, ticketRef(projectID, ticketID), fields)
}

func (r *Repository) DeleteTicket(ctx context.Context, projectID, ticketID string) error {
	return r.store.Delete(ctx, ticketRef(projectID, ticketID))
}

func archivedCondition(archived bool) interfaces.Condition {
	if archived {
		return interfaces.Condition{Field: "isArchived", Op: interfaces.OpEqual, Value: true}
	}
	return interfaces.Condition{Field: "isArchived", Op: interfaces.OpNotEqual, Value: true}
}

func clientRef(id string) interfaces.DocumentRef {
	return interfaces.DocumentRef{Collection: interfaces.CollectionClients, ID: id}
}

func groupRef(id string) interfaces.DocumentRef {
	return interfaces.DocumentRef{Collection: interfaces.CollectionProjectGroups, ID: id}
}

func projectRef(id string) interfaces.DocumentRef {
	return interfaces.DocumentRef{Collection: interfaces.CollectionProjects, ID: id}
}

func ticketRef(projectID, ticketID string) interfaces.DocumentRef {
	return interfaces.DocumentRef{Collection: interfaces.CollectionTickets, Parent: projectID, ID: ticketID}
}

// ProjectRef returns the document reference of a project.
func ProjectRef(id string) interfaces.DocumentRef {
	return projectRef(id)
}

// RequireID rejects blank path identifiers.
func RequireID(kind, id string) error {
	if id == "" {
		return common.NewValidationError("MISSING_ID", fmt.Sprintf("%s id is required", kind))
	}
	return nil
}
