package interfaces

import "context"

const (
	CollectionClients       = "clients"
	CollectionProjectGroups = "projectGroups"
	CollectionProjects      = "projects"
	CollectionTickets       = "tickets"
)

type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
)

// Condition filters documents on one top-level field. A missing field
// compares as null.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value any      `json:"value"`
}

// Query selects documents of one collection. Parent scopes nested
// collections (tickets live under their project).
type Query struct {
	Collection string      `json:"collection"`
	Parent     string      `json:"parent,omitempty"`
	Where      []Condition `json:"where,omitempty"`
	OrderBy    string      `json:"orderBy,omitempty"`
	Descending bool        `json:"descending,omitempty"`
}

type DocumentRef struct {
	Collection string `json:"collection"`
	Parent     string `json:"parent,omitempty"`
	ID         string `json:"id"`
}

// Document is a stored record. Data always carries "id", and the
// server-assigned "createdAt" and "updatedAt".
type Document struct {
	ID     string         `json:"id"`
	Parent string         `json:"parent,omitempty"`
	Data   map[string]any `json:"data"`
}

// SnapshotFunc receives the complete matching result set, never a delta.
type SnapshotFunc func(docs []Document)

// DocumentFunc receives the current document, or nil once it is deleted.
type DocumentFunc func(doc *Document)

type ErrorFunc func(err error)

// DocumentStore is a schemaless store with live subscriptions.
type DocumentStore interface {
	// Subscribe delivers the initial result set and then the full set again
	// after every write to the collection, until unsubscribe is called.
	Subscribe(q Query, onSnapshot SnapshotFunc, onError ErrorFunc) (unsubscribe func())
	SubscribeDocument(ref DocumentRef, onSnapshot DocumentFunc, onError ErrorFunc) (unsubscribe func())

	Query(ctx context.Context, q Query) ([]Document, error)
	Get(ctx context.Context, ref DocumentRef) (*Document, error)
	// Create assigns an id when ref.ID is empty.
	Create(ctx context.Context, ref DocumentRef, fields map[string]any) (*Document, error)
	// Update merges fields into the document and stamps updatedAt.
	Update(ctx context.Context, ref DocumentRef, fields map[string]any) error
	Delete(ctx context.Context, ref DocumentRef) error
	Close() error
}
