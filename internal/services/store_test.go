package services

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"studio-board/internal/common"
	"studio-board/internal/interfaces"
	"studio-board/internal/models"
)

func newTestStore(t *testing.T) *documentStore {
	t.Helper()
	store, err := NewDocumentStore(&common.StorageConfig{
		DatabasePath: filepath.Join(t.TempDir(), "board.db"),
		OpenTimeout:  1,
	}, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewDocumentStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store.(*documentStore)
}

func mustCreate(t *testing.T, store interfaces.DocumentStore, ref interfaces.DocumentRef, fields map[string]any) *interfaces.Document {
	t.Helper()
	doc, err := store.Create(context.Background(), ref, fields)
	if err != nil {
		t.Fatalf("Create(%+v): %v", ref, err)
	}
	return doc
}

func docIDs(docs []interfaces.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

// waitFor reads snapshots until accept returns true.
func waitFor[T any](t *testing.T, ch <-chan T, accept func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-ch:
			if accept(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			var zero T
			return zero
		}
	}
}

func TestStoreCreateStampsTimestamps(t *testing.T) {
	store := newTestStore(t)
	fixed := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	doc := mustCreate(t, store, clientRef("c1"), map[string]any{
		"name":      "Acme",
		"createdAt": "1999-01-01T00:00:00Z",
	})
	if doc.Data["createdAt"] != fixed.Format(time.RFC3339Nano) {
		t.Errorf("createdAt = %v, want server stamp", doc.Data["createdAt"])
	}
	if doc.Data["id"] != "c1" {
		t.Errorf("id = %v, want c1", doc.Data["id"])
	}

	if _, err := store.Create(context.Background(), clientRef("c1"), map[string]any{"name": "again"}); !common.IsType(err, common.ErrorTypeConflict) {
		t.Errorf("duplicate create err = %v, want conflict", err)
	}
}

func TestStoreCreateGeneratesID(t *testing.T) {
	store := newTestStore(t)
	doc := mustCreate(t, store, interfaces.DocumentRef{Collection: interfaces.CollectionClients}, map[string]any{"name": "Gen"})
	if doc.ID == "" {
		t.Fatalf("generated id is empty")
	}
	if _, err := store.Get(context.Background(), clientRef(doc.ID)); err != nil {
		t.Errorf("Get generated doc: %v", err)
	}
}

func TestStorePartialUpdate(t *testing.T) {
	store := newTestStore(t)
	tick := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return tick }

	mustCreate(t, store, projectRef("p1"), map[string]any{"name": "Trailer", "clientId": "c1", "description": "cut"})
	tick = tick.Add(time.Minute)

	if err := store.Update(context.Background(), projectRef("p1"), map[string]any{"description": "final cut"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	doc, err := store.Get(context.Background(), projectRef("p1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Data["name"] != "Trailer" || doc.Data["clientId"] != "c1" {
		t.Errorf("untouched fields changed: %v", doc.Data)
	}
	if doc.Data["description"] != "final cut" {
		t.Errorf("description = %v, want final cut", doc.Data["description"])
	}
	if doc.Data["updatedAt"] != tick.Format(time.RFC3339Nano) {
		t.Errorf("updatedAt = %v, want %v", doc.Data["updatedAt"], tick.Format(time.RFC3339Nano))
	}
	if doc.Data["createdAt"] == doc.Data["updatedAt"] {
		t.Errorf("createdAt moved with update")
	}

	err = store.Update(context.Background(), projectRef("missing"), map[string]any{"name": "x"})
	if !common.IsNotFound(err) {
		t.Errorf("update missing err = %v, want not found", err)
	}
}

func TestStoreNormalizesFields(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, projectRef("p1"), map[string]any{"name": "P"})

	var due *time.Time
	var assignees []string
	when := time.Date(2024, 7, 4, 9, 30, 0, 0, time.FixedZone("X", 3600))
	mustCreate(t, store, ticketRef("p1", "t1"), map[string]any{
		"title":       "Grade",
		"dueDate":     due,
		"assigneeIds": assignees,
		"reviewAt":    when,
		"order":       3,
	})

	doc, err := store.Get(context.Background(), ticketRef("p1", "t1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	for _, field := range []string{"dueDate", "assigneeIds"} {
		v, ok := doc.Data[field]
		if !ok || v != nil {
			t.Errorf("%s = %v (present %v), want explicit null", field, v, ok)
		}
	}
	if doc.Data["reviewAt"] != "2024-07-04T08:30:00Z" {
		t.Errorf("reviewAt = %v, want UTC RFC 3339", doc.Data["reviewAt"])
	}
	if doc.Data["order"] != float64(3) {
		t.Errorf("order = %#v, want 3", doc.Data["order"])
	}

	err = store.Update(context.Background(), ticketRef("p1", "t1"), map[string]any{"callback": func() {}})
	if !common.IsType(err, common.ErrorTypeValidation) {
		t.Errorf("func field err = %v, want validation", err)
	}
}

func TestStoreQueryFilterAndSort(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, projectRef("p1"), map[string]any{"name": "P1"})
	mustCreate(t, store, projectRef("p2"), map[string]any{"name": "P2"})

	for _, tk := range []struct {
		id       string
		order    int
		archived any
	}{
		{"a", 2, false},
		{"b", 0, nil},
		{"c", 1, true},
		{"d", 0, false},
	} {
		fields := map[string]any{"title": tk.id, "order": tk.order}
		if tk.archived != nil {
			fields["isArchived"] = tk.archived
		}
		mustCreate(t, store, ticketRef("p1", tk.id), fields)
	}
	mustCreate(t, store, ticketRef("p2", "z"), map[string]any{"title": "z", "order": 0})

	docs, err := store.Query(context.Background(), TicketsQuery("p1", false))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	// b and d tie on order and keep key order
	if got := docIDs(docs); !reflect.DeepEqual(got, []string{"b", "d", "a"}) {
		t.Errorf("active tickets = %v, want [b d a]", got)
	}

	docs, err = store.Query(context.Background(), interfaces.Query{
		Collection: interfaces.CollectionTickets,
		Parent:     "p1",
		Where:      []interfaces.Condition{{Field: "order", Op: interfaces.OpGreaterEqual, Value: 1}},
		OrderBy:    "order",
		Descending: true,
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := docIDs(docs); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("order >= 1 desc = %v, want [a c]", got)
	}
	if docs[0].Parent != "p1" {
		t.Errorf("Parent = %q, want p1", docs[0].Parent)
	}

	if _, err := store.Query(context.Background(), interfaces.Query{Collection: "nope"}); !common.IsType(err, common.ErrorTypeValidation) {
		t.Errorf("unknown collection err = %v, want validation", err)
	}
}

func TestStoreDeleteProjectCascades(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, projectRef("p1"), map[string]any{"name": "P1"})
	mustCreate(t, store, projectRef("p10"), map[string]any{"name": "P10"})
	mustCreate(t, store, ticketRef("p1", "t1"), map[string]any{"title": "one"})
	mustCreate(t, store, ticketRef("p1", "t2"), map[string]any{"title": "two"})
	mustCreate(t, store, ticketRef("p10", "t3"), map[string]any{"title": "three"})

	if err := store.Delete(context.Background(), projectRef("p1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	left, err := store.Query(context.Background(), interfaces.Query{Collection: interfaces.CollectionTickets})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if got := docIDs(left); !reflect.DeepEqual(got, []string{"t3"}) {
		t.Errorf("remaining tickets = %v, want [t3]", got)
	}
	if err := store.Delete(context.Background(), projectRef("p1")); !common.IsNotFound(err) {
		t.Errorf("second delete err = %v, want not found", err)
	}
}

func TestStoreCreateTicketRequiresProject(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Create(context.Background(), ticketRef("ghost", "t1"), map[string]any{"title": "x"})
	if !common.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestStoreSubscribeDeliversFullResultSets(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, projectRef("p1"), map[string]any{"name": "P1"})
	mustCreate(t, store, ticketRef("p1", "a"), map[string]any{"title": "a", "order": 0})

	snapshots := make(chan []string, 16)
	unsubscribe := store.Subscribe(TicketsQuery("p1", false), func(docs []interfaces.Document) {
		snapshots <- docIDs(docs)
	}, func(err error) { t.Errorf("subscription error: %v", err) })

	waitFor(t, snapshots, func(ids []string) bool { return reflect.DeepEqual(ids, []string{"a"}) })

	mustCreate(t, store, ticketRef("p1", "b"), map[string]any{"title": "b", "order": 1})
	waitFor(t, snapshots, func(ids []string) bool { return reflect.DeepEqual(ids, []string{"a", "b"}) })

	if err := store.Update(context.Background(), ticketRef("p1", "a"), map[string]any{"order": 5}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, snapshots, func(ids []string) bool { return reflect.DeepEqual(ids, []string{"b", "a"}) })

	if err := store.Update(context.Background(), ticketRef("p1", "b"), map[string]any{"isArchived": true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, snapshots, func(ids []string) bool { return reflect.DeepEqual(ids, []string{"a"}) })

	unsubscribe()
	if n := store.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d after unsubscribe, want 0", n)
	}
}

func TestStoreIndependentSubscribers(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, clientRef("c1"), map[string]any{"name": "Acme"})

	first := make(chan int, 16)
	second := make(chan int, 16)
	defer store.Subscribe(ClientsQuery(false), func(docs []interfaces.Document) { first <- len(docs) }, nil)()
	defer store.Subscribe(ClientsQuery(false), func(docs []interfaces.Document) { second <- len(docs) }, nil)()

	mustCreate(t, store, clientRef("c2"), map[string]any{"name": "Bolt"})

	waitFor(t, first, func(n int) bool { return n == 2 })
	waitFor(t, second, func(n int) bool { return n == 2 })
}

func TestStoreSubscribeDocument(t *testing.T) {
	store := newTestStore(t)
	mustCreate(t, store, projectRef("p1"), map[string]any{"name": "Before"})

	names := make(chan any, 16)
	unsubscribe := store.SubscribeDocument(projectRef("p1"), func(doc *interfaces.Document) {
		if doc == nil {
			names <- nil
			return
		}
		names <- doc.Data["name"]
	}, nil)
	defer unsubscribe()

	waitFor(t, names, func(v any) bool { return v == "Before" })

	if err := store.Update(context.Background(), projectRef("p1"), map[string]any{"name": "After"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	waitFor(t, names, func(v any) bool { return v == "After" })

	if err := store.Delete(context.Background(), projectRef("p1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	waitFor(t, names, func(v any) bool { return v == nil })
}

func TestRepositoryTicketRoundTrip(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store, arbor.NewLogger())
	ctx := context.Background()

	client, err := repo.CreateClient(ctx, models.Client{ID: "c1", Name: "Acme"})
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if client.CreatedAt == nil {
		t.Errorf("client CreatedAt not stamped")
	}
	if _, err := repo.CreateProject(ctx, models.Project{ID: "p1", Name: "Spot", ClientID: "c1"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if _, err := repo.CreateProject(ctx, models.Project{ID: "p2", Name: "Orphan", ClientID: "nobody"}); !common.IsNotFound(err) {
		t.Errorf("CreateProject for missing client err = %v, want not found", err)
	}

	created, err := repo.CreateTicket(ctx, "p1", models.Ticket{
		ID:          "t1",
		Title:       "Conform",
		AssigneeIDs: []string{"u1", "u1", "u2"},
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if created.ProjectID != "p1" || created.ID != "t1" {
		t.Errorf("created = %+v", created)
	}
	if !reflect.DeepEqual(created.AssigneeIDs, []string{"u1", "u2"}) {
		t.Errorf("AssigneeIDs = %v, want [u1 u2]", created.AssigneeIDs)
	}

	if err := repo.UpdateTicket(ctx, "p1", "t1", map[string]any{"statusId": "review", "order": 2}); err != nil {
		t.Fatalf("UpdateTicket: %v", err)
	}
	got, err := repo.GetTicket(ctx, "p1", "t1")
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.StatusID != "review" || got.Order != 2 || got.Title != "Conform" {
		t.Errorf("ticket = %+v", got)
	}

	orphans, err := repo.DeleteClient(ctx, "c1")
	if err != nil {
		t.Fatalf("DeleteClient: %v", err)
	}
	if orphans != 1 {
		t.Errorf("orphans = %d, want 1", orphans)
	}
	if _, err := repo.GetProject(ctx, "p1"); err != nil {
		t.Errorf("project removed with client: %v", err)
	}
}

func TestRepositoryDeleteGroupClearsMembership(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store, arbor.NewLogger())
	ctx := context.Background()

	if _, err := repo.CreateClient(ctx, models.Client{ID: "c1", Name: "Acme"}); err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	if _, err := repo.CreateGroup(ctx, models.ProjectGroup{ID: "g1", ClientID: "c1", Name: "Spots"}); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if _, err := repo.CreateProject(ctx, models.Project{ID: "p1", Name: "Spot", ClientID: "c1", GroupID: "g1"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	if err := repo.DeleteGroup(ctx, "g1"); err != nil {
		t.Fatalf("DeleteGroup: %v", err)
	}
	p, err := repo.GetProject(ctx, "p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if p.GroupID != "" {
		t.Errorf("GroupID = %q, want empty", p.GroupID)
	}
}
