package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	bolt "go.etcd.io/bbolt"

	. "studio-board/internal/common"
	. "studio-board/internal/interfaces"
)

const keySeparator = ":"

var collections = []string{
	CollectionClients,
	CollectionProjectGroups,
	CollectionProjects,
	CollectionTickets,
}

// nestedCollections maps a collection to the collection its parent lives in.
var nestedCollections = map[string]string{
	CollectionTickets: CollectionProjects,
}

// documentStore keeps one bucket per collection. Nested documents are keyed
// "<parent>:<id>" so a prefix scan returns a parent's children in key order.
type documentStore struct {
	db     *bolt.DB
	logger arbor.ILogger
	now    func() time.Time

	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool
}

func NewDocumentStore(config *StorageConfig, logger arbor.ILogger) (DocumentStore, error) {
	dbDir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	timeout := time.Duration(config.OpenTimeout) * time.Second
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bolt.Open(config.DatabasePath, 0600, &bolt.Options{
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range collections {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	logger.Info().Str("path", config.DatabasePath).Msg("Document store opened")

	return &documentStore{
		db:     db,
		logger: logger,
		now:    time.Now,
		subs:   make(map[uint64]*subscription),
	}, nil
}

func (s *documentStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[uint64]*subscription)
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return s.db.Close()
}

func (s *documentStore) Get(ctx context.Context, ref DocumentRef) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := documentKey(ref)
	if err != nil {
		return nil, err
	}

	var doc *Document
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(ref.Collection)).Get(key)
		if data == nil {
			return nil
		}
		d, err := decodeDocument(key, data)
		if err != nil {
			return err
		}
		doc = &d
		return nil
	})
	if err != nil {
		return nil, WrapError(err, ErrorTypeStorage, "READ_FAILED", "failed to read document").
			WithContext("collection", ref.Collection).WithContext("id", ref.ID)
	}
	if doc == nil {
		return nil, NewNotFoundError("DOCUMENT_NOT_FOUND", fmt.Sprintf("%s %s not found", ref.Collection, ref.ID))
	}
	return doc, nil
}

func (s *documentStore) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	var docs []Document
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(q.Collection)).Cursor()

		var prefix []byte
		k, v := c.First()
		if q.Parent != "" {
			prefix = []byte(q.Parent + keySeparator)
			k, v = c.Seek(prefix)
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			doc, err := decodeDocument(k, v)
			if err != nil {
				s.logger.Warn().Err(err).Str("collection", q.Collection).Str("key", string(k)).Msg("Skipping undecodable document")
				continue
			}
			if matchesAll(doc.Data, q.Where) {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, WrapError(err, ErrorTypeStorage, "QUERY_FAILED", "failed to query documents").
			WithContext("collection", q.Collection)
	}

	sortDocuments(docs, q.OrderBy, q.Descending)
	return docs, nil
}

func (s *documentStore) Create(ctx context.Context, ref DocumentRef, fields map[string]any) (*Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}
	key, err := documentKey(ref)
	if err != nil {
		return nil, err
	}
	data, err := NormalizeFields(fields)
	if err != nil {
		return nil, err
	}

	stamp := s.timestamp()
	delete(data, "id")
	data["createdAt"] = stamp
	data["updatedAt"] = stamp

	err = s.db.Update(func(tx *bolt.Tx) error {
		if ref.Parent != "" {
			if tx.Bucket([]byte(nestedCollections[ref.Collection])).Get([]byte(ref.Parent)) == nil {
				return NewNotFoundError("PARENT_NOT_FOUND", fmt.Sprintf("%s %s not found", nestedCollections[ref.Collection], ref.Parent))
			}
		}
		bucket := tx.Bucket([]byte(ref.Collection))
		if bucket.Get(key) != nil {
			return NewConflictError("DOCUMENT_EXISTS", fmt.Sprintf("%s %s already exists", ref.Collection, ref.ID))
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
	if err != nil {
		return nil, storageError(err, "WRITE_FAILED", "failed to create document", ref)
	}

	s.publish(ref.Collection)

	data["id"] = ref.ID
	return &Document{ID: ref.ID, Parent: ref.Parent, Data: data}, nil
}

func (s *documentStore) Update(ctx context.Context, ref DocumentRef, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := documentKey(ref)
	if err != nil {
		return err
	}
	patch, err := NormalizeFields(fields)
	if err != nil {
		return err
	}
	delete(patch, "id")
	delete(patch, "createdAt")

	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ref.Collection))
		existing := bucket.Get(key)
		if existing == nil {
			return NewNotFoundError("DOCUMENT_NOT_FOUND", fmt.Sprintf("%s %s not found", ref.Collection, ref.ID))
		}

		var data map[string]any
		if err := json.Unmarshal(existing, &data); err != nil {
			return err
		}
		for field, value := range patch {
			data[field] = value
		}
		data["updatedAt"] = s.timestamp()

		encoded, err := json.Marshal(data)
		if err != nil {
			return err
		}
		return bucket.Put(key, encoded)
	})
	if err != nil {
		return storageError(err, "WRITE_FAILED", "failed to update document", ref)
	}

	s.publish(ref.Collection)
	return nil
}

// Delete removes a document. Deleting a project also removes its tickets;
// clients and groups are removed alone.
func (s *documentStore) Delete(ctx context.Context, ref DocumentRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := documentKey(ref)
	if err != nil {
		return err
	}

	cascaded := 0
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(ref.Collection))
		if bucket.Get(key) == nil {
			return NewNotFoundError("DOCUMENT_NOT_FOUND", fmt.Sprintf("%s %s not found", ref.Collection, ref.ID))
		}
		if err := bucket.Delete(key); err != nil {
			return err
		}

		for child, parent := range nestedCollections {
			if parent != ref.Collection {
				continue
			}
			n, err := deletePrefix(tx.Bucket([]byte(child)), []byte(ref.ID+keySeparator))
			if err != nil {
				return err
			}
			cascaded += n
		}
		return nil
	})
	if err != nil {
		return storageError(err, "DELETE_FAILED", "failed to delete document", ref)
	}

	s.publish(ref.Collection)
	if cascaded > 0 {
		s.logger.Info().Str("collection", ref.Collection).Str("id", ref.ID).Int("children", cascaded).Msg("Deleted nested documents")
		for child, parent := range nestedCollections {
			if parent == ref.Collection {
				s.publish(child)
			}
		}
	}
	return nil
}

func deletePrefix(bucket *bolt.Bucket, prefix []byte) (int, error) {
	var keys [][]byte
	c := bucket.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := bucket.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *documentStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func documentKey(ref DocumentRef) ([]byte, error) {
	if !isCollection(ref.Collection) {
		return nil, NewValidationError("UNKNOWN_COLLECTION", fmt.Sprintf("unknown collection %q", ref.Collection))
	}
	if ref.ID == "" || strings.Contains(ref.ID, keySeparator) {
		return nil, NewValidationError("INVALID_ID", fmt.Sprintf("invalid document id %q", ref.ID))
	}
	_, nested := nestedCollections[ref.Collection]
	if nested != (ref.Parent != "") {
		return nil, NewValidationError("INVALID_PARENT", fmt.Sprintf("collection %s parent mismatch", ref.Collection))
	}
	if ref.Parent == "" {
		return []byte(ref.ID), nil
	}
	if strings.Contains(ref.Parent, keySeparator) {
		return nil, NewValidationError("INVALID_PARENT", fmt.Sprintf("invalid parent id %q", ref.Parent))
	}
	return []byte(ref.Parent + keySeparator + ref.ID), nil
}

func validateQuery(q Query) error {
	if !isCollection(q.Collection) {
		return NewValidationError("UNKNOWN_COLLECTION", fmt.Sprintf("unknown collection %q", q.Collection))
	}
	if _, nested := nestedCollections[q.Collection]; !nested && q.Parent != "" {
		return NewValidationError("INVALID_PARENT", fmt.Sprintf("collection %s is not nested", q.Collection))
	}
	for _, cond := range q.Where {
		switch cond.Op {
		case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		default:
			return NewValidationError("INVALID_OPERATOR", fmt.Sprintf("unsupported operator %q", cond.Op))
		}
	}
	return nil
}

func isCollection(name string) bool {
	for _, c := range collections {
		if c == name {
			return true
		}
	}
	return false
}

func decodeDocument(key, value []byte) (Document, error) {
	var data map[string]any
	if err := json.Unmarshal(value, &data); err != nil {
		return Document{}, err
	}
	doc := Document{ID: string(key), Data: data}
	if parent, id, ok := strings.Cut(string(key), keySeparator); ok {
		doc.Parent = parent
		doc.ID = id
	}
	data["id"] = doc.ID
	return doc, nil
}

func storageError(err error, code, message string, ref DocumentRef) error {
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return WrapError(err, ErrorTypeStorage, code, message).
		WithContext("collection", ref.Collection).
		WithContext("id", ref.ID)
}
