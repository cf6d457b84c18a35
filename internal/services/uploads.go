package services

import (
	"sync"

	"studio-board/internal/common"
)

// UploadTracker counts in-flight uploads per ticket. A ticket with an upload
// in progress cannot be permanently deleted.
type UploadTracker struct {
	mu      sync.Mutex
	active  map[string]int
	metrics *Metrics
}

func NewUploadTracker(metrics *Metrics) *UploadTracker {
	return &UploadTracker{active: make(map[string]int), metrics: metrics}
}

func uploadKey(projectID, ticketID string) string {
	return projectID + "/" + ticketID
}

// Begin marks an upload as started and returns the func that ends it.
func (u *UploadTracker) Begin(projectID, ticketID string) (done func()) {
	key := uploadKey(projectID, ticketID)

	u.mu.Lock()
	u.active[key]++
	u.metrics.SetUploadsInProgress(u.totalLocked())
	u.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			u.mu.Lock()
			defer u.mu.Unlock()
			if u.active[key] <= 1 {
				delete(u.active, key)
			} else {
				u.active[key]--
			}
			u.metrics.SetUploadsInProgress(u.totalLocked())
		})
	}
}

func (u *UploadTracker) InProgress(projectID, ticketID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.active[uploadKey(projectID, ticketID)]
}

// GuardDelete refuses with a conflict while uploads for the ticket run.
func (u *UploadTracker) GuardDelete(projectID, ticketID string) error {
	if n := u.InProgress(projectID, ticketID); n > 0 {
		return common.NewConflictError("UPLOAD_IN_PROGRESS", "an upload is still in progress for this ticket; wait for it to finish").
			WithContext("uploads", n)
	}
	return nil
}

func (u *UploadTracker) totalLocked() int {
	total := 0
	for _, n := range u.active {
		total += n
	}
	return total
}
