package models

import (
	"sort"
	"strings"
	"time"
)

// Ticket is a card on a project board. SwimlaneID and StatusID may be empty
// on older records; the board treats them as the default cell.
type Ticket struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"projectId,omitempty"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	SwimlaneID  string       `json:"swimlaneId,omitempty"`
	StatusID    string       `json:"statusId,omitempty"`
	Order       int          `json:"order"`
	AssigneeIDs []string     `json:"assigneeIds"`
	DueDate     *time.Time   `json:"dueDate"`
	Attachments []Attachment `json:"attachments"`
	Comments    []Comment    `json:"comments"`
	IsArchived  bool         `json:"isArchived"`
	CreatedAt   *time.Time   `json:"createdAt,omitempty"`
	CreatedBy   string       `json:"createdBy,omitempty"`
	UpdatedAt   *time.Time   `json:"updatedAt,omitempty"`
}

// Comment is a plain-text note on a ticket.
type Comment struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// NormalizeAssignees drops blank and repeated ids, keeping first-seen order.
func NormalizeAssignees(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CommentsNewestFirst returns the comments in display order: most recent
// first, with equal timestamps keeping their stored order.
func CommentsNewestFirst(comments []Comment) []Comment {
	out := append([]Comment(nil), comments...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
