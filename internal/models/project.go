package models

import (
	"sort"
	"time"
)

// Project carries the board configuration: statuses are columns and
// swimlanes are rows.
type Project struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ClientID    string          `json:"clientId"`
	GroupID     string          `json:"groupId,omitempty"`
	Description string          `json:"description"`
	LogoURL     string          `json:"logoUrl,omitempty"`
	Statuses    []ProjectStatus `json:"statuses"`
	Swimlanes   []Swimlane      `json:"swimlanes"`
	IsArchived  bool            `json:"isArchived"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	CreatedBy   string          `json:"createdBy,omitempty"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

// ProjectStatus is a board column.
type ProjectStatus struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	Color     string `json:"color"`
}

// Swimlane is a board row.
type Swimlane struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	Title     string `json:"title"`
	Order     int    `json:"order"`
	Color     string `json:"color"`
}

// SortedStatuses returns a copy of statuses ordered by Order. Equal orders
// keep their configured position.
func SortedStatuses(statuses []ProjectStatus) []ProjectStatus {
	out := append([]ProjectStatus(nil), statuses...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// SortedSwimlanes returns a copy of swimlanes ordered by Order.
func SortedSwimlanes(swimlanes []Swimlane) []Swimlane {
	out := append([]Swimlane(nil), swimlanes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
