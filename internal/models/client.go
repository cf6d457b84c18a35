package models

import "time"

// Client owns projects and project groups. Deleting a client does not
// remove its projects.
type Client struct {
	ID                    string     `json:"id"`
	Name                  string     `json:"name"`
	LogoURL               string     `json:"logoUrl,omitempty"`
	LogoUseDarkBackground bool       `json:"logoUseDarkBackground"`
	IsArchived            bool       `json:"isArchived"`
	CreatedAt             *time.Time `json:"createdAt,omitempty"`
	CreatedBy             string     `json:"createdBy,omitempty"`
	UpdatedAt             *time.Time `json:"updatedAt,omitempty"`
}

// ProjectGroup groups a client's projects for display only.
type ProjectGroup struct {
	ID        string     `json:"id"`
	ClientID  string     `json:"clientId"`
	Name      string     `json:"name"`
	Order     int        `json:"order"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}
