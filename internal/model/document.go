package model

import "time"

// Document is the stable identity for a logical artifact. It owns versions;
// exactly one version is "current" at any time once one has been published.
// Documents are never deleted, only archived.
type Document struct {
	ID               string    `json:"id"`
	DocumentNumber   string    `json:"document_number"`
	Title            string    `json:"title"`
	Department       string    `json:"department"`
	OwnerID          string    `json:"owner_id"`
	CurrentVersionID *string   `json:"current_version_id,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
