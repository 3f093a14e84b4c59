package models

import "time"

// Teacher represents a faculty member who can be scheduled or substitute.
type Teacher struct {
	ID              string    `db:"id" json:"id"`
	Email           string    `db:"email" json:"email"`
	FullName        string    `db:"full_name" json:"full_name"`
	Department      string    `db:"department" json:"department"`
	Active          bool      `db:"active" json:"active"`
	SubstituteCount int       `db:"substitute_count" json:"substitute_count"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
