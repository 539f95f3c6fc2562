package domain

import "time"

// Status is the cached lifecycle state of a student account.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Affiliation is the academic target a student is applying to.
type Affiliation struct {
	University string `json:"university"`
	// Faculty holds the program or faculty name.
	Faculty    string `json:"faculty"`
	Department string `json:"department,omitempty"`
}

// User represents a student account registered under an organization.
type User struct {
	// ID is chosen by the student at registration and never changes.
	ID           string
	Email        string
	PasswordHash string
	Affiliation  Affiliation
	OrgCode      string
	// RegisteredAt is stored in UTC.
	RegisteredAt time.Time
	Timezone     string
	// Status is a denormalized value; see lifecycle.Evaluate.
	Status          Status
	PasswordResetAt *time.Time
}
