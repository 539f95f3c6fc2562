// Package lifecycle derives the 30-day account status of a student.
package lifecycle

import (
	"time"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

// ActiveWindowDays is the number of whole days an account stays active after
// registration.
const ActiveWindowDays = 30

const day = 24 * time.Hour

// ComputeStatus maps a registration instant and the current instant to a
// status and the number of days remaining. Both instants are compared in UTC.
func ComputeStatus(registeredAt, now time.Time) (domain.Status, int) {
	elapsed := now.UTC().Sub(registeredAt.UTC())
	daysPassed := 0
	if elapsed > 0 {
		daysPassed = int(elapsed / day)
	}
	if daysPassed <= ActiveWindowDays {
		return domain.StatusActive, ActiveWindowDays - daysPassed
	}
	return domain.StatusInactive, 0
}

// ExpiresAt returns the first instant at which ComputeStatus reports Inactive.
func ExpiresAt(registeredAt time.Time) time.Time {
	return registeredAt.UTC().Add((ActiveWindowDays + 1) * day)
}

// Evaluation is the outcome of recomputing a user's status.
type Evaluation struct {
	Status        domain.Status
	DaysRemaining int
	// Changed is true when Status differs from the stored value and must be
	// written back.
	Changed bool
}

// Evaluate recomputes the status of u at now without touching storage.
func Evaluate(u domain.User, now time.Time) Evaluation {
	status, remaining := ComputeStatus(u.RegisteredAt, now)
	return Evaluation{
		Status:        status,
		DaysRemaining: remaining,
		Changed:       status != u.Status,
	}
}

// Apply returns u with the evaluated status.
func (e Evaluation) Apply(u domain.User) domain.User {
	u.Status = e.Status
	return u
}
