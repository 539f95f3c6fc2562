package domain

import "time"

// Submission is one immutable essay evaluation owned by a user.
type Submission struct {
	ID       int64
	UserID   string
	Text     string
	Feedback string
	// SubmitTime is always UTC; convert with Timezone or the organization
	// time zone when displaying or bucketing by day.
	SubmitTime  time.Time
	Affiliation Affiliation
	OrgCode     string
	Timezone    string
	// ScanKey is the object key of the archived upload the text was
	// transcribed from, if any.
	ScanKey string
}
