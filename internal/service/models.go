package service

import (
	"time"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

// UserSession bundles a signed session token with the student view it carries.
type UserSession struct {
	Token session.Token      `json:"session"`
	User  domain.SessionUser `json:"user"`
}

// OrgSession bundles a signed session token with the organization view.
type OrgSession struct {
	Token        session.Token     `json:"session"`
	Organization domain.SessionOrg `json:"organization"`
}

// RegisterInput holds the fields of a new student account.
type RegisterInput struct {
	UserID      string
	Email       string
	Password    string
	Affiliation domain.Affiliation
	OrgCode     string
	// Timezone defaults to the organization's time zone when empty.
	Timezone string
}

// SubmissionInput holds one evaluated essay to record.
type SubmissionInput struct {
	UserID   string
	Text     string
	Feedback string
	// Affiliation defaults to the user's when empty.
	Affiliation domain.Affiliation
	ScanKey     string
}

// FeedbackResult is returned after an essay was evaluated and recorded.
type FeedbackResult struct {
	SubmissionID  int64         `json:"submission_id,string"`
	Feedback      string        `json:"feedback"`
	SubmitTime    time.Time     `json:"submit_time"`
	Status        domain.Status `json:"status"`
	DaysRemaining int           `json:"days_remaining"`
}

// SubmissionView is a submission as returned to clients.
type SubmissionView struct {
	ID         int64     `json:"id,string"`
	Text       string    `json:"text"`
	Feedback   string    `json:"feedback"`
	SubmitTime time.Time `json:"submit_time"`
	// LocalTime is SubmitTime in the submission's time zone.
	LocalTime  string `json:"local_time"`
	University string `json:"university"`
	Faculty    string `json:"faculty"`
	Department string `json:"department,omitempty"`
	ScanKey    string `json:"scan_key,omitempty"`
}

// Transcription is the text read from an uploaded scan.
type Transcription struct {
	Text    string `json:"text"`
	ScanKey string `json:"scan_key,omitempty"`
}

// DashboardMetrics summarizes an organization's students.
type DashboardMetrics struct {
	OrgCode                string               `json:"org_code"`
	OrgName                string               `json:"org_name"`
	Tier                   domain.DashboardTier `json:"tier"`
	Timezone               string               `json:"timezone"`
	AsOf                   time.Time            `json:"as_of"`
	TotalUsers             int                  `json:"total_users"`
	RegistrationsThisMonth int                  `json:"registrations_this_month"`
	ActiveUsers            int                  `json:"active_users"`
	// Activity is nil for organizations on the basic tier.
	Activity *Activity    `json:"activity,omitempty"`
	Users    []UserSummary `json:"users"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Activity counts submissions made on the organization-local day of AsOf.
type Activity struct {
	Date              string `json:"date"`
	TodaysSubmissions int    `json:"todays_submissions"`
	TodaysActiveUsers int    `json:"todays_active_users"`
	// Trend covers the TrendDays organization-local days ending on Date,
	// oldest first. It is empty when activity is unavailable.
	Trend []DailyCount `json:"trend,omitempty"`
}

// DailyCount is the number of submissions made on one local date.
type DailyCount struct {
	Date        string `json:"date"`
	Submissions int    `json:"submissions"`
}

// UserSummary is one row of the dashboard user table.
type UserSummary struct {
	ID                string        `json:"id"`
	Email             string        `json:"email"`
	University        string        `json:"university"`
	Faculty           string        `json:"faculty"`
	Department        string        `json:"department,omitempty"`
	RegisteredAt      time.Time     `json:"registered_at"`
	ExpiresAt         time.Time     `json:"expires_at"`
	Status            domain.Status `json:"status"`
	DaysRemaining     int           `json:"days_remaining"`
	TodaysSubmissions int           `json:"todays_submissions"`
	TotalSubmissions  int           `json:"total_submissions"`
}

// Page selects a window of a newest-first listing.
type Page struct {
	Offset int
	Limit  int
}

// SubmissionPage is one page of a student's submissions, newest first.
type SubmissionPage struct {
	Submissions []SubmissionView `json:"submissions"`
	Offset      int              `json:"offset"`
	Limit       int              `json:"limit"`
	HasMore     bool             `json:"has_more"`
}

func newSessionUser(u domain.User, daysRemaining int) domain.SessionUser {
	return domain.SessionUser{
		ID:            u.ID,
		Email:         u.Email,
		University:    u.Affiliation.University,
		Faculty:       u.Affiliation.Faculty,
		Department:    u.Affiliation.Department,
		OrgCode:       u.OrgCode,
		Timezone:      u.Timezone,
		Status:        u.Status,
		DaysRemaining: daysRemaining,
	}
}

func newSessionOrg(o domain.Organization) domain.SessionOrg {
	return domain.SessionOrg{
		Code:          o.Code,
		Name:          o.Name,
		Timezone:      o.Timezone,
		FullDashboard: o.FullDashboard,
	}
}

func newSubmissionView(s domain.Submission, loc *time.Location) SubmissionView {
	return SubmissionView{
		ID:         s.ID,
		Text:       s.Text,
		Feedback:   s.Feedback,
		SubmitTime: s.SubmitTime,
		LocalTime:  s.SubmitTime.In(loc).Format("2006-01-02 15:04"),
		University: s.Affiliation.University,
		Faculty:    s.Affiliation.Faculty,
		Department: s.Affiliation.Department,
		ScanKey:    s.ScanKey,
	}
}
