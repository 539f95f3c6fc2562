package service

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/lifecycle"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
)

// Dashboard warnings.
const (
	WarnActivityUnavailable = "Submission activity is unavailable: the submissions index is missing."
	WarnStatusNotSaved      = "Account statuses could not be saved; figures were computed on the fly."
)

// TrendDays is the number of organization-local days, today included, covered
// by the submission trend.
const TrendDays = 30

// Drill-down page sizes.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultPageSize
	case p.Limit > MaxPageSize:
		p.Limit = MaxPageSize
	}
	return p
}

// DashboardService aggregates organization metrics.
type DashboardService struct {
	users       repository.UserRepository
	submissions repository.SubmissionRepository
	orgs        *org.Resolver
	clock       Clock
	instrumentation
}

// NewDashboardService wires dependencies.
func NewDashboardService(users repository.UserRepository, submissions repository.SubmissionRepository, orgs *org.Resolver, clock Clock, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		users:           users,
		submissions:     submissions,
		orgs:            orgs,
		clock:           clock,
		instrumentation: newInstrumentation(logger),
	}
}

// BuildOrgDashboard recomputes the status of every student of the
// organization, saves the changed ones in one batch and aggregates the
// metrics for asOf. A zero asOf means now.
func (s *DashboardService) BuildOrgDashboard(ctx context.Context, orgCode string, asOf time.Time) (DashboardMetrics, error) {
	ctx, span := s.startSpan(ctx, "DashboardService.BuildOrgDashboard")
	defer span.End()

	orgCtx, err := s.resolve(ctx, orgCode)
	if err != nil {
		return DashboardMetrics{}, err
	}
	if asOf.IsZero() {
		asOf = s.clock.now()
	}
	asOf = asOf.UTC()
	loc := orgCtx.Location

	users, err := s.users.ListByOrg(ctx, orgCtx.Org.Code)
	if err != nil {
		span.RecordError(err)
		return DashboardMetrics{}, serverError("list users", err)
	}

	metrics := DashboardMetrics{
		OrgCode:    orgCtx.Org.Code,
		OrgName:    orgCtx.Org.Name,
		Tier:       orgCtx.Org.Tier(),
		Timezone:   loc.String(),
		AsOf:       asOf,
		TotalUsers: len(users),
		Users:      make([]UserSummary, 0, len(users)),
	}

	localNow := asOf.In(loc)
	var updates []repository.StatusUpdate
	for _, u := range users {
		ev := lifecycle.Evaluate(u, asOf)
		if ev.Changed {
			updates = append(updates, repository.StatusUpdate{UserID: u.ID, Status: ev.Status})
		}
		if ev.Status == domain.StatusActive {
			metrics.ActiveUsers++
		}
		reg := u.RegisteredAt.In(loc)
		if reg.Year() == localNow.Year() && reg.Month() == localNow.Month() {
			metrics.RegistrationsThisMonth++
		}
		metrics.Users = append(metrics.Users, UserSummary{
			ID:            u.ID,
			Email:         u.Email,
			University:    u.Affiliation.University,
			Faculty:       u.Affiliation.Faculty,
			Department:    u.Affiliation.Department,
			RegisteredAt:  u.RegisteredAt.UTC(),
			ExpiresAt:     lifecycle.ExpiresAt(u.RegisteredAt),
			Status:        ev.Status,
			DaysRemaining: ev.DaysRemaining,
		})
	}

	if len(updates) > 0 {
		if err := s.users.UpdateStatuses(ctx, updates); err != nil {
			span.RecordError(err)
			s.log().Warn("persist dashboard statuses failed", zap.String("org_code", metrics.OrgCode), zap.Int("updates", len(updates)), zap.Error(err))
			metrics.Warnings = append(metrics.Warnings, WarnStatusNotSaved)
		} else {
			s.audit("org.statuses.reconciled", "org_code", metrics.OrgCode, "updates", len(updates))
		}
	}

	if orgCtx.Org.Tier() == domain.TierFull {
		activity, today, err := s.activity(ctx, orgCtx.Org.Code, localNow)
		var totals map[string]int
		if err == nil {
			totals, err = s.submissions.CountByOrg(ctx, orgCtx.Org.Code)
		}
		switch {
		case errors.Is(err, domain.ErrMissingIndex):
			s.log().Warn("dashboard activity degraded", zap.String("org_code", metrics.OrgCode), zap.Error(err))
			metrics.Warnings = append(metrics.Warnings, WarnActivityUnavailable)
			activity = Activity{Date: activity.Date}
		case err != nil:
			span.RecordError(err)
			return DashboardMetrics{}, serverError("list submissions", err)
		default:
			for i := range metrics.Users {
				metrics.Users[i].TodaysSubmissions = today[metrics.Users[i].ID]
				metrics.Users[i].TotalSubmissions = totals[metrics.Users[i].ID]
			}
		}
		metrics.Activity = &activity
	}

	return metrics, nil
}

// activity buckets the organization's submissions of the last TrendDays
// local days by date and counts today's submissions per user.
func (s *DashboardService) activity(ctx context.Context, orgCode string, localNow time.Time) (Activity, map[string]int, error) {
	today := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 0, 0, 0, 0, localNow.Location())
	from := today.AddDate(0, 0, -(TrendDays - 1))
	end := today.AddDate(0, 0, 1)
	activity := Activity{Date: today.Format(time.DateOnly)}

	subs, err := s.submissions.ListByOrgBetween(ctx, orgCode, from.UTC(), end.UTC())
	if err != nil {
		return activity, nil, err
	}

	activity.Trend = make([]DailyCount, 0, TrendDays)
	slot := make(map[string]int, TrendDays)
	for d := from; d.Before(end); d = d.AddDate(0, 0, 1) {
		date := d.Format(time.DateOnly)
		slot[date] = len(activity.Trend)
		activity.Trend = append(activity.Trend, DailyCount{Date: date})
	}

	perUser := make(map[string]int)
	for _, sub := range subs {
		date := sub.SubmitTime.In(localNow.Location()).Format(time.DateOnly)
		if i, ok := slot[date]; ok {
			activity.Trend[i].Submissions++
		}
		if date == activity.Date {
			perUser[sub.UserID]++
			activity.TodaysSubmissions++
		}
	}
	activity.TodaysActiveUsers = len(perUser)
	return activity, perUser, nil
}

// UserSubmissions pages through a student's submissions, newest first, for a
// full tier organization. Students of other organizations are reported as not
// found.
func (s *DashboardService) UserSubmissions(ctx context.Context, orgCode, userID string, page Page) (SubmissionPage, error) {
	ctx, span := s.startSpan(ctx, "DashboardService.UserSubmissions")
	defer span.End()

	orgCtx, err := s.resolve(ctx, orgCode)
	if err != nil {
		return SubmissionPage{}, err
	}
	if orgCtx.Org.Tier() != domain.TierFull {
		return SubmissionPage{}, newError(CodeForbidden, "Submission details require the full dashboard.", http.StatusForbidden, domain.ErrForbidden)
	}

	user, err := s.users.Get(ctx, userID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		span.RecordError(err)
		return SubmissionPage{}, serverError("load user", err)
	}
	if err != nil || user.OrgCode != orgCtx.Org.Code {
		return SubmissionPage{}, newError(CodeNotFound, "User not found.", http.StatusNotFound, domain.ErrNotFound)
	}

	page = page.normalize()
	// One extra row tells whether another page follows.
	subs, err := s.submissions.ListByUser(ctx, user.ID, page.Offset+page.Limit+1)
	if err != nil {
		span.RecordError(err)
		return SubmissionPage{}, serverError("list submissions", err)
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].SubmitTime.After(subs[j].SubmitTime) })

	result := SubmissionPage{Offset: page.Offset, Limit: page.Limit, Submissions: []SubmissionView{}}
	if page.Offset >= len(subs) {
		return result, nil
	}
	subs = subs[page.Offset:]
	if len(subs) > page.Limit {
		subs = subs[:page.Limit]
		result.HasMore = true
	}
	for _, sub := range subs {
		result.Submissions = append(result.Submissions, newSubmissionView(sub, orgCtx.Location))
	}
	return result, nil
}

func (s *DashboardService) resolve(ctx context.Context, orgCode string) (*org.Context, error) {
	orgCtx, err := s.orgs.Resolve(ctx, orgCode)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, newError(CodeNotFound, "Organization not found.", http.StatusNotFound, err)
		}
		return nil, serverError("resolve organization", err)
	}
	return orgCtx, nil
}
