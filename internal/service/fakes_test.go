package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	"github.com/bigkaiyoh/TGF-Scholar/internal/password"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

type memoryUserRepo struct {
	mu           sync.Mutex
	users        map[string]domain.User
	statusWrites int
	batchWrites  int
	failStatus   error
}

func newMemoryUserRepo(users ...domain.User) *memoryUserRepo {
	repo := &memoryUserRepo{users: make(map[string]domain.User)}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (m *memoryUserRepo) Get(ctx context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (m *memoryUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return domain.User{}, domain.ErrDuplicateID
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *memoryUserRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus != nil {
		return m.failStatus
	}
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Status = status
	m.users[id] = u
	m.statusWrites++
	return nil
}

func (m *memoryUserRepo) UpdateStatuses(ctx context.Context, updates []repository.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failStatus != nil {
		return m.failStatus
	}
	for _, up := range updates {
		u := m.users[up.UserID]
		u.Status = up.Status
		m.users[up.UserID] = u
	}
	m.batchWrites++
	return nil
}

func (m *memoryUserRepo) ListByOrg(ctx context.Context, orgCode string) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.User
	for _, u := range m.users {
		if u.OrgCode == orgCode {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.PasswordResetAt = &at
	m.users[id] = u
	return nil
}

func (m *memoryUserRepo) UpdateTimezone(ctx context.Context, id, timezone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Timezone = timezone
	m.users[id] = u
	return nil
}

func (m *memoryUserRepo) user(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id]
}

type memoryOrgRepo struct {
	orgs map[string]domain.Organization
}

func newMemoryOrgRepo(orgs ...domain.Organization) *memoryOrgRepo {
	repo := &memoryOrgRepo{orgs: make(map[string]domain.Organization)}
	for _, o := range orgs {
		repo.orgs[o.Code] = o
	}
	return repo
}

func (m *memoryOrgRepo) Get(ctx context.Context, code string) (domain.Organization, error) {
	o, ok := m.orgs[code]
	if !ok {
		return domain.Organization{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *memoryOrgRepo) Create(ctx context.Context, o domain.Organization) (domain.Organization, error) {
	if _, ok := m.orgs[o.Code]; ok {
		return domain.Organization{}, domain.ErrDuplicateID
	}
	m.orgs[o.Code] = o
	return o, nil
}

type memorySubmissionRepo struct {
	mu           sync.Mutex
	subs         []domain.Submission
	missingIndex bool
}

func (m *memorySubmissionRepo) Append(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return sub, nil
}

func (m *memorySubmissionRepo) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Submission
	for i := len(m.subs) - 1; i >= 0; i-- {
		if m.subs[i].UserID == userID {
			out = append(out, m.subs[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memorySubmissionRepo) ListByOrgBetween(ctx context.Context, orgCode string, from, to time.Time) ([]domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missingIndex {
		return nil, domain.ErrMissingIndex
	}
	var out []domain.Submission
	for _, s := range m.subs {
		if s.OrgCode == orgCode && !s.SubmitTime.Before(from) && s.SubmitTime.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memorySubmissionRepo) CountByOrg(ctx context.Context, orgCode string) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missingIndex {
		return nil, domain.ErrMissingIndex
	}
	counts := make(map[string]int)
	for _, s := range m.subs {
		if s.OrgCode == orgCode {
			counts[s.UserID]++
		}
	}
	return counts, nil
}

func (m *memorySubmissionRepo) all() []domain.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Submission(nil), m.subs...)
}

type memoryKeyRepo struct {
	mu  sync.Mutex
	key *domain.SigningKey
}

func (m *memoryKeyRepo) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.key == nil {
		return domain.SigningKey{}, domain.ErrNotFound
	}
	return *m.key, nil
}

func (m *memoryKeyRepo) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = &key
	return key, nil
}

type fakeFeedback struct {
	mu      sync.Mutex
	result  assistant.Result
	prompts []string
	ids     []string
}

func (f *fakeFeedback) RequestFeedback(ctx context.Context, assistantID, prompt string) assistant.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, assistantID)
	f.prompts = append(f.prompts, prompt)
	return f.result
}

func (f *fakeFeedback) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f fakeTranscriber) Transcribe(ctx context.Context, image []byte, contentType string) (string, error) {
	return f.text, f.err
}

type fakeArchive struct {
	key string
	err error
}

func (f fakeArchive) Store(ctx context.Context, userID string, body []byte, contentType string) (string, error) {
	return f.key, f.err
}

type fakeRevoker struct {
	revoked map[string]time.Time
}

func (f *fakeRevoker) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	if f.revoked == nil {
		f.revoked = make(map[string]time.Time)
	}
	f.revoked[tokenID] = expiresAt
	return nil
}

type fakeNotifier struct {
	sent []string
	err  error
}

func (f *fakeNotifier) PasswordChanged(ctx context.Context, to, userID string, at time.Time) error {
	f.sent = append(f.sent, to)
	return f.err
}

var errStore = errors.New("store unavailable")

func fixedClock(t time.Time) service.Clock {
	return func() time.Time { return t }
}

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := password.Hash(pw)
	require.NoError(t, err)
	return h
}

func newStudent(t *testing.T, id, pw string, registeredAt time.Time, status domain.Status) domain.User {
	t.Helper()
	return domain.User{
		ID:           id,
		Email:        id + "@example.com",
		PasswordHash: mustHash(t, pw),
		Affiliation:  domain.Affiliation{University: "Kyoto University", Faculty: "Law"},
		OrgCode:      "TGF",
		RegisteredAt: registeredAt,
		Timezone:     "Asia/Tokyo",
		Status:       status,
	}
}

func newOrganization(t *testing.T, full bool) domain.Organization {
	t.Helper()
	return domain.Organization{
		Code:          "TGF",
		Name:          "Tokyo Global Foundation",
		PasswordHash:  mustHash(t, "org-secret"),
		Timezone:      "Asia/Tokyo",
		FullDashboard: full,
		Universities: []domain.University{{
			Name:      "Kyoto University",
			Faculties: []domain.Faculty{{Name: "Law"}, {Name: "Economics", Departments: []string{"Finance"}}},
		}},
	}
}

type accountFixture struct {
	svc      *service.AccountService
	users    *memoryUserRepo
	issuer   *session.Issuer
	revoker  *fakeRevoker
	notifier *fakeNotifier
}

func newAccountFixture(t *testing.T, now time.Time, orgs *memoryOrgRepo, users ...domain.User) accountFixture {
	t.Helper()
	repo := newMemoryUserRepo(users...)
	clock := func() time.Time { return now }
	issuer := session.NewIssuer(session.NewKeyManager(&memoryKeyRepo{}), time.Hour, "tgf-scholar", clock)
	revoker := &fakeRevoker{}
	notifier := &fakeNotifier{}
	svc := service.NewAccountService(repo, org.NewResolver(orgs), issuer, revoker, notifier, clock, zap.NewNop())
	return accountFixture{svc: svc, users: repo, issuer: issuer, revoker: revoker, notifier: notifier}
}
