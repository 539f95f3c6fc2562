package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	httptransport "github.com/bigkaiyoh/TGF-Scholar/internal/http"
	"github.com/bigkaiyoh/TGF-Scholar/internal/http/handler"
	httpmiddleware "github.com/bigkaiyoh/TGF-Scholar/internal/http/middleware"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	"github.com/bigkaiyoh/TGF-Scholar/internal/password"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

var testNow = time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC)

type store struct {
	mu    sync.Mutex
	users map[string]domain.User
	orgs  map[string]domain.Organization
	subs  []domain.Submission
	key   *domain.SigningKey
}

func (s *store) Get(ctx context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *store) Create(ctx context.Context, u domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return domain.User{}, domain.ErrDuplicateID
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *store) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[id]
	u.Status = status
	s.users[id] = u
	return nil
}

func (s *store) UpdateStatuses(ctx context.Context, updates []repository.StatusUpdate) error {
	for _, up := range updates {
		_ = s.UpdateStatus(ctx, up.UserID, up.Status)
	}
	return nil
}

func (s *store) ListByOrg(ctx context.Context, orgCode string) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.User
	for _, u := range s.users {
		if u.OrgCode == orgCode {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *store) UpdatePassword(ctx context.Context, id, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = hash
	u.PasswordResetAt = &at
	s.users[id] = u
	return nil
}

func (s *store) UpdateTimezone(ctx context.Context, id, tz string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.Timezone = tz
	s.users[id] = u
	return nil
}

type orgStore struct{ *store }

func (o orgStore) Get(ctx context.Context, code string) (domain.Organization, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.orgs[code]
	if !ok {
		return domain.Organization{}, domain.ErrNotFound
	}
	return v, nil
}

func (o orgStore) Create(ctx context.Context, v domain.Organization) (domain.Organization, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orgs[v.Code] = v
	return v, nil
}

type submissionStore struct{ *store }

func (s submissionStore) Append(ctx context.Context, sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
	return sub, nil
}

func (s submissionStore) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Submission
	for i := len(s.subs) - 1; i >= 0; i-- {
		if s.subs[i].UserID == userID {
			out = append(out, s.subs[i])
		}
	}
	return out, nil
}

func (s submissionStore) ListByOrgBetween(ctx context.Context, orgCode string, from, to time.Time) ([]domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Submission
	for _, sub := range s.subs {
		if sub.OrgCode == orgCode && !sub.SubmitTime.Before(from) && sub.SubmitTime.Before(to) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s submissionStore) CountByOrg(ctx context.Context, orgCode string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, sub := range s.subs {
		if sub.OrgCode == orgCode {
			counts[sub.UserID]++
		}
	}
	return counts, nil
}

type keyStore struct{ *store }

func (k keyStore) GetActiveKey(ctx context.Context) (domain.SigningKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.key == nil {
		return domain.SigningKey{}, domain.ErrNotFound
	}
	return *k.key, nil
}

func (k keyStore) CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.key = &key
	return key, nil
}

type revocations struct {
	mu  sync.Mutex
	ids map[string]bool
}

func (r *revocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[tokenID] = true
	return nil
}

func (r *revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[tokenID], nil
}

type stubAssistant struct{}

func (stubAssistant) RequestFeedback(ctx context.Context, assistantID, prompt string) assistant.Result {
	return assistant.Result{Outcome: assistant.Succeeded, Text: "Well structured."}
}

func (stubAssistant) Transcribe(ctx context.Context, image []byte, contentType string) (string, error) {
	return "handwritten essay", nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	userHash, err := password.Hash("correct-horse")
	require.NoError(t, err)
	orgHash, err := password.Hash("org-secret")
	require.NoError(t, err)

	st := &store{
		users: map[string]domain.User{
			"alice": {
				ID: "alice", Email: "alice@example.com", PasswordHash: userHash,
				Affiliation: domain.Affiliation{University: "Kyoto University", Faculty: "Law"},
				OrgCode:     "TGF", RegisteredAt: time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC),
				Timezone: "Asia/Tokyo", Status: domain.StatusActive,
			},
		},
		orgs: map[string]domain.Organization{
			"TGF": {Code: "TGF", Name: "Tokyo Global Foundation", PasswordHash: orgHash, Timezone: "Asia/Tokyo", FullDashboard: true},
		},
	}
	clock := func() time.Time { return testNow }
	resolver := org.NewResolver(orgStore{st})
	issuer := session.NewIssuer(session.NewKeyManager(keyStore{st}), time.Hour, "tgf-scholar", clock)
	revoked := &revocations{ids: map[string]bool{}}
	logger := zap.NewNop()

	accounts := service.NewAccountService(st, resolver, issuer, revoked, nil, clock, logger)
	submissions := service.NewSubmissionService(st, submissionStore{st}, service.SubmissionOptions{
		Feedback:    stubAssistant{},
		Transcriber: stubAssistant{},
		AssistantID: "asst_feedback",
	}, clock, logger)
	assistants := service.NewAssistantService(st, stubAssistant{}, map[service.Persona]string{service.PersonaVocabulary: "asst_vocab"}, clock, logger)
	dashboard := service.NewDashboardService(st, submissionStore{st}, resolver, clock, logger)

	router := httptransport.NewRouter(config.Config{ServiceName: "scholar-test"}, httptransport.Handlers{
		Accounts:    handler.NewAccountHandler(accounts),
		Submissions: handler.NewSubmissionHandler(submissions, assistants, 1<<20),
		Dashboard:   handler.NewDashboardHandler(dashboard),
	}, &httpmiddleware.Auth{Issuer: issuer, Revocations: revoked, Logger: logger}, logger)
	return router, st
}

func do(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

type sessionBody struct {
	Session struct {
		Token string `json:"token"`
	} `json:"session"`
	User domain.SessionUser `json:"user"`
}

func login(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/auth/login", "", map[string]string{"user_id": "alice", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[sessionBody](t, w).Session.Token
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLoginAndProfile(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/auth/login", "", map[string]string{"user_id": "alice", "password": "correct-horse"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[sessionBody](t, w)
	require.Equal(t, 19, body.User.DaysRemaining)
	require.NotEmpty(t, body.Session.Token)

	w = do(t, r, http.MethodGet, "/me", body.Session.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "alice", decode[domain.SessionUser](t, w).ID)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	r, _ := newTestRouter(t)

	unknown := do(t, r, http.MethodPost, "/auth/login", "", map[string]string{"user_id": "bob", "password": "whatever"})
	wrong := do(t, r, http.MethodPost, "/auth/login", "", map[string]string{"user_id": "alice", "password": "whatever"})
	require.Equal(t, http.StatusUnauthorized, unknown.Code)
	require.Equal(t, unknown.Code, wrong.Code)
	require.JSONEq(t, unknown.Body.String(), wrong.Body.String())

	missing := do(t, r, http.MethodPost, "/auth/login", "", map[string]string{"user_id": "alice"})
	require.Equal(t, http.StatusBadRequest, missing.Code)
}

func TestRegisterStartsSession(t *testing.T) {
	r, st := newTestRouter(t)

	w := do(t, r, http.MethodPost, "/auth/register", "", map[string]string{
		"user_id": "carol", "email": "carol@example.com", "password": "long-enough",
		"university": "Kyoto University", "faculty": "Law", "org_code": "TGF",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode[sessionBody](t, w)
	require.Equal(t, 30, body.User.DaysRemaining)
	require.Equal(t, domain.StatusActive, st.users["carol"].Status)

	dup := do(t, r, http.MethodPost, "/auth/register", "", map[string]string{"user_id": "alice", "org_code": "NOPE"})
	require.Equal(t, http.StatusConflict, dup.Code)

	badID := do(t, r, http.MethodPost, "/auth/register", "", map[string]string{"user_id": "a b", "org_code": "TGF"})
	require.Equal(t, http.StatusBadRequest, badID.Code)
}

func TestEvaluateAndHistory(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := do(t, r, http.MethodPost, "/submissions", token, map[string]string{"text": "I want to study law."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, "Well structured.", decode[service.FeedbackResult](t, w).Feedback)

	w = do(t, r, http.MethodGet, "/submissions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Submissions []service.SubmissionView `json:"submissions"`
	}](t, w)
	require.Len(t, history.Submissions, 1)
	require.Equal(t, "2024-03-02 12:00", history.Submissions[0].LocalTime)
}

func TestTranscribeUpload(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "essay.png")
	require.NoError(t, err)
	_, _ = part.Write([]byte("\x89PNG\r\n\x1a\nfake"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/submissions/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "handwritten essay", decode[service.Transcription](t, w).Text)
}

func TestAsk(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := do(t, r, http.MethodPost, "/assistant/ask", token, map[string]string{"persona": "vocabulary", "message": "How do I start?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, r, http.MethodPost, "/assistant/ask", token, map[string]string{"persona": "poet", "message": "hi"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboardRequiresOrganizationSession(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/dashboard", login(t, r), nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = do(t, r, http.MethodGet, "/dashboard", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDashboard(t *testing.T) {
	r, _ := newTestRouter(t)
	userToken := login(t, r)
	w := do(t, r, http.MethodPost, "/submissions", userToken, map[string]string{"text": "essay"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, r, http.MethodPost, "/auth/organizations/login", "", map[string]string{"org_code": "TGF", "password": "org-secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	orgToken := decode[sessionBody](t, w).Session.Token

	w = do(t, r, http.MethodGet, "/dashboard?as_of=2024-03-02T05:00:00Z", orgToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	metrics := decode[service.DashboardMetrics](t, w)
	require.Equal(t, 1, metrics.ActiveUsers)
	require.NotNil(t, metrics.Activity)
	require.Equal(t, 1, metrics.Activity.TodaysSubmissions)
	require.Len(t, metrics.Activity.Trend, service.TrendDays)
	require.Equal(t, 1, metrics.Activity.Trend[service.TrendDays-1].Submissions)
	require.Equal(t, 1, metrics.Users[0].TotalSubmissions)

	w = do(t, r, http.MethodGet, "/dashboard?as_of=yesterday", orgToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, r, http.MethodGet, "/dashboard/users/alice/submissions?limit=1", orgToken, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[service.SubmissionPage](t, w)
	require.Len(t, page.Submissions, 1)
	require.Equal(t, 1, page.Limit)
	require.False(t, page.HasMore)

	w = do(t, r, http.MethodGet, "/dashboard/users/alice/submissions?limit=500", orgToken, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, r, http.MethodGet, "/dashboard/users/ghost/submissions", orgToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	w = do(t, r, http.MethodGet, "/dashboard/users/alice/submissions", userToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestLogoutRevokesSession(t *testing.T) {
	r, _ := newTestRouter(t)
	token := login(t, r)

	w := do(t, r, http.MethodPost, "/auth/logout", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, r, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateSettings(t *testing.T) {
	r, st := newTestRouter(t)
	token := login(t, r)

	w := do(t, r, http.MethodPatch, "/me/settings", token, map[string]string{"timezone": "Europe/Paris"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	next := decode[sessionBody](t, w)
	require.Equal(t, "Europe/Paris", next.User.Timezone)
	require.Equal(t, "Europe/Paris", st.users["alice"].Timezone)

	w = do(t, r, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(t, r, http.MethodGet, "/me", next.Session.Token, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCatalogAndUnknownRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/organizations/TGF/catalog", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/nowhere", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
