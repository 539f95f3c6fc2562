package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/http/handler"
	"github.com/bigkaiyoh/TGF-Scholar/internal/http/middleware"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

func orgContext(t *testing.T, target string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	middleware.SetSession(c, session.Session{
		Kind:    session.KindOrganization,
		Subject: "TGF",
		Org:     &domain.SessionOrg{Code: "TGF", Timezone: "Asia/Tokyo", FullDashboard: true},
	})
	return c, w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestDashboardRejectsInvalidAsOf(t *testing.T) {
	h := handler.NewDashboardHandler(nil)

	for _, asOf := range []string{"yesterday", "2024-03-02", "2024-03-02T05:00:00"} {
		c, w := orgContext(t, "/dashboard?as_of="+asOf)
		h.Dashboard(c)
		require.Equal(t, http.StatusBadRequest, w.Code, asOf)
		body := errorBody(t, w)
		require.Equal(t, "invalid_request", body["error"])
		require.Contains(t, body["error_description"], "as_of")
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := handler.NewDashboardHandler(nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/dashboard", nil)

	h.Dashboard(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserSubmissionsRejectsBadPaging(t *testing.T) {
	require.NoError(t, handler.RegisterValidators())
	h := handler.NewDashboardHandler(nil)

	for _, query := range []string{"limit=500", "offset=-1", "limit=ten"} {
		c, w := orgContext(t, "/dashboard/users/alice/submissions?"+query)
		c.Params = gin.Params{{Key: "id", Value: "alice"}}
		h.UserSubmissions(c)
		require.Equal(t, http.StatusBadRequest, w.Code, query)
		require.Equal(t, "invalid_request", errorBody(t, w)["error"])
	}
}
