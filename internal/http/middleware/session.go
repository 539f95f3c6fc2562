package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

const sessionKey = "session"

// RevocationChecker reports whether a session token id was revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Auth validates the Authorization header and attaches the session.
type Auth struct {
	Issuer      *session.Issuer
	Revocations RevocationChecker
	Logger      *zap.Logger
}

// RequireUser admits student sessions only.
func (m *Auth) RequireUser(c *gin.Context) {
	m.require(c, session.KindUser)
}

// RequireOrganization admits organization sessions only.
func (m *Auth) RequireOrganization(c *gin.Context) {
	m.require(c, session.KindOrganization)
}

// RequireAny admits any valid session.
func (m *Auth) RequireAny(c *gin.Context) {
	m.require(c, "")
}

func (m *Auth) require(c *gin.Context, kind session.Kind) {
	header := c.GetHeader("Authorization")
	if header == "" {
		abort(c, http.StatusUnauthorized, "invalid_token", "Authorization header required.")
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		abort(c, http.StatusUnauthorized, "invalid_token", "Bearer token required.")
		return
	}

	sess, err := m.Issuer.Parse(c.Request.Context(), strings.TrimSpace(parts[1]))
	if err != nil {
		abort(c, http.StatusUnauthorized, "invalid_token", "Invalid session token.")
		return
	}

	if m.Revocations != nil {
		revoked, err := m.Revocations.IsRevoked(c.Request.Context(), sess.ID)
		if err != nil {
			m.log().Warn("revocation lookup failed", zap.String("subject", sess.Subject), zap.Error(err))
		}
		if revoked {
			abort(c, http.StatusUnauthorized, "invalid_token", "Session has ended.")
			return
		}
	}

	if kind != "" && sess.Kind != kind {
		abort(c, http.StatusForbidden, "forbidden", "This session cannot access the resource.")
		return
	}

	c.Set(sessionKey, sess)
	c.Next()
}

func (m *Auth) log() *zap.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return zap.L()
}

// GetSession returns the session attached by the Auth middleware.
func GetSession(c *gin.Context) (session.Session, bool) {
	value, ok := c.Get(sessionKey)
	if !ok {
		return session.Session{}, false
	}
	sess, ok := value.(session.Session)
	return sess, ok
}

// SetSession attaches sess to the request. It is used by tests and by
// middleware that authenticates by other means.
func SetSession(c *gin.Context, sess session.Session) {
	c.Set(sessionKey, sess)
}

func abort(c *gin.Context, status int, code, desc string) {
	SetErrorCode(c, code)
	c.AbortWithStatusJSON(status, gin.H{"error": code, "error_description": desc})
}
