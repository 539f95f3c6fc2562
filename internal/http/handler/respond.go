package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/http/middleware"
	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

func respondError(c *gin.Context, err error) {
	svcErr := service.AsError(err)
	if svcErr.Status >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	middleware.SetErrorCode(c, svcErr.Code)
	c.JSON(svcErr.Status, gin.H{"error": svcErr.Code, "error_description": svcErr.Description})
}

func badRequest(c *gin.Context, desc string) {
	middleware.SetErrorCode(c, service.CodeInvalidRequest)
	c.JSON(http.StatusBadRequest, gin.H{"error": service.CodeInvalidRequest, "error_description": desc})
}

// bindJSON binds and validates the body, answering 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, describeBindError(err))
		return false
	}
	return true
}

func requireSession(c *gin.Context) (session.Session, bool) {
	sess, ok := middleware.GetSession(c)
	if !ok {
		middleware.SetErrorCode(c, "invalid_token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Session required."})
		return session.Session{}, false
	}
	return sess, true
}
