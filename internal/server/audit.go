package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/openledger/payline/internal/audit/domain"
	"github.com/openledger/payline/internal/authorization"
)

// ListAuditLogs returns the org's recent audit entries, newest first.
func (s *Server) ListAuditLogs(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeActor(c, authorization.ObjectAuditLog, authorization.ActionAuditRead); err != nil {
		AbortWithError(c, err)
		return
	}

	var query struct {
		Action     string `form:"action"`
		TargetType string `form:"target_type"`
		TargetID   string `form:"target_id"`
		Limit      int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	entries, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     strings.TrimSpace(query.Action),
		TargetType: strings.TrimSpace(query.TargetType),
		TargetID:   strings.TrimSpace(query.TargetID),
		Limit:      query.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
