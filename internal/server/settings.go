package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/openledger/payline/internal/auditcontext"
	"github.com/openledger/payline/internal/authorization"
	settingsdomain "github.com/openledger/payline/internal/settings/domain"
)

type autopaySettingsResponse struct {
	OrgID        string `json:"org_id"`
	DelayDays    int    `json:"delay_days"`
	RetryOffsets []int  `json:"retry_offsets"`
}

func (s *Server) GetAutopaySettings(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	settings, err := s.settingsSvc.Get(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := toSettingsResponse(settings)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateAutopaySettings(c *gin.Context) {
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.authorizeActor(c, authorization.ObjectSettings, authorization.ActionSettingsUpdate); err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		DelayDays    int       `json:"delay_days"`
		RetryOffsets []float64 `json:"retry_offsets"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	settings, err := s.settingsSvc.Update(c.Request.Context(), orgID, req.DelayDays, req.RetryOffsets)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := orgID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), &orgID, "", nil,
			"settings.autopay.update", "autopay_settings", &targetID, map[string]any{
				"delay_days":    settings.DelayDays,
				"retry_offsets": req.RetryOffsets,
			})
	}

	resp, err := toSettingsResponse(settings)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// authorizeActor enforces role policy for the authenticated request actor.
// Users map through org membership; API keys act under the role stored on
// the key record.
func (s *Server) authorizeActor(c *gin.Context, object, action string) error {
	actorType, actorID := auditcontext.ActorFromContext(c.Request.Context())
	if actorID == "" {
		return ErrUnauthorized
	}
	var subject string
	switch actorType {
	case "user":
		subject = "user:" + actorID
	case "api_key":
		subject = "api_key:" + actorID
	default:
		return ErrUnauthorized
	}
	orgID, err := s.orgIDFromRequest(c)
	if err != nil {
		return err
	}
	return s.authzSvc.Authorize(c.Request.Context(), subject, orgID.String(), object, action)
}

func toSettingsResponse(settings *settingsdomain.AutopaySettings) (autopaySettingsResponse, error) {
	offsets, err := settings.Offsets()
	if err != nil {
		return autopaySettingsResponse{}, err
	}
	if offsets == nil {
		offsets = []int{}
	}
	return autopaySettingsResponse{
		OrgID:        settings.OrgID.String(),
		DelayDays:    settings.DelayDays,
		RetryOffsets: offsets,
	}, nil
}
