package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/openledger/payline/internal/apikey/domain"
	"github.com/openledger/payline/internal/auditcontext"
	"github.com/openledger/payline/internal/orgcontext"
)

type contextKey string

const (
	contextAuthTypeKey contextKey = "auth_type"
	contextOrgIDKey    contextKey = "org_id"
	contextAPIKeyIDKey contextKey = "api_key_id"
)

// APIKeyRequired authenticates requests using an API key only.
// Organization identity is derived solely from the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if requestHasOrgID(c) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		keyID, secret, ok := apikeydomain.SplitKey(parts[1])
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		record, err := s.apiKeyRepo.FindByKeyID(c.Request.Context(), s.db, keyID)
		if err != nil {
			if errors.Is(err, apikeydomain.ErrKeyNotFound) {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			AbortWithError(c, err)
			return
		}

		now := time.Now().UTC()
		if !record.IsActive || (record.ExpiresAt != nil && !record.ExpiresAt.After(now)) {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !apikeydomain.VerifySecret(secret, record.SecretHash) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		_ = s.apiKeyRepo.TouchLastUsed(c.Request.Context(), s.db, record.ID)

		ctx := c.Request.Context()
		ctx = context.WithValue(ctx, contextAuthTypeKey, "api_key")
		ctx = context.WithValue(ctx, contextOrgIDKey, int64(record.OrgID))
		ctx = context.WithValue(ctx, contextAPIKeyIDKey, int64(record.ID))
		ctx = orgcontext.WithOrgID(ctx, int64(record.OrgID))
		ctx = auditcontext.WithActor(ctx, "api_key", record.ID.String())

		c.Set(string(contextOrgIDKey), int64(record.OrgID))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AuthTypeFromContext reports how the request was authenticated.
func AuthTypeFromContext(ctx context.Context) string {
	value, _ := ctx.Value(contextAuthTypeKey).(string)
	return value
}

// APIKeyIDFromContext returns the authenticated key's ID, if any.
func APIKeyIDFromContext(ctx context.Context) (int64, bool) {
	value, ok := ctx.Value(contextAPIKeyIDKey).(int64)
	return value, ok
}

func requestHasOrgID(c *gin.Context) bool {
	if strings.TrimSpace(c.GetHeader(HeaderOrg)) != "" {
		return true
	}
	if value, ok := c.GetQuery("org_id"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	if value, ok := c.GetQuery("orgId"); ok && strings.TrimSpace(value) != "" {
		return true
	}
	return false
}
