package authorization

import (
	"context"
	"strings"

	"github.com/casbin/casbin/v2"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"

	// SystemActor bypasses membership checks; background workers use it.
	SystemActor = "system"
)

const (
	ObjectPayment  = "payment"
	ObjectInvoice  = "invoice"
	ObjectSettings = "settings"
	ObjectAuditLog = "audit"
)

const (
	ActionPaymentApply   = "payment.apply"
	ActionInvoiceCharge  = "invoice.charge"
	ActionSettingsUpdate = "settings.update"
	ActionAuditRead      = "audit.read"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.Enforcer
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.Enforcer
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor string, orgID string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	orgID = strings.TrimSpace(orgID)
	if orgID == "" {
		return ErrInvalidOrganization
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	if actor == SystemActor {
		return nil
	}

	role, err := s.actorRole(ctx, actor, orgID)
	if err != nil {
		return err
	}
	if role == "" {
		return ErrForbidden
	}

	allowed, err := s.enforcer.Enforce(role, orgID, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("actor", actor),
			zap.String("org_id", orgID),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// actorRole resolves the actor's role inside the organization. Users map
// through membership rows; API keys carry their role on the key record.
func (s *ServiceImpl) actorRole(ctx context.Context, actor, orgID string) (string, error) {
	if userID, ok := strings.CutPrefix(actor, "user:"); ok {
		if userID == "" {
			return "", ErrInvalidActor
		}
		return s.memberRole(ctx, orgID, userID)
	}
	if keyID, ok := strings.CutPrefix(actor, "api_key:"); ok {
		if keyID == "" {
			return "", ErrInvalidActor
		}
		return s.keyRole(ctx, orgID, keyID)
	}
	return "", ErrInvalidActor
}

func (s *ServiceImpl) memberRole(ctx context.Context, orgID, userID string) (string, error) {
	var role string
	err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM organization_members
		 WHERE org_id = ? AND user_id = ?
		 LIMIT 1`,
		orgID,
		userID,
	).Scan(&role).Error
	if err != nil {
		return "", err
	}
	return role, nil
}

func (s *ServiceImpl) keyRole(ctx context.Context, orgID, keyID string) (string, error) {
	var role string
	err := s.db.WithContext(ctx).Raw(
		`SELECT role
		 FROM api_keys
		 WHERE id = ? AND org_id = ? AND is_active
		 LIMIT 1`,
		keyID,
		orgID,
	).Scan(&role).Error
	if err != nil {
		return "", err
	}
	return role, nil
}
