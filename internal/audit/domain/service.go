package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service records and queries immutable audit entries.
type Service interface {
	AuditLog(
		ctx context.Context,
		orgID *snowflake.ID,
		actorType string,
		actorID *string,
		action string,
		targetType string,
		targetID *string,
		metadata map[string]any,
	) error
	List(ctx context.Context, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrMissingAction     = errors.New("missing_action")
	ErrMissingTargetType = errors.New("missing_target_type")
)
