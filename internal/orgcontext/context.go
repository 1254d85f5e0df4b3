package orgcontext

import "context"

type contextKey string

const orgIDKey contextKey = "org_id"

// WithOrgID stores the authenticated organization on the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	if orgID == 0 {
		return ctx
	}
	return context.WithValue(ctx, orgIDKey, orgID)
}

// OrgIDFromContext returns the authenticated organization, if any.
func OrgIDFromContext(ctx context.Context) (int64, bool) {
	value, ok := ctx.Value(orgIDKey).(int64)
	return value, ok
}
