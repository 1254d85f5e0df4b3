package authorization

import (
	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

// Role-to-capability policy is code-defined and synced into the casbin store
// on startup; organization membership rows supply the user-to-role mapping.
const modelText = `
[request_definition]
r = sub, dom, obj, act

[policy_definition]
p = sub, dom, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = (r.sub == p.sub || p.sub == "*") && (r.dom == p.dom || p.dom == "*") && (r.obj == p.obj || p.obj == "*") && (r.act == p.act || p.act == "*")
`

var rolePolicies = [][]string{
	{RoleAdmin, "*", "*", "*"},
	{RoleMember, "*", ObjectPayment, ActionPaymentApply},
	{RoleMember, "*", ObjectAuditLog, ActionAuditRead},
}

// NewEnforcer builds a casbin enforcer backed by the casbin_rule table and
// seeds the built-in role policies.
func NewEnforcer(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDBUseTableName(db, "", "casbin_rule")
	if err != nil {
		return nil, err
	}

	model, err := casbinmodel.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	enforcer, err := casbin.NewEnforcer(model, adapter)
	if err != nil {
		return nil, err
	}

	for _, policy := range rolePolicies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2], policy[3]); err != nil {
			return nil, err
		}
	}
	return enforcer, nil
}
