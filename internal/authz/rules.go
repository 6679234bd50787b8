package authz

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meridian-hq/meridian/internal/rbac"
)

// Effect is the outcome a custom rule produces when all conditions match.
type Effect string

// Rule effects.
const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Operator compares a condition operand against an evaluation input.
type Operator int

// Condition operators.
const (
	OpEquals Operator = iota
	OpNotEquals
	OpIn
	OpNotIn
	OpContains
	OpStartsWith
	OpGreaterThan
	OpLessThan
)

var operatorNames = map[Operator]string{
	OpEquals:      "equals",
	OpNotEquals:   "not_equals",
	OpIn:          "in",
	OpNotIn:       "not_in",
	OpContains:    "contains",
	OpStartsWith:  "starts_with",
	OpGreaterThan: "greater_than",
	OpLessThan:    "less_than",
}

// String returns the wire name of the operator.
func (o Operator) String() string {
	if name, ok := operatorNames[o]; ok {
		return name
	}
	return "unknown"
}

// ParseOperator maps a wire name back to an operator.
func ParseOperator(name string) (Operator, error) {
	for op, n := range operatorNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("authz: unknown operator %q", name)
}

// MarshalJSON encodes the operator as its wire name.
func (o Operator) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an operator from its wire name.
func (o *Operator) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	op, err := ParseOperator(name)
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Inputs carries the evaluation state custom rule conditions match against.
type Inputs struct {
	Permission string
	Roles      []rbac.RoleName
	TenantID   string
	Action     string
	Resource   string
}

// Condition is one predicate of a custom rule. The condition kinds form a
// closed set, each carrying its own typed operand; there is no field-name
// string dispatch.
type Condition interface {
	Match(in Inputs) bool
}

// PermissionCondition matches against the permission name under evaluation.
type PermissionCondition struct {
	Op     Operator
	Value  string
	Values []string // operand for OpIn / OpNotIn
}

// Match implements Condition.
func (c PermissionCondition) Match(in Inputs) bool {
	return matchScalar(c.Op, in.Permission, c.Value, c.Values)
}

// TenantCondition matches against the context tenant id.
type TenantCondition struct {
	Op     Operator
	Value  string
	Values []string
}

// Match implements Condition.
func (c TenantCondition) Match(in Inputs) bool {
	return matchScalar(c.Op, in.TenantID, c.Value, c.Values)
}

// ActionCondition matches against the context action.
type ActionCondition struct {
	Op     Operator
	Value  string
	Values []string
}

// Match implements Condition.
func (c ActionCondition) Match(in Inputs) bool {
	return matchScalar(c.Op, in.Action, c.Value, c.Values)
}

// ResourceCondition matches against the context resource name.
type ResourceCondition struct {
	Op     Operator
	Value  string
	Values []string
}

// Match implements Condition.
func (c ResourceCondition) Match(in Inputs) bool {
	return matchScalar(c.Op, in.Resource, c.Value, c.Values)
}

// RoleCondition matches against the user's role list. OpContains requires the
// role to be held, OpNotIn requires it to be absent; other operators do not
// apply to list inputs and never match.
type RoleCondition struct {
	Op   Operator
	Role rbac.RoleName
}

// Match implements Condition.
func (c RoleCondition) Match(in Inputs) bool {
	held := false
	for _, r := range in.Roles {
		if r == c.Role {
			held = true
			break
		}
	}
	switch c.Op {
	case OpContains:
		return held
	case OpNotIn:
		return !held
	}
	return false
}

func matchScalar(op Operator, got, want string, wants []string) bool {
	switch op {
	case OpEquals:
		return got == want
	case OpNotEquals:
		return got != want
	case OpIn:
		for _, w := range wants {
			if got == w {
				return true
			}
		}
		return false
	case OpNotIn:
		for _, w := range wants {
			if got == w {
				return false
			}
		}
		return true
	case OpContains:
		return strings.Contains(got, want)
	case OpStartsWith:
		return strings.HasPrefix(got, want)
	case OpGreaterThan:
		return got > want
	case OpLessThan:
		return got < want
	}
	return false
}

// Rule is a caller-registered permission rule. Rules are evaluated in
// priority order (highest first) after explicit and contextual grants; the
// first rule whose every condition matches determines the outcome.
type Rule struct {
	ID          string
	Name        string
	Description string
	Conditions  []Condition
	Effect      Effect
	Priority    int
}

func (r Rule) matches(in Inputs) bool {
	if len(r.Conditions) == 0 {
		return false
	}
	for _, c := range r.Conditions {
		if !c.Match(in) {
			return false
		}
	}
	return true
}
