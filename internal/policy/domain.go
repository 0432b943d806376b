// Package policy implements the decision engine at the core of the PDP.
package policy

import "time"

// Effect is the outcome of an evaluation.
type Effect string

// Decision effects.
const (
	EffectPermit Effect = "PERMIT"
	EffectDeny   Effect = "DENY"
)

// Reason codes attached to decisions.
const (
	ReasonPermitted        = "PERMITTED"
	ReasonSuperRole        = "SUPER_ROLE_BYPASS"
	ReasonPermissionDenied = "PERMISSION_DENIED"
	ReasonTenantMismatch   = "TENANT_MISMATCH"
	ReasonEvaluationError  = "EVALUATION_ERROR"
)

// Request is one resource/action check.
type Request struct {
	Resource string         `json:"resource" validate:"required"`
	Action   string         `json:"action" validate:"required"`
	Context  map[string]any `json:"context,omitempty"`
}

// PermissionCode is the natural key callers check against permission sets.
func (r Request) PermissionCode() string {
	return r.Resource + ":" + r.Action
}

// Decision is the immutable result of one evaluation.
type Decision struct {
	Effect        Effect    `json:"decision"`
	Reason        string    `json:"reason"`
	User          string    `json:"user,omitempty"`
	TenantID      string    `json:"tenantId,omitempty"`
	Resource      string    `json:"resource"`
	Action        string    `json:"action"`
	CorrelationID string    `json:"correlationId"`
	PolicyVersion int64     `json:"policyVersion"`
	Timestamp     time.Time `json:"timestamp"`

	// Diagnostic detail for callers, populated outside production only, to
	// avoid leaking privilege topology.
	Required []string `json:"required,omitempty"`
	Held     []string `json:"held,omitempty"`
}

// Permitted reports whether the decision is a PERMIT.
func (d Decision) Permitted() bool {
	return d.Effect == EffectPermit
}
