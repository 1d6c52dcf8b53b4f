package scan

import (
	"context"
	"fmt"

	"github.com/drydock-dev/drydock/internal/domain"
)

// Gate policies.
const (
	PolicyStrict     = "strict"
	PolicyBalanced   = "balanced"
	PolicyPermissive = "permissive"
)

// Gate turns a scan result into an approve/warn/reject decision. The
// pipeline only proceeds on approve.
type Gate interface {
	Decide(ctx context.Context, result domain.ScanResult, policy string) domain.GateDecision
}

// RuleGate applies fixed severity thresholds per policy. It is one of a
// closed set of gate implementations selected by configuration at
// construction time.
type RuleGate struct{}

// NewRuleGate constructs a RuleGate.
func NewRuleGate() *RuleGate {
	return &RuleGate{}
}

// Decide applies the named policy; unknown policies fall back to strict.
func (g *RuleGate) Decide(_ context.Context, result domain.ScanResult, policy string) domain.GateDecision {
	switch policy {
	case PolicyBalanced:
		return decideBalanced(result)
	case PolicyPermissive:
		return decidePermissive(result)
	default:
		policy = PolicyStrict
	}
	return decideStrict(result)
}

func decideStrict(r domain.ScanResult) domain.GateDecision {
	d := domain.GateDecision{Policy: PolicyStrict}
	switch {
	case r.Critical > 0:
		d.Decision = domain.DecisionReject
		d.Reasoning = fmt.Sprintf("%d critical vulnerabilities; strict policy rejects any critical finding", r.Critical)
	case r.High > 0:
		d.Decision = domain.DecisionWarn
		d.Reasoning = fmt.Sprintf("%d high-severity vulnerabilities require review under strict policy", r.High)
	default:
		d.Decision = domain.DecisionApprove
		d.Reasoning = "no critical or high findings"
	}
	return d
}

func decideBalanced(r domain.ScanResult) domain.GateDecision {
	d := domain.GateDecision{Policy: PolicyBalanced}
	switch {
	case r.Critical > 0:
		d.Decision = domain.DecisionReject
		d.Reasoning = fmt.Sprintf("%d critical vulnerabilities", r.Critical)
	case r.High > 5:
		d.Decision = domain.DecisionWarn
		d.Reasoning = fmt.Sprintf("%d high-severity vulnerabilities exceed the balanced threshold of 5", r.High)
	default:
		d.Decision = domain.DecisionApprove
		d.Reasoning = "findings within balanced policy limits"
	}
	return d
}

func decidePermissive(r domain.ScanResult) domain.GateDecision {
	d := domain.GateDecision{Policy: PolicyPermissive}
	if r.Critical > 3 {
		d.Decision = domain.DecisionReject
		d.Reasoning = fmt.Sprintf("%d critical vulnerabilities exceed the permissive threshold of 3", r.Critical)
		return d
	}
	d.Decision = domain.DecisionApprove
	d.Reasoning = "findings within permissive policy limits"
	return d
}
