package scan

import (
	"context"
	"testing"

	"github.com/drydock-dev/drydock/internal/domain"
)

func TestRuleGateDecisions(t *testing.T) {
	gate := NewRuleGate()

	cases := []struct {
		name   string
		result domain.ScanResult
		policy string
		want   string
	}{
		{"strict clean", domain.ScanResult{Low: 4}, PolicyStrict, domain.DecisionApprove},
		{"strict single critical rejects", domain.ScanResult{Critical: 1}, PolicyStrict, domain.DecisionReject},
		{"strict high warns", domain.ScanResult{High: 1}, PolicyStrict, domain.DecisionWarn},
		{"balanced critical rejects", domain.ScanResult{Critical: 1, High: 2}, PolicyBalanced, domain.DecisionReject},
		{"balanced few highs approve", domain.ScanResult{High: 5}, PolicyBalanced, domain.DecisionApprove},
		{"balanced many highs warn", domain.ScanResult{High: 6}, PolicyBalanced, domain.DecisionWarn},
		{"permissive few criticals approve", domain.ScanResult{Critical: 3, High: 20}, PolicyPermissive, domain.DecisionApprove},
		{"permissive many criticals reject", domain.ScanResult{Critical: 4}, PolicyPermissive, domain.DecisionReject},
		{"unknown policy falls back to strict", domain.ScanResult{Critical: 1}, "yolo", domain.DecisionReject},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := gate.Decide(context.Background(), tc.result, tc.policy)
			if d.Decision != tc.want {
				t.Fatalf("expected %q, got %q (%s)", tc.want, d.Decision, d.Reasoning)
			}
			if d.Reasoning == "" {
				t.Fatalf("every decision must carry reasoning")
			}
			if tc.want == domain.DecisionApprove && !d.Approved() {
				t.Fatalf("Approved() must be true for approve")
			}
			if tc.want != domain.DecisionApprove && d.Approved() {
				t.Fatalf("Approved() must be false for %q", tc.want)
			}
		})
	}
}

func TestRuleGateUnknownPolicyReportsStrict(t *testing.T) {
	gate := NewRuleGate()
	d := gate.Decide(context.Background(), domain.ScanResult{}, "nonsense")
	if d.Policy != PolicyStrict {
		t.Fatalf("unknown policy must report strict, got %q", d.Policy)
	}
}
