package domain

import "time"

// Pipeline phases, in execution order. PhaseFailed is reachable from any
// phase; once PhaseFailed or PhaseSucceeded is recorded no further
// transitions occur.
const (
	PhasePending      = "pending"
	PhaseValidating   = "validating"
	PhaseClone        = "clone"
	PhaseSecurityScan = "security_scan"
	PhaseBuild        = "build"
	PhaseDeploy       = "deploy"
	PhaseSucceeded    = "succeeded"
	PhaseFailed       = "failed"
)

// PhaseResult summarizes one completed pipeline phase.
type PhaseResult struct {
	Phase    string
	Success  bool
	Detail   string
	Duration time.Duration
}

// PipelineRun is one end-to-end execution of the deployment pipeline.
type PipelineRun struct {
	ID       string
	RepoURL  string
	Host     string
	Workload string
	Port     int

	Phase       string
	History     []PhaseResult
	FailedPhase string
	Error       string

	CommitSHA string
	Image     string

	RollbackPerformed bool
	Attempt           *DeploymentAttempt

	StartedAt   time.Time
	CompletedAt *time.Time
	Duration    time.Duration
}

// Finished reports whether the run has reached a terminal phase.
func (r *PipelineRun) Finished() bool {
	return r.Phase == PhaseSucceeded || r.Phase == PhaseFailed
}

// ScanResult holds severity counts reported by the vulnerability scanner.
type ScanResult struct {
	Critical int
	High     int
	Medium   int
	Low      int
	Total    int
}

// Decision values produced by the security gate.
const (
	DecisionApprove = "approve"
	DecisionWarn    = "warn"
	DecisionReject  = "reject"
)

// GateDecision is the security gate's verdict over a scan result.
type GateDecision struct {
	Decision  string
	Policy    string
	Reasoning string
}

// Approved reports whether the pipeline may continue past the gate.
func (d GateDecision) Approved() bool {
	return d.Decision == DecisionApprove
}

// BuildResult is the image builder's outcome.
type BuildResult struct {
	Success bool
	ImageID string
	Tag     string
	SizeMB  float64
}

// Event is a lifecycle notification published to the event sink. Publishing
// is fire-and-forget and never affects pipeline control flow.
type Event struct {
	RunID      string         `json:"run_id"`
	Phase      string         `json:"phase"`
	Type       string         `json:"type"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}
