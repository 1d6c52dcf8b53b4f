package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// Deployment strategies. Rolling is the only strategy the engine ships.
const StrategyRolling = "rolling"

var (
	repoURLPattern  = regexp.MustCompile(`^(https?://|git@|ssh://)[\w.~:/@-]+$`)
	hostPattern     = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9.-]{0,251}[a-zA-Z0-9])?$`)
	workloadPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)
)

// ValidationError reports malformed pipeline input. Detected before any
// external call and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validateRequest(req Request) error {
	if !repoURLPattern.MatchString(strings.TrimSpace(req.RepoURL)) {
		return &ValidationError{Field: "repo_url", Reason: "must be an http(s), ssh or git@ repository URL"}
	}
	if !hostPattern.MatchString(strings.TrimSpace(req.Host)) {
		return &ValidationError{Field: "host", Reason: "must be a hostname or IP address"}
	}
	if !workloadPattern.MatchString(req.Workload) {
		return &ValidationError{Field: "workload", Reason: "must be lowercase alphanumeric with ._- separators"}
	}
	if req.Port <= 0 || req.Port > 65535 {
		return &ValidationError{Field: "port", Reason: fmt.Sprintf("%d outside range 1-65535", req.Port)}
	}
	if req.Strategy != "" && req.Strategy != StrategyRolling {
		return &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", req.Strategy)}
	}
	if req.HealthPath != "" && (!strings.HasPrefix(req.HealthPath, "/") || strings.ContainsAny(req.HealthPath, " \t")) {
		return &ValidationError{Field: "health_path", Reason: "must start with / and contain no whitespace"}
	}
	return nil
}
