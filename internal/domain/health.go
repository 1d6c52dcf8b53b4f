package domain

import "time"

// Health check kinds.
const (
	CheckHTTP    = "http"
	CheckTCP     = "tcp"
	CheckCommand = "command"
)

// HealthCheckResult is the outcome of a single probe. Exactly one of
// StatusCode and ExitCode is populated depending on Kind.
type HealthCheckResult struct {
	Kind        string
	Healthy     bool
	StatusCode  *int
	ExitCode    *int
	LatencyMS   *float64
	Error       string
	Attempt     int
	MaxAttempts int
	CheckedAt   time.Time
}

// AggregatedHealthVerdict is the judgment over a continuous sampling window.
// Healthy holds iff PassRate reached the configured threshold and the
// workload was observed running for the whole window.
type AggregatedHealthVerdict struct {
	Samples        int
	Passed         int
	PassRate       float64
	Healthy        bool
	ShortCircuited bool
	Reason         string
	LastResult     *HealthCheckResult
}
