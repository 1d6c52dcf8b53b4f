package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/internal/remote"
)

// Scan types accepted by the scanner.
const (
	TypeFilesystem = "fs"
	TypeImage      = "image"
)

const scanTimeout = 300 * time.Second

// Scanner produces severity counts for a filesystem path or image reference.
type Scanner interface {
	Scan(ctx context.Context, target, scanType string) (domain.ScanResult, error)
}

// TrivyScanner shells out to trivy through an executor and parses its JSON
// report into severity counts.
type TrivyScanner struct {
	exec   remote.Executor
	host   string
	logger *slog.Logger
}

// NewTrivyScanner constructs a scanner running trivy on host (empty for the
// local executor).
func NewTrivyScanner(exec remote.Executor, host string, logger *slog.Logger) *TrivyScanner {
	if logger != nil {
		logger = logger.With("component", "scan")
	}
	return &TrivyScanner{exec: exec, host: host, logger: logger}
}

// Scan runs trivy against target and aggregates vulnerability counts.
func (s *TrivyScanner) Scan(ctx context.Context, target, scanType string) (domain.ScanResult, error) {
	if strings.TrimSpace(target) == "" {
		return domain.ScanResult{}, fmt.Errorf("scan target cannot be empty")
	}
	mode := "fs"
	if scanType == TypeImage {
		mode = "image"
	}
	cmd := fmt.Sprintf("trivy %s --quiet --format json %s", mode, shellQuote(target))
	res, err := s.exec.Run(ctx, s.host, cmd, scanTimeout)
	if err != nil {
		return domain.ScanResult{}, fmt.Errorf("run trivy: %w", err)
	}
	if !res.Ok() {
		return domain.ScanResult{}, fmt.Errorf("trivy exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	counts, err := parseReport([]byte(res.Stdout))
	if err != nil {
		return domain.ScanResult{}, err
	}
	if s.logger != nil {
		s.logger.Info("scan complete", "target", target, "critical", counts.Critical, "high", counts.High, "medium", counts.Medium, "low", counts.Low)
	}
	return counts, nil
}

type trivyReport struct {
	Results []struct {
		Vulnerabilities []struct {
			Severity string `json:"Severity"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func parseReport(raw []byte) (domain.ScanResult, error) {
	var report trivyReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return domain.ScanResult{}, fmt.Errorf("parse scan report: %w", err)
	}
	var counts domain.ScanResult
	for _, result := range report.Results {
		for _, vuln := range result.Vulnerabilities {
			switch strings.ToUpper(vuln.Severity) {
			case "CRITICAL":
				counts.Critical++
			case "HIGH":
				counts.High++
			case "MEDIUM":
				counts.Medium++
			case "LOW":
				counts.Low++
			}
			counts.Total++
		}
	}
	return counts, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
