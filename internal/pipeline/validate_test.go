package pipeline

import (
	"errors"
	"testing"
)

func TestValidateRequest(t *testing.T) {
	valid := Request{
		RepoURL:  "https://github.com/acme/shop-api.git",
		Host:     "node-1.internal",
		Workload: "shop-api",
		Port:     8080,
	}

	cases := []struct {
		name      string
		mutate    func(r *Request)
		wantField string
	}{
		{"valid https", func(r *Request) {}, ""},
		{"valid ssh", func(r *Request) { r.RepoURL = "git@github.com:acme/shop-api.git" }, ""},
		{"valid with strategy", func(r *Request) { r.Strategy = StrategyRolling }, ""},
		{"valid with health path", func(r *Request) { r.HealthPath = "/healthz" }, ""},
		{"empty repo url", func(r *Request) { r.RepoURL = "" }, "repo_url"},
		{"bad repo scheme", func(r *Request) { r.RepoURL = "ftp://example.com/repo" }, "repo_url"},
		{"repo url with spaces", func(r *Request) { r.RepoURL = "https://github.com/a b" }, "repo_url"},
		{"empty host", func(r *Request) { r.Host = "" }, "host"},
		{"host with slash", func(r *Request) { r.Host = "node/1" }, "host"},
		{"empty workload", func(r *Request) { r.Workload = "" }, "workload"},
		{"uppercase workload", func(r *Request) { r.Workload = "Shop-API" }, "workload"},
		{"workload leading dash", func(r *Request) { r.Workload = "-api" }, "workload"},
		{"port zero", func(r *Request) { r.Port = 0 }, "port"},
		{"port negative", func(r *Request) { r.Port = -1 }, "port"},
		{"port too large", func(r *Request) { r.Port = 65536 }, "port"},
		{"unknown strategy", func(r *Request) { r.Strategy = "blue-green" }, "strategy"},
		{"health path without slash", func(r *Request) { r.HealthPath = "healthz" }, "health_path"},
		{"health path with space", func(r *Request) { r.HealthPath = "/health z" }, "health_path"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			err := validateRequest(req)
			if tc.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.wantField {
				t.Fatalf("expected field %q, got %q (%s)", tc.wantField, verr.Field, verr.Reason)
			}
		})
	}
}
