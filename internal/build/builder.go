package build

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"

	"github.com/drydock-dev/drydock/internal/domain"
)

// Builder produces container images from checked-out source directories.
type Builder struct {
	client  *Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(client *Client, timeout time.Duration, logger *slog.Logger) *Builder {
	if timeout <= 0 {
		timeout = 900 * time.Second
	}
	if logger != nil {
		logger = logger.With("component", "build")
	}
	return &Builder{client: client, timeout: timeout, logger: logger}
}

// Build creates an image tagged tag from workDir and reports its identifier
// and size. Build output lines are logged at debug level.
func (b *Builder) Build(ctx context.Context, workDir, tag string) (domain.BuildResult, error) {
	if workDir == "" {
		return domain.BuildResult{}, fmt.Errorf("build directory cannot be empty")
	}
	if tag == "" {
		return domain.BuildResult{}, fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(workDir, &archive.TarOptions{})
	if err != nil {
		return domain.BuildResult{}, fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	runCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := b.client.inner.ImageBuild(runCtx, buildCtx, opts)
	if err != nil {
		return domain.BuildResult{}, fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()

	decoder := json.NewDecoder(resp.Body)
	for {
		var msg buildMessage
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return domain.BuildResult{}, fmt.Errorf("decode build output: %w", err)
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return domain.BuildResult{}, fmt.Errorf("docker image build: %s", errMsg)
		}
		if line := msg.render(); line != "" && b.logger != nil {
			b.logger.Debug("build output", "tag", tag, "line", line)
		}
	}

	inspect, _, err := b.client.inner.ImageInspectWithRaw(runCtx, tag)
	if err != nil {
		return domain.BuildResult{}, fmt.Errorf("inspect built image: %w", err)
	}
	result := domain.BuildResult{
		Success: true,
		ImageID: inspect.ID,
		Tag:     tag,
		SizeMB:  float64(inspect.Size) / (1024 * 1024),
	}
	if b.logger != nil {
		b.logger.Info("image built", "tag", tag, "image_id", inspect.ID, "size_mb", fmt.Sprintf("%.1f", result.SizeMB))
	}
	return result, nil
}

type buildMessage struct {
	Stream      string                `json:"stream"`
	Status      string                `json:"status"`
	ID          string                `json:"id"`
	Progress    string                `json:"progress"`
	Error       string                `json:"error"`
	ErrorDetail buildMessageErrDetail `json:"errorDetail"`
}

type buildMessageErrDetail struct {
	Message string `json:"message"`
}

func (m buildMessage) errorMessage() string {
	if s := strings.TrimSpace(m.Error); s != "" {
		return s
	}
	return strings.TrimSpace(m.ErrorDetail.Message)
}

func (m buildMessage) render() string {
	if m.Stream != "" {
		return strings.TrimSpace(m.Stream)
	}
	if m.Status == "" {
		return ""
	}
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(m.ID); s != "" {
		parts = append(parts, s)
	}
	parts = append(parts, strings.TrimSpace(m.Status))
	if s := strings.TrimSpace(m.Progress); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
