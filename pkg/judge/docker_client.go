package judge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	dockerexec "github.com/noah-isme/gema-coding-session/pkg/docker"
)

// Runtime describes how a language is run inside the local sandbox.
type Runtime struct {
	Image    string
	FileName string
	Command  []string
}

// DefaultRuntimes lists the languages the local docker judge understands.
func DefaultRuntimes() map[string]Runtime {
	return map[string]Runtime{
		"python": {
			Image:    "python:3.11-alpine",
			FileName: "main.py",
			Command:  []string{"python", "main.py"},
		},
		"javascript": {
			Image:    "node:20-alpine",
			FileName: "main.js",
			Command:  []string{"node", "main.js"},
		},
		"go": {
			Image:    "golang:1.22-alpine",
			FileName: "main.go",
			Command:  []string{"go", "run", "main.go"},
		},
	}
}

// DockerConfig configures the local docker judge.
type DockerConfig struct {
	Timeout       time.Duration
	MemoryLimitMB int
	CPUShares     int
	Runtimes      map[string]Runtime
	Logger        zerolog.Logger
}

// DockerClient is a development judge that runs code in local sandboxed containers.
type DockerClient struct {
	executor dockerexec.Executor
	cfg      DockerConfig
	logger   zerolog.Logger
}

// NewDockerClient wraps a sandbox executor as a judge client.
func NewDockerClient(executor dockerexec.Executor, cfg DockerConfig) *DockerClient {
	if cfg.Runtimes == nil {
		cfg.Runtimes = DefaultRuntimes()
	}
	return &DockerClient{
		executor: executor,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "judge_docker_client").Logger(),
	}
}

// Execute runs the code with the given input and maps the sandbox result to an Outcome.
func (c *DockerClient) Execute(ctx context.Context, req Request) Outcome {
	language := strings.ToLower(strings.TrimSpace(req.Language))
	runtime, ok := c.cfg.Runtimes[language]
	if !ok {
		return errorOutcome(fmt.Errorf("unsupported language %q", req.Language))
	}

	result, err := c.executor.Run(ctx, dockerexec.ExecutionRequest{
		Image:         runtime.Image,
		Cmd:           runtime.Command,
		Files:         map[string]string{runtime.FileName: req.Code},
		Stdin:         req.Input,
		Timeout:       c.cfg.Timeout,
		MemoryLimitMB: int64(c.cfg.MemoryLimitMB),
		CPUShares:     int64(c.cfg.CPUShares),
	})

	outcome := Outcome{
		Output:        result.Stdout,
		ExecutionTime: float64(result.Duration.Milliseconds()),
		Memory:        float64(result.MemoryUsageBytes) / 1024,
	}

	switch {
	case err != nil && result.TimedOut:
		outcome.Status = "Time Limit Exceeded"
		outcome.Error = err.Error()
	case err != nil:
		c.logger.Warn().Err(err).Str("language", language).Msg("sandbox execution failed")
		outcome.Status = StatusError
		outcome.Error = err.Error()
	case result.ExitCode != 0:
		outcome.Status = "Runtime Error"
		outcome.Error = strings.TrimSpace(result.Stderr)
		if outcome.Error == "" {
			outcome.Error = fmt.Sprintf("process exited with code %d", result.ExitCode)
		}
	default:
		outcome.Status = "Accepted"
	}

	return outcome
}
