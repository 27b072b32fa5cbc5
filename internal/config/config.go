package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Judge modes.
const (
	JudgeModeRemote = "remote"
	JudgeModeDocker = "docker"
)

// Session snapshot backends.
const (
	SessionBackendRedis    = "redis"
	SessionBackendDatabase = "database"
)

// Config holds runtime configuration values for the coding session service.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseURL        string
	RedisURL           string
	NATSURL            string
	JWTSecret          string
	ChannelBase        string
	ChallengeFile      string
	SessionBackend     string
	SessionKeyPrefix   string
	SessionTTL         time.Duration
	PageSize           int
	JudgeMode          string
	JudgeBaseURL       string
	JudgeTimeout       time.Duration
	JudgeRatePerSecond int
	JudgeFailureTrip   int
	GradingBaseURL     string
	GradingTimeout     time.Duration
	GradingToken       string
	RunRateLimit       int
	RunRateWindow      time.Duration
	DockerHost         string
	ExecutionTimeout   time.Duration
	CodeRunMemoryMB    int
	CodeRunCPUShares   int
	WorkspaceRoot      string
	CORSOrigins        string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Coding Session")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "gema:coding")
	v.SetDefault("session.backend", SessionBackendRedis)
	v.SetDefault("session.key_prefix", "coding-session")
	v.SetDefault("session.ttl", "72h")
	v.SetDefault("session.page_size", 10)
	v.SetDefault("judge.mode", JudgeModeRemote)
	v.SetDefault("judge.timeout", "15s")
	v.SetDefault("judge.rate_per_second", 5)
	v.SetDefault("judge.failure_trip", 5)
	v.SetDefault("grading.timeout", "20s")
	v.SetDefault("run.rate_limit", 20)
	v.SetDefault("run.rate_window", "1m")
	v.SetDefault("execution_timeout_ms", 5000)
	v.SetDefault("code_run_memory_mb", 256)
	v.SetDefault("code_run_cpu_shares", 512)
	v.SetDefault("cors.origins", "*")

	sessionTTL, err := parseDuration(v, "session.ttl", "72h")
	if err != nil {
		return Config{}, fmt.Errorf("invalid session ttl: %w", err)
	}

	judgeTimeout, err := parseDuration(v, "judge.timeout", "15s")
	if err != nil {
		return Config{}, fmt.Errorf("invalid judge timeout: %w", err)
	}

	gradingTimeout, err := parseDuration(v, "grading.timeout", "20s")
	if err != nil {
		return Config{}, fmt.Errorf("invalid grading timeout: %w", err)
	}

	runWindow, err := parseDuration(v, "run.rate_window", "1m")
	if err != nil {
		return Config{}, fmt.Errorf("invalid run rate window: %w", err)
	}

	timeoutMs := v.GetInt("execution_timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	cfg := Config{
		AppName:            v.GetString("app.name"),
		AppEnv:             v.GetString("app.env"),
		AppPort:            v.GetString("app.port"),
		DatabaseURL:        v.GetString("database.url"),
		RedisURL:           v.GetString("redis.url"),
		NATSURL:            v.GetString("nats.url"),
		JWTSecret:          v.GetString("jwt.secret"),
		ChannelBase:        v.GetString("channel.base"),
		ChallengeFile:      v.GetString("challenge.file"),
		SessionBackend:     strings.ToLower(v.GetString("session.backend")),
		SessionKeyPrefix:   v.GetString("session.key_prefix"),
		SessionTTL:         sessionTTL,
		PageSize:           v.GetInt("session.page_size"),
		JudgeMode:          strings.ToLower(v.GetString("judge.mode")),
		JudgeBaseURL:       strings.TrimRight(v.GetString("judge.base_url"), "/"),
		JudgeTimeout:       judgeTimeout,
		JudgeRatePerSecond: v.GetInt("judge.rate_per_second"),
		JudgeFailureTrip:   v.GetInt("judge.failure_trip"),
		GradingBaseURL:     strings.TrimRight(v.GetString("grading.base_url"), "/"),
		GradingTimeout:     gradingTimeout,
		GradingToken:       v.GetString("grading.token"),
		RunRateLimit:       v.GetInt("run.rate_limit"),
		RunRateWindow:      runWindow,
		DockerHost:         v.GetString("docker_host"),
		ExecutionTimeout:   time.Duration(timeoutMs) * time.Millisecond,
		CodeRunMemoryMB:    v.GetInt("code_run_memory_mb"),
		CodeRunCPUShares:   v.GetInt("code_run_cpu_shares"),
		WorkspaceRoot:      v.GetString("workspace_root"),
		CORSOrigins:        v.GetString("cors.origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.SessionBackend {
	case SessionBackendRedis, SessionBackendDatabase:
	default:
		return Config{}, fmt.Errorf("unsupported session backend %q", cfg.SessionBackend)
	}

	switch cfg.JudgeMode {
	case JudgeModeRemote:
		if cfg.JudgeBaseURL == "" {
			return Config{}, fmt.Errorf("judge base url must be provided in remote mode")
		}
	case JudgeModeDocker:
	default:
		return Config{}, fmt.Errorf("unsupported judge mode %q", cfg.JudgeMode)
	}

	if cfg.GradingBaseURL == "" {
		return Config{}, fmt.Errorf("grading base url must be provided")
	}

	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}

	if cfg.CodeRunMemoryMB <= 0 {
		cfg.CodeRunMemoryMB = 256
	}

	if cfg.CodeRunCPUShares <= 0 {
		cfg.CodeRunCPUShares = 512
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key, fallback string) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		raw = fallback
	}
	return time.ParseDuration(raw)
}
