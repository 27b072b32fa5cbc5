package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const executePath = "/code/execute"

var (
	judgeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "judge",
		Name:      "execute_duration_seconds",
		Help:      "Duration of judge execute calls",
		Buckets:   prometheus.DefBuckets,
	}, []string{"language"})

	judgeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "judge",
		Name:      "execute_failures_total",
		Help:      "Number of judge execute calls reported as errors",
	}, []string{"language", "reason"})
)

// ErrRateLimited is reported when waiting for the local limiter fails.
var ErrRateLimited = errors.New("judge rate limit exceeded")

// HTTPConfig configures the remote judge client.
type HTTPConfig struct {
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond int
	FailureTrip   int
	Logger        zerolog.Logger
}

// HTTPClient talks to the remote judge over POST code/execute.
type HTTPClient struct {
	cfg     HTTPConfig
	breaker circuitbreaker.CircuitBreaker[Outcome]
	limiter ratelimit.RateLimiter
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewHTTPClient builds a remote judge client guarded by a circuit breaker and rate limiter.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("judge base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.FailureTrip <= 0 {
		cfg.FailureTrip = 5
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}
	logger = logger.With().Str("component", "judge_http_client").Logger()

	client := &HTTPClient{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-coding-session/pkg/judge"),
		logger: logger,
	}

	trip := cfg.FailureTrip
	client.breaker = circuitbreaker.New[Outcome](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= trip
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("judge circuit breaker state change")
		},
	})

	if cfg.RatePerSecond > 0 {
		client.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     cfg.RatePerSecond,
			Burst:    cfg.RatePerSecond * 2,
			Interval: time.Second,
		})
	}

	return client, nil
}

// Execute sends a single execution unit to the judge, waiting for the rate limiter
// rather than failing the case. ctx bounds the limiter wait and the breaker but not the
// HTTP exchange itself: the fasthttp agent only honours the configured Timeout.
func (c *HTTPClient) Execute(parent context.Context, req Request) Outcome {
	ctx, span := c.tracer.Start(parent, "judge.execute", trace.WithAttributes(
		attribute.String("judge.language", req.Language),
	))
	defer span.End()

	if err := ctx.Err(); err != nil {
		judgeFailures.WithLabelValues(req.Language, "cancelled").Inc()
		return errorOutcome(err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "judge"); err != nil {
			judgeFailures.WithLabelValues(req.Language, "rate_limited").Inc()
			span.SetStatus(codes.Error, err.Error())
			if ctxErr := ctx.Err(); ctxErr != nil {
				return errorOutcome(ctxErr)
			}
			return errorOutcome(fmt.Errorf("%w: %v", ErrRateLimited, err))
		}
	}

	start := time.Now()
	outcome, err := c.breaker.Execute(ctx, func(ctx context.Context) (Outcome, error) {
		return c.post(req)
	})
	judgeDuration.WithLabelValues(req.Language).Observe(time.Since(start).Seconds())

	if err != nil {
		judgeFailures.WithLabelValues(req.Language, "transport").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn().Err(err).Str("language", req.Language).Msg("judge execute failed")
		return errorOutcome(err)
	}

	if outcome.Error != "" && outcome.Status == "" {
		outcome.Status = StatusError
	}
	if outcome.Failed() {
		judgeFailures.WithLabelValues(req.Language, "remote").Inc()
	}
	if outcome.ExecutionTime < 0 {
		outcome.ExecutionTime = 0
	}
	if outcome.Memory < 0 {
		outcome.Memory = 0
	}

	return outcome
}

func (c *HTTPClient) post(req Request) (Outcome, error) {
	agent := fiber.Post(c.cfg.BaseURL + executePath)
	agent.JSON(req)
	agent.Timeout(c.cfg.Timeout)

	if err := agent.Parse(); err != nil {
		return Outcome{}, fmt.Errorf("prepare judge request: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return Outcome{}, fmt.Errorf("judge request: %w", errors.Join(errs...))
	}

	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		return Outcome{}, fmt.Errorf("judge responded with status %d", status)
	}

	var outcome Outcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return Outcome{}, fmt.Errorf("decode judge response: %w", err)
	}

	return outcome, nil
}

// Close releases the rate limiter.
func (c *HTTPClient) Close() error {
	if c.limiter != nil {
		return c.limiter.Close()
	}
	return nil
}
