package grading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const submitCodingPath = "/submissions/submit/coding"

// ErrRejected is returned when the grading endpoint answers with success=false.
var ErrRejected = errors.New("submission rejected by grading service")

// Submitter posts graded coding submissions.
type Submitter interface {
	SubmitCoding(ctx context.Context, payload CodingSubmissionRequest) (CodingSubmissionResponse, error)
}

// TestCaseResult mirrors the full, unredacted per-case result sent for grading.
type TestCaseResult struct {
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expectedOutput"`
	ActualOutput   string  `json:"actualOutput"`
	Passed         bool    `json:"passed"`
	ExecutionTime  float64 `json:"executionTime"`
	Memory         float64 `json:"memory"`
	Error          *string `json:"error"`
	IsHidden       bool    `json:"isHidden"`
}

// ChallengeSubmission is one entry of the submissions array.
type ChallengeSubmission struct {
	ChallengeID     string           `json:"challengeId"`
	Code            string           `json:"code"`
	Language        string           `json:"language"`
	TestCaseResults []TestCaseResult `json:"testCaseResults"`
	ExecutionTime   float64          `json:"executionTime"`
	Memory          float64          `json:"memory"`
	Output          string           `json:"output"`
	Error           *string          `json:"error"`
}

// CodingSubmissionRequest is the body of POST submissions/submit/coding.
type CodingSubmissionRequest struct {
	TestID      string                `json:"testId"`
	Completing  bool                  `json:"completing"`
	ChallengeID string                `json:"challengeId"`
	Submissions []ChallengeSubmission `json:"submissions"`
}

// SubmissionRecord is the grading service's view of the stored submission.
type SubmissionRecord struct {
	CodingSubmission json.RawMessage `json:"codingSubmission,omitempty"`
	Status           string          `json:"status"`
	TotalScore       *float64        `json:"totalScore,omitempty"`
}

// CodingSubmissionResponse is the grading service response.
type CodingSubmissionResponse struct {
	Success    bool             `json:"success"`
	Message    string           `json:"message,omitempty"`
	Submission SubmissionRecord `json:"submission"`
}

// Config configures the HTTP grading client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	Token   string
	Logger  zerolog.Logger
}

// HTTPClient implements Submitter against the grading REST endpoint.
type HTTPClient struct {
	cfg    Config
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewHTTPClient builds the grading client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("grading base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &HTTPClient{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-coding-session/pkg/grading"),
		logger: logger.With().Str("component", "grading_client").Logger(),
	}, nil
}

// SubmitCoding posts the payload once. Retries are left to the caller.
// ctx is checked before the request is sent; the fasthttp agent is bounded only by
// the configured Timeout once the POST is in flight.
func (c *HTTPClient) SubmitCoding(parent context.Context, payload CodingSubmissionRequest) (CodingSubmissionResponse, error) {
	_, span := c.tracer.Start(parent, "grading.submit_coding", trace.WithAttributes(
		attribute.String("grading.test_id", payload.TestID),
		attribute.String("grading.challenge_id", payload.ChallengeID),
		attribute.Bool("grading.completing", payload.Completing),
	))
	defer span.End()

	if err := parent.Err(); err != nil {
		return CodingSubmissionResponse{}, err
	}

	agent := fiber.Post(c.cfg.BaseURL + submitCodingPath)
	agent.JSON(payload)
	agent.Timeout(c.cfg.Timeout)
	if c.cfg.Token != "" {
		agent.Set(fiber.HeaderAuthorization, "Bearer "+c.cfg.Token)
	}

	if err := agent.Parse(); err != nil {
		return CodingSubmissionResponse{}, fmt.Errorf("prepare grading request: %w", err)
	}

	status, body, errs := agent.Bytes()
	if len(errs) > 0 {
		err := fmt.Errorf("grading request: %w", errors.Join(errs...))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return CodingSubmissionResponse{}, err
	}

	var response CodingSubmissionResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &response); err != nil && status < fiber.StatusMultipleChoices {
			return CodingSubmissionResponse{}, fmt.Errorf("decode grading response: %w", err)
		}
	}

	if status < fiber.StatusOK || status >= fiber.StatusMultipleChoices {
		err := fmt.Errorf("grading service responded with status %d", status)
		if response.Message != "" {
			err = fmt.Errorf("%w: %s", err, response.Message)
		}
		span.SetStatus(codes.Error, err.Error())
		return CodingSubmissionResponse{}, err
	}

	if !response.Success {
		span.SetStatus(codes.Error, ErrRejected.Error())
		if response.Message != "" {
			return response, fmt.Errorf("%w: %s", ErrRejected, response.Message)
		}
		return response, ErrRejected
	}

	c.logger.Debug().
		Str("test_id", payload.TestID).
		Str("challenge_id", payload.ChallengeID).
		Str("status", response.Submission.Status).
		Msg("coding submission accepted")

	return response, nil
}
