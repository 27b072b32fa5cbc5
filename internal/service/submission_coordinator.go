package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/observability"
	"github.com/noah-isme/gema-coding-session/pkg/grading"
)

var (
	// ErrAlreadySubmitted indicates the challenge has already been submitted.
	ErrAlreadySubmitted = errors.New("challenge already submitted")
	// ErrSubmissionInProgress indicates a submission for the challenge is in flight.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrGradingFailed indicates the grading endpoint did not accept the submission.
	ErrGradingFailed = errors.New("grading service did not accept the submission")
)

// SubmissionStateMachine tracks idle → submitting → submitted per challenge. A failed
// submission returns the challenge to idle; submitted is terminal.
type SubmissionStateMachine struct {
	statuses map[string]models.SubmissionStatus
}

// NewSubmissionStateMachine operates on the given status map in place.
func NewSubmissionStateMachine(statuses map[string]models.SubmissionStatus) *SubmissionStateMachine {
	if statuses == nil {
		statuses = map[string]models.SubmissionStatus{}
	}
	return &SubmissionStateMachine{statuses: statuses}
}

// Status returns the current status; unknown challenges are idle.
func (m *SubmissionStateMachine) Status(challengeID string) models.SubmissionStatus {
	return m.statuses[challengeID]
}

// Begin moves an idle challenge to submitting.
func (m *SubmissionStateMachine) Begin(challengeID string) error {
	switch m.statuses[challengeID] {
	case models.SubmissionStatusSubmitted:
		return ErrAlreadySubmitted
	case models.SubmissionStatusSubmitting:
		return ErrSubmissionInProgress
	}
	m.statuses[challengeID] = models.SubmissionStatusSubmitting
	return nil
}

// Succeed moves a submitting challenge to submitted.
func (m *SubmissionStateMachine) Succeed(challengeID string) error {
	if m.statuses[challengeID] != models.SubmissionStatusSubmitting {
		return fmt.Errorf("cannot complete submission for %s in state %q", challengeID, m.statuses[challengeID])
	}
	m.statuses[challengeID] = models.SubmissionStatusSubmitted
	return nil
}

// Fail returns a submitting challenge to idle.
func (m *SubmissionStateMachine) Fail(challengeID string) {
	if m.statuses[challengeID] == models.SubmissionStatusSubmitting {
		delete(m.statuses, challengeID)
	}
}

// ResetInFlight returns every submitting challenge to idle. Used when restoring a
// snapshot written while a submission was in flight.
func (m *SubmissionStateMachine) ResetInFlight() {
	for id, status := range m.statuses {
		if status == models.SubmissionStatusSubmitting {
			delete(m.statuses, id)
		}
	}
}

// ForceSubmitted marks every challenge submitted.
func (m *SubmissionStateMachine) ForceSubmitted(challengeIDs []string) {
	for _, id := range challengeIDs {
		m.statuses[id] = models.SubmissionStatusSubmitted
	}
}

// AllSubmitted reports whether every challenge is submitted.
func (m *SubmissionStateMachine) AllSubmitted(challengeIDs []string) bool {
	for _, id := range challengeIDs {
		if m.statuses[id] != models.SubmissionStatusSubmitted {
			return false
		}
	}
	return true
}

// OnlyRemaining reports whether challengeID is the last challenge not yet submitted.
func (m *SubmissionStateMachine) OnlyRemaining(challengeIDs []string, challengeID string) bool {
	for _, id := range challengeIDs {
		if id == challengeID {
			continue
		}
		if m.statuses[id] != models.SubmissionStatusSubmitted {
			return false
		}
	}
	return true
}

// SubmissionAttempt is one submission of one challenge.
type SubmissionAttempt struct {
	TestID     string
	Challenge  models.Challenge
	Draft      models.Draft
	Completing bool
	Progress   ProgressFunc
}

// SubmissionReceipt is the outcome of an accepted submission.
type SubmissionReceipt struct {
	Results  models.ChallengeResultSet
	Response grading.CodingSubmissionResponse
}

// SubmissionCoordinator evaluates a draft against every case and posts the fresh results
// for grading. Status transitions are applied by the owning session around Execute.
type SubmissionCoordinator struct {
	runner     *TestCaseRunner
	aggregator ResultAggregator
	grader     grading.Submitter
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewSubmissionCoordinator constructs a coordinator.
func NewSubmissionCoordinator(runner *TestCaseRunner, grader grading.Submitter, logger zerolog.Logger) *SubmissionCoordinator {
	return &SubmissionCoordinator{
		runner: runner,
		grader: grader,
		logger: logger.With().Str("component", "submission_coordinator").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-coding-session/internal/service/submission"),
	}
}

// Execute runs the full batch and posts it. Earlier preview results are never reused.
func (c *SubmissionCoordinator) Execute(ctx context.Context, attempt SubmissionAttempt) (SubmissionReceipt, error) {
	ctx, span := c.tracer.Start(ctx, "submission.execute", trace.WithAttributes(
		attribute.String("test.id", attempt.TestID),
		attribute.String("challenge.id", attempt.Challenge.ID),
		attribute.Bool("submission.completing", attempt.Completing),
	))
	defer span.End()

	results, err := c.runner.Evaluate(ctx, attempt.Challenge, attempt.Draft, attempt.Progress)
	if err != nil {
		observability.Submissions().WithLabelValues("rejected").Inc()
		return SubmissionReceipt{}, err
	}

	set := c.aggregator.Aggregate(results)
	observability.Executions().WithLabelValues(string(ModeSubmit), set.Status).Inc()

	payload := grading.CodingSubmissionRequest{
		TestID:      attempt.TestID,
		Completing:  attempt.Completing,
		ChallengeID: attempt.Challenge.ID,
		Submissions: []grading.ChallengeSubmission{c.buildSubmission(attempt, set)},
	}

	response, err := c.grader.SubmitCoding(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Submissions().WithLabelValues("failed").Inc()
		c.logger.Warn().Err(err).
			Str("test_id", attempt.TestID).
			Str("challenge_id", attempt.Challenge.ID).
			Msg("coding submission failed")
		return SubmissionReceipt{}, fmt.Errorf("%w: %v", ErrGradingFailed, err)
	}

	observability.Submissions().WithLabelValues("accepted").Inc()
	c.logger.Info().
		Str("test_id", attempt.TestID).
		Str("challenge_id", attempt.Challenge.ID).
		Str("verdict", set.Status).
		Bool("completing", attempt.Completing).
		Msg("coding submission accepted")

	return SubmissionReceipt{Results: set, Response: response}, nil
}

func (c *SubmissionCoordinator) buildSubmission(attempt SubmissionAttempt, set models.ChallengeResultSet) grading.ChallengeSubmission {
	submission := grading.ChallengeSubmission{
		ChallengeID:     attempt.Challenge.ID,
		Code:            attempt.Draft.Code,
		Language:        attempt.Draft.Language,
		TestCaseResults: c.aggregator.SubmissionView(set),
		ExecutionTime:   set.ExecutionTime,
		Memory:          set.Memory,
	}

	if len(set.TestCaseResults) > 0 {
		submission.Output = set.TestCaseResults[0].ActualOutput
	}
	for _, result := range set.TestCaseResults {
		if result.Error != nil {
			message := *result.Error
			submission.Error = &message
			break
		}
	}
	return submission
}
