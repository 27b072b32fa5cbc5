package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/observability"
	"github.com/noah-isme/gema-coding-session/pkg/judge"
)

// Mode selects which test cases a batch executes.
type Mode string

const (
	// ModeRun executes only the visible cases, as a preview.
	ModeRun Mode = "run"
	// ModeSubmit executes every case, hidden ones included.
	ModeSubmit Mode = "submit"
)

var (
	// ErrNoTestCases indicates the challenge has nothing to execute for the mode.
	ErrNoTestCases = errors.New("no test cases to execute")
	// ErrLanguageRequired indicates the draft has no language selected.
	ErrLanguageRequired = errors.New("language is required")
	// ErrUnsupportedLanguage indicates the language is not allowed for the challenge.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrEmptyDraft indicates there is no code to execute.
	ErrEmptyDraft = errors.New("draft code is empty")
)

// ProgressPhase marks the start or end of a single case.
type ProgressPhase string

const (
	ProgressStarted  ProgressPhase = "started"
	ProgressFinished ProgressPhase = "finished"
)

// ProgressEvent reports per-case progress while a batch runs.
type ProgressEvent struct {
	ChallengeID string        `json:"challengeId"`
	Mode        Mode          `json:"mode"`
	Phase       ProgressPhase `json:"phase"`
	CaseIndex   int           `json:"caseIndex"`
	Total       int           `json:"total"`
	InFlight    []int         `json:"inFlight"`
	Result      *dto.CaseView `json:"result,omitempty"`
}

// ProgressFunc receives progress events. It is called synchronously from the runner.
type ProgressFunc func(ProgressEvent)

type selectedCase struct {
	index int
	tc    models.TestCase
}

// TestCaseRunner executes a challenge's test cases against the judge, one at a time.
type TestCaseRunner struct {
	judge      judge.Client
	aggregator ResultAggregator
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// NewTestCaseRunner constructs a runner over the judge client.
func NewTestCaseRunner(client judge.Client, logger zerolog.Logger) *TestCaseRunner {
	return &TestCaseRunner{
		judge:  client,
		logger: logger.With().Str("component", "test_case_runner").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/gema-coding-session/internal/service/runner"),
	}
}

// selectCases returns the cases executed for the mode, keeping their original indices.
func (r *TestCaseRunner) selectCases(challenge models.Challenge, mode Mode) []selectedCase {
	cases := make([]selectedCase, 0, len(challenge.TestCases))
	for i, tc := range challenge.TestCases {
		if mode == ModeRun && !tc.Visible() {
			continue
		}
		cases = append(cases, selectedCase{index: i, tc: tc})
	}
	return cases
}

// Validate checks the preconditions of a batch without executing anything.
func (r *TestCaseRunner) Validate(challenge models.Challenge, draft models.Draft, mode Mode) error {
	if strings.TrimSpace(draft.Language) == "" {
		return ErrLanguageRequired
	}
	if !challenge.AllowsLanguage(draft.Language) {
		return ErrUnsupportedLanguage
	}
	if strings.TrimSpace(draft.Code) == "" {
		return ErrEmptyDraft
	}
	if len(r.selectCases(challenge, mode)) == 0 {
		return ErrNoTestCases
	}
	return nil
}

// Preview runs the visible cases.
func (r *TestCaseRunner) Preview(ctx context.Context, challenge models.Challenge, draft models.Draft, progress ProgressFunc) ([]models.TestCaseResult, error) {
	return r.Run(ctx, challenge, draft, ModeRun, progress)
}

// Evaluate runs every case, producing the fresh results a submission carries.
func (r *TestCaseRunner) Evaluate(ctx context.Context, challenge models.Challenge, draft models.Draft, progress ProgressFunc) ([]models.TestCaseResult, error) {
	return r.Run(ctx, challenge, draft, ModeSubmit, progress)
}

// Run executes the selected cases sequentially in their original order. Judge failures
// become failed results; the batch always completes once started.
func (r *TestCaseRunner) Run(ctx context.Context, challenge models.Challenge, draft models.Draft, mode Mode, progress ProgressFunc) ([]models.TestCaseResult, error) {
	if err := r.Validate(challenge, draft, mode); err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "runner.run", trace.WithAttributes(
		attribute.String("challenge.id", challenge.ID),
		attribute.String("runner.mode", string(mode)),
		attribute.String("runner.language", draft.Language),
	))
	defer span.End()

	cases := r.selectCases(challenge, mode)
	source := judge.ComposeSource(draft.Code, challenge.Implementation(draft.Language).InvisibleCode)
	inFlight := newInFlightSet()
	results := make([]models.TestCaseResult, 0, len(cases))

	emit := func(phase ProgressPhase, caseIndex int, view *dto.CaseView) {
		if progress == nil {
			return
		}
		progress(ProgressEvent{
			ChallengeID: challenge.ID,
			Mode:        mode,
			Phase:       phase,
			CaseIndex:   caseIndex,
			Total:       len(cases),
			InFlight:    inFlight.Indices(),
			Result:      view,
		})
	}

	for _, selected := range cases {
		inFlight.Add(selected.index)
		emit(ProgressStarted, selected.index, nil)

		outcome := r.judge.Execute(ctx, judge.Request{
			Code:     source,
			Language: draft.Language,
			Input:    selected.tc.Input,
		})
		result := buildResult(selected.tc, outcome)
		results = append(results, result)

		outcomeLabel := "failed"
		switch {
		case result.Error != nil:
			outcomeLabel = "error"
		case result.Passed:
			outcomeLabel = "passed"
		}
		observability.TestCases().WithLabelValues(string(mode), outcomeLabel).Inc()

		inFlight.Remove(selected.index)
		view := r.aggregator.caseView(selected.index, result)
		emit(ProgressFinished, selected.index, &view)
	}

	r.logger.Debug().
		Str("challenge_id", challenge.ID).
		Str("mode", string(mode)).
		Int("cases", len(results)).
		Msg("test case batch finished")

	return results, nil
}

func buildResult(tc models.TestCase, outcome judge.Outcome) models.TestCaseResult {
	result := models.TestCaseResult{
		Input:          tc.Input,
		ExpectedOutput: tc.Output,
		ActualOutput:   outcome.Output,
		ExecutionTime:  nonNegative(outcome.ExecutionTime),
		Memory:         nonNegative(outcome.Memory),
		IsHidden:       !tc.Visible(),
	}

	if outcome.Failed() {
		message := outcome.Error
		if message == "" {
			message = outcome.Status
		}
		result.Error = &message
		return result
	}

	result.Passed = judge.OutputsMatch(outcome.Output, tc.Output)
	return result
}

func nonNegative(value float64) float64 {
	if value < 0 {
		return 0
	}
	return value
}

type inFlightSet struct {
	mu      sync.Mutex
	indices map[int]struct{}
}

func newInFlightSet() *inFlightSet {
	return &inFlightSet{indices: make(map[int]struct{})}
}

func (s *inFlightSet) Add(index int) {
	s.mu.Lock()
	s.indices[index] = struct{}{}
	s.mu.Unlock()
}

func (s *inFlightSet) Remove(index int) {
	s.mu.Lock()
	delete(s.indices, index)
	s.mu.Unlock()
}

func (s *inFlightSet) Indices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.indices))
	for idx := range s.indices {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}
