package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coding-session/internal/models"
)

func TestTestCaseRunnerPreviewRunsVisibleCasesOnly(t *testing.T) {
	judgeStub := newStubJudge()
	ch := sampleChallenge("a", 2, 2)
	judgeStub.solveAll(ch)

	runner := NewTestCaseRunner(judgeStub, zerolog.Nop())
	draft := models.Draft{Code: "def solve(x):\n    return x", Language: "python"}

	var events []ProgressEvent
	results, err := runner.Preview(context.Background(), ch, draft, func(evt ProgressEvent) {
		events = append(events, evt)
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		require.True(t, result.Passed)
		require.False(t, result.IsHidden)
	}

	calls := judgeStub.calls()
	require.Len(t, calls, 2)
	require.Equal(t, "in-a-0", calls[0].Input)
	require.Equal(t, "in-a-1", calls[1].Input)
	require.Equal(t, "def solve(x):\n    return x\nprint(solve(input()))", calls[0].Code)

	require.Len(t, events, 4)
	require.Equal(t, ProgressStarted, events[0].Phase)
	require.Equal(t, []int{0}, events[0].InFlight)
	require.Equal(t, ProgressFinished, events[1].Phase)
	require.Empty(t, events[1].InFlight)
	require.NotNil(t, events[1].Result)
	require.Equal(t, 2, events[3].Total)
}

func TestTestCaseRunnerEvaluateIncludesHiddenCases(t *testing.T) {
	judgeStub := newStubJudge()
	ch := sampleChallenge("b", 1, 2)
	judgeStub.answers["in-b-0"] = "out-b-0"
	judgeStub.failures["in-b-2"] = "runtime error"

	runner := NewTestCaseRunner(judgeStub, zerolog.Nop())
	results, err := runner.Evaluate(context.Background(), ch, models.Draft{Code: "package main", Language: "go"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.True(t, results[0].Passed)
	require.False(t, results[1].Passed)
	require.True(t, results[1].IsHidden)
	require.Nil(t, results[1].Error)
	require.False(t, results[2].Passed)
	require.NotNil(t, results[2].Error)
	require.Equal(t, "runtime error", *results[2].Error)

	// go has no hidden harness, so the draft is sent as is.
	require.Equal(t, "package main", judgeStub.calls()[0].Code)
}

func TestTestCaseRunnerContinuesAfterEarlyFailure(t *testing.T) {
	judgeStub := newStubJudge()
	ch := sampleChallenge("d", 2, 1)
	judgeStub.solveAll(ch)
	judgeStub.failures["in-d-0"] = "segmentation fault"

	runner := NewTestCaseRunner(judgeStub, zerolog.Nop())
	results, err := runner.Evaluate(context.Background(), ch, models.Draft{Code: "package main", Language: "go"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.False(t, results[0].Passed)
	require.NotNil(t, results[0].Error)
	require.Equal(t, "segmentation fault", *results[0].Error)
	require.True(t, results[1].Passed)
	require.True(t, results[2].Passed)
	require.True(t, results[2].IsHidden)

	calls := judgeStub.calls()
	require.Len(t, calls, 3)
	for i, call := range calls {
		require.Equal(t, fmt.Sprintf("in-d-%d", i), call.Input)
	}
}

func TestTestCaseRunnerValidate(t *testing.T) {
	runner := NewTestCaseRunner(newStubJudge(), zerolog.Nop())
	ch := sampleChallenge("c", 0, 2)

	tests := []struct {
		name  string
		draft models.Draft
		mode  Mode
		err   error
	}{
		{name: "missing language", draft: models.Draft{Code: "x"}, mode: ModeSubmit, err: ErrLanguageRequired},
		{name: "unsupported language", draft: models.Draft{Code: "x", Language: "ruby"}, mode: ModeSubmit, err: ErrUnsupportedLanguage},
		{name: "blank code", draft: models.Draft{Code: "  \n", Language: "go"}, mode: ModeSubmit, err: ErrEmptyDraft},
		{name: "no visible cases", draft: models.Draft{Code: "x", Language: "go"}, mode: ModeRun, err: ErrNoTestCases},
		{name: "submit with hidden cases", draft: models.Draft{Code: "x", Language: "go"}, mode: ModeSubmit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runner.Validate(ch, tt.draft, tt.mode)
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestTestCaseRunnerDoesNotCallJudgeWhenInvalid(t *testing.T) {
	judgeStub := newStubJudge()
	runner := NewTestCaseRunner(judgeStub, zerolog.Nop())

	_, err := runner.Preview(context.Background(), sampleChallenge("d", 1, 0), models.Draft{Language: "go"}, nil)
	require.ErrorIs(t, err, ErrEmptyDraft)
	require.Empty(t, judgeStub.calls())
}
