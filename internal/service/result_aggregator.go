package service

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/pkg/grading"
	"github.com/noah-isme/gema-coding-session/pkg/judge"
)

// ResultAggregator folds per-case results into a challenge result set and derives the
// UI and grading views of it.
type ResultAggregator struct{}

// Aggregate computes the verdict and totals. A set passes only when every case passed.
func (ResultAggregator) Aggregate(results []models.TestCaseResult) models.ChallengeResultSet {
	set := models.ChallengeResultSet{
		Status:          models.ResultStatusPassed,
		TestCaseResults: make([]models.TestCaseResult, len(results)),
	}
	copy(set.TestCaseResults, results)

	if len(results) == 0 {
		set.Status = models.ResultStatusFailed
		return set
	}

	for _, result := range results {
		if !result.Passed {
			set.Status = models.ResultStatusFailed
		}
		set.ExecutionTime += result.ExecutionTime
		if result.Memory > set.Memory {
			set.Memory = result.Memory
		}
	}
	return set
}

// UIView returns the candidate-facing view. Hidden cases expose only pass/fail and timing.
func (a ResultAggregator) UIView(set models.ChallengeResultSet) dto.ResultView {
	view := dto.ResultView{
		Status:        set.Status,
		ExecutionTime: set.ExecutionTime,
		Memory:        set.Memory,
		Total:         len(set.TestCaseResults),
		Cases:         make([]dto.CaseView, 0, len(set.TestCaseResults)),
	}

	for i, result := range set.TestCaseResults {
		if result.Passed {
			view.PassedCount++
		}
		if result.IsHidden {
			view.HiddenCount++
		}
		view.Cases = append(view.Cases, a.caseView(i, result))
	}
	return view
}

// SubmissionView returns the full, unredacted per-case results for the grading payload.
func (ResultAggregator) SubmissionView(set models.ChallengeResultSet) []grading.TestCaseResult {
	out := make([]grading.TestCaseResult, 0, len(set.TestCaseResults))
	for _, result := range set.TestCaseResults {
		out = append(out, grading.TestCaseResult{
			Input:          result.Input,
			ExpectedOutput: result.ExpectedOutput,
			ActualOutput:   result.ActualOutput,
			Passed:         result.Passed,
			ExecutionTime:  result.ExecutionTime,
			Memory:         result.Memory,
			Error:          result.Error,
			IsHidden:       result.IsHidden,
		})
	}
	return out
}

func (ResultAggregator) caseView(index int, result models.TestCaseResult) dto.CaseView {
	view := dto.CaseView{
		Index:         index,
		Hidden:        result.IsHidden,
		Passed:        result.Passed,
		ExecutionTime: result.ExecutionTime,
		Memory:        result.Memory,
	}
	if result.IsHidden {
		return view
	}

	view.Input = result.Input
	view.ExpectedOutput = result.ExpectedOutput
	view.ActualOutput = result.ActualOutput
	view.Error = result.Error
	if !result.Passed && result.Error == nil {
		view.Diff = outputDiff(result.ExpectedOutput, result.ActualOutput)
	}
	return view
}

func outputDiff(expected, actual string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(judge.NormalizeOutput(expected) + "\n"),
		B:        difflib.SplitLines(judge.NormalizeOutput(actual) + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return strings.TrimRight(diff, "\n")
}
