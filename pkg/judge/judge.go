package judge

import (
	"context"
	"strings"
)

// StatusError marks an outcome that failed before or during remote execution.
const StatusError = "Error"

// Client executes one unit of code against one input.
//
// Implementations never return Go errors: transport, timeout and remote failures are
// reported as an Outcome with Status set to StatusError and Error populated, so callers
// can keep iterating over a batch.
type Client interface {
	Execute(ctx context.Context, req Request) Outcome
}

// Request is the execution unit sent to the judge.
type Request struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Input    string `json:"inputs"`
}

// Outcome is the normalized judge response.
type Outcome struct {
	Output        string  `json:"output"`
	Status        string  `json:"status"`
	ExecutionTime float64 `json:"executionTime"`
	Memory        float64 `json:"memory"`
	Error         string  `json:"error,omitempty"`
}

// Failed reports whether the judge could not produce a usable output.
func (o Outcome) Failed() bool {
	return o.Status == StatusError || o.Error != ""
}

func errorOutcome(err error) Outcome {
	return Outcome{Status: StatusError, Error: err.Error()}
}

// NormalizeOutput trims surrounding whitespace and folds CRLF line endings.
func NormalizeOutput(output string) string {
	return strings.TrimSpace(strings.ReplaceAll(output, "\r\n", "\n"))
}

// OutputsMatch is the strict comparison used to decide whether a case passed.
func OutputsMatch(actual, expected string) bool {
	return NormalizeOutput(actual) == NormalizeOutput(expected)
}

// ComposeSource joins the candidate's code with the hidden harness for a language.
func ComposeSource(visible, invisible string) string {
	if strings.TrimSpace(invisible) == "" {
		return visible
	}
	return visible + "\n" + invisible
}
