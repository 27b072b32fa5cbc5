package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/repository"
	"github.com/noah-isme/gema-coding-session/pkg/grading"
	"github.com/noah-isme/gema-coding-session/pkg/judge"
)

// stubJudge echoes the expected output for inputs listed in answers and returns
// "wrong" for everything else.
type stubJudge struct {
	mu       sync.Mutex
	answers  map[string]string
	failures map[string]string
	requests []judge.Request
	block    chan struct{}
}

func newStubJudge() *stubJudge {
	return &stubJudge{answers: map[string]string{}, failures: map[string]string{}}
}

func (j *stubJudge) Execute(ctx context.Context, req judge.Request) judge.Outcome {
	j.mu.Lock()
	j.requests = append(j.requests, req)
	block := j.block
	output, known := j.answers[req.Input]
	failure, failed := j.failures[req.Input]
	j.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return judge.Outcome{Status: judge.StatusError, Error: ctx.Err().Error()}
		}
	}

	if failed {
		return judge.Outcome{Status: judge.StatusError, Error: failure}
	}
	if !known {
		output = "wrong"
	}
	return judge.Outcome{Output: output, Status: "Accepted", ExecutionTime: 10, Memory: 256}
}

func (j *stubJudge) calls() []judge.Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]judge.Request, len(j.requests))
	copy(out, j.requests)
	return out
}

type stubGrader struct {
	mu       sync.Mutex
	payloads []grading.CodingSubmissionRequest
	err      error
	score    float64
}

func (g *stubGrader) SubmitCoding(_ context.Context, payload grading.CodingSubmissionRequest) (grading.CodingSubmissionResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payloads = append(g.payloads, payload)
	if g.err != nil {
		return grading.CodingSubmissionResponse{}, g.err
	}
	score := g.score
	return grading.CodingSubmissionResponse{
		Success:    true,
		Submission: grading.SubmissionRecord{Status: "graded", TotalScore: &score},
	}, nil
}

func (g *stubGrader) received() []grading.CodingSubmissionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]grading.CodingSubmissionRequest, len(g.payloads))
	copy(out, g.payloads)
	return out
}

type stubCatalog struct {
	tests map[string][]models.Challenge
}

func (c *stubCatalog) Challenges(_ context.Context, testID string) ([]models.Challenge, error) {
	challenges, ok := c.tests[testID]
	if !ok {
		return nil, ErrTestNotFound
	}
	return challenges, nil
}

func (c *stubCatalog) Import(context.Context, []byte) (dto.CatalogImportResponse, error) {
	return dto.CatalogImportResponse{}, nil
}

func (c *stubCatalog) ImportFile(context.Context, string) (dto.CatalogImportResponse, error) {
	return dto.CatalogImportResponse{}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []models.SessionKey
}

func (n *recordingNotifier) NotifySectionCompleted(_ context.Context, key models.SessionKey, _ time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, key)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func boolPtr(v bool) *bool {
	return &v
}

// sampleChallenge builds a challenge whose case i expects "out-<id>-<i>" for input
// "in-<id>-<i>". Cases at index >= visible are hidden.
func sampleChallenge(id string, visible, hidden int) models.Challenge {
	cases := make([]models.TestCase, 0, visible+hidden)
	for i := 0; i < visible+hidden; i++ {
		tc := models.TestCase{Input: caseInput(id, i), Output: caseOutput(id, i)}
		if i >= visible {
			tc.IsVisible = boolPtr(false)
		}
		cases = append(cases, tc)
	}

	implementations := map[string]models.LanguageImplementation{
		"python": {VisibleCode: "def solve(x):\n    pass", InvisibleCode: "print(solve(input()))"},
		"go":     {VisibleCode: "func solve(x string) string { return \"\" }"},
	}

	return models.Challenge{
		ID:                      id,
		TestID:                  "test-1",
		Title:                   "Challenge " + strings.ToUpper(id),
		ProblemStatement:        "Echo the input",
		AllowedLanguages:        datatypes.JSONSlice[string]{"python", "go"},
		LanguageImplementations: datatypes.NewJSONType(implementations),
		TestCases:               datatypes.JSONSlice[models.TestCase](cases),
		Marks:                   10,
		Difficulty:              "easy",
	}
}

func caseInput(id string, i int) string {
	return "in-" + id + "-" + string(rune('0'+i))
}

func caseOutput(id string, i int) string {
	return "out-" + id + "-" + string(rune('0'+i))
}

// solveAll teaches the judge the right answer for every case of the challenge.
func (j *stubJudge) solveAll(ch models.Challenge) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, tc := range ch.TestCases {
		j.answers[tc.Input] = tc.Output
	}
}

func newRedisSnapshotRepo(t *testing.T) (repository.SnapshotRepository, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mini.Close)

	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewRedisSnapshotRepository(client, "coding-session", time.Hour), mini
}
