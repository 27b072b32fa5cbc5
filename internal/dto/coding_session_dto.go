package dto

import "github.com/noah-isme/gema-coding-session/internal/models"

// MountRequest carries the parent session's view of the test when a session is mounted.
type MountRequest struct {
	ParentCompleted bool `json:"parentCompleted"`
}

// UpdateDraftRequest replaces the code of a challenge draft. Empty code is allowed while editing.
type UpdateDraftRequest struct {
	Code string `json:"code" validate:"max=200000"`
}

// ChangeLanguageRequest switches the language of a challenge draft.
type ChangeLanguageRequest struct {
	Language string `json:"language" validate:"required,max=32"`
}

// NavigateRequest moves the active challenge.
type NavigateRequest struct {
	Action string `json:"action" validate:"required,oneof=next previous jump"`
	Index  *int   `json:"index" validate:"required_if=Action jump,omitempty,min=0"`
}

// SampleCase is a visible test case disclosed with the problem statement.
type SampleCase struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// ChallengeSummary is the navigation entry for a challenge.
type ChallengeSummary struct {
	Index      int                     `json:"index"`
	ID         string                  `json:"id"`
	Title      string                  `json:"title"`
	Difficulty string                  `json:"difficulty"`
	Marks      float64                 `json:"marks"`
	Status     models.SubmissionStatus `json:"status"`
}

// ChallengeDetail is the active challenge as shown to the candidate.
type ChallengeDetail struct {
	ID               string       `json:"id"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	ProblemStatement string       `json:"problemStatement"`
	Constraints      string       `json:"constraints"`
	AllowedLanguages []string     `json:"allowedLanguages"`
	Marks            float64      `json:"marks"`
	TimeLimit        int          `json:"timeLimit"`
	MemoryLimit      int          `json:"memoryLimit"`
	Difficulty       string       `json:"difficulty"`
	SampleCases      []SampleCase `json:"sampleCases"`
}

// NewChallengeDetail builds the candidate-facing view of a challenge. Hidden cases are omitted.
func NewChallengeDetail(challenge models.Challenge) ChallengeDetail {
	samples := make([]SampleCase, 0, len(challenge.TestCases))
	for _, tc := range challenge.TestCases {
		if !tc.Visible() {
			continue
		}
		samples = append(samples, SampleCase{Input: tc.Input, Output: tc.Output, Explanation: tc.Explanation})
	}

	languages := make([]string, len(challenge.AllowedLanguages))
	copy(languages, challenge.AllowedLanguages)

	return ChallengeDetail{
		ID:               challenge.ID,
		Title:            challenge.Title,
		Description:      challenge.Description,
		ProblemStatement: challenge.ProblemStatement,
		Constraints:      challenge.Constraints,
		AllowedLanguages: languages,
		Marks:            challenge.Marks,
		TimeLimit:        challenge.TimeLimit,
		MemoryLimit:      challenge.MemoryLimit,
		Difficulty:       challenge.Difficulty,
		SampleCases:      samples,
	}
}

// PageResponse is a display window of challenge indices.
type PageResponse struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	TotalPages int   `json:"totalPages"`
	Start      int   `json:"start"`
	End        int   `json:"end"`
	Indices    []int `json:"indices"`
}

// CaseView is the UI-facing view of one test case result. Hidden cases carry only
// pass/fail and timing.
type CaseView struct {
	Index          int     `json:"index"`
	Hidden         bool    `json:"hidden"`
	Passed         bool    `json:"passed"`
	ExecutionTime  float64 `json:"executionTime"`
	Memory         float64 `json:"memory"`
	Input          string  `json:"input,omitempty"`
	ExpectedOutput string  `json:"expectedOutput,omitempty"`
	ActualOutput   string  `json:"actualOutput,omitempty"`
	Error          *string `json:"error,omitempty"`
	Diff           string  `json:"diff,omitempty"`
}

// ResultView is the UI-facing view of a challenge result set.
type ResultView struct {
	Status        string     `json:"status"`
	ExecutionTime float64    `json:"executionTime"`
	Memory        float64    `json:"memory"`
	Total         int        `json:"total"`
	PassedCount   int        `json:"passedCount"`
	HiddenCount   int        `json:"hiddenCount"`
	Cases         []CaseView `json:"cases"`
}

// SessionStateResponse is the full candidate-facing state of a coding section.
type SessionStateResponse struct {
	TestID                string                `json:"testId"`
	CandidateID           string                `json:"candidateId"`
	Completed             bool                  `json:"completed"`
	CurrentChallengeIndex int                   `json:"currentChallengeIndex"`
	Current               *ChallengeDetail      `json:"current,omitempty"`
	Draft                 *models.Draft         `json:"draft,omitempty"`
	Challenges            []ChallengeSummary    `json:"challenges"`
	Results               map[string]ResultView `json:"results"`
	EditorPrefs           models.EditorPrefs    `json:"editorPrefs"`
	TimeSpent             map[int]int64         `json:"timeSpent"`
	Page                  PageResponse          `json:"page"`
	Executing             string                `json:"executing,omitempty"`
}

// DraftResponse returns a challenge draft after a mutation.
type DraftResponse struct {
	ChallengeID string       `json:"challengeId"`
	Draft       models.Draft `json:"draft"`
}

// NavigationResponse describes the active challenge after a navigation request.
type NavigationResponse struct {
	Changed               bool             `json:"changed"`
	CurrentChallengeIndex int              `json:"currentChallengeIndex"`
	Current               *ChallengeDetail `json:"current,omitempty"`
	Draft                 *models.Draft    `json:"draft,omitempty"`
	Page                  PageResponse     `json:"page"`
}

// RunResponse is returned by a preview run.
type RunResponse struct {
	ChallengeID string     `json:"challengeId"`
	Mode        string     `json:"mode"`
	Result      ResultView `json:"result"`
}

// SubmitResponse is returned by a successful submission.
type SubmitResponse struct {
	ChallengeID           string                  `json:"challengeId"`
	Status                models.SubmissionStatus `json:"status"`
	Result                ResultView              `json:"result"`
	TotalScore            *float64                `json:"totalScore,omitempty"`
	GradingStatus         string                  `json:"gradingStatus,omitempty"`
	SectionCompleted      bool                    `json:"sectionCompleted"`
	CurrentChallengeIndex int                     `json:"currentChallengeIndex"`
}
