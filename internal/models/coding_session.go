package models

import "time"

// SubmissionStatus is the per-challenge submission state. The zero value is idle.
type SubmissionStatus string

const (
	SubmissionStatusIdle       SubmissionStatus = ""
	SubmissionStatusSubmitting SubmissionStatus = "submitting"
	SubmissionStatusSubmitted  SubmissionStatus = "submitted"
)

// Result verdicts for a challenge.
const (
	ResultStatusPassed = "Passed"
	ResultStatusFailed = "Failed"
)

// Draft is the candidate's current code and language for a challenge.
type Draft struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// TestCaseResult is the outcome of running one test case through the judge.
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

// ChallengeResultSet aggregates the results of a batch for one challenge.
type ChallengeResultSet struct {
	Status          string           `json:"status"`
	ExecutionTime   float64          `json:"executionTime"`
	Memory          float64          `json:"memory"`
	TestCaseResults []TestCaseResult `json:"testCaseResults"`
}

// Passed reports whether the aggregate verdict is Passed.
func (r ChallengeResultSet) Passed() bool {
	return r.Status == ResultStatusPassed
}

// EditorPrefs are the candidate's editor settings.
type EditorPrefs struct {
	Theme      string `json:"theme" validate:"omitempty,oneof=light dark high-contrast"`
	FontSize   int    `json:"fontSize" validate:"omitempty,min=8,max=48"`
	TabSize    int    `json:"tabSize" validate:"omitempty,oneof=2 4 8"`
	KeyBinding string `json:"keyBinding" validate:"omitempty,oneof=default vim emacs"`
	WordWrap   bool   `json:"wordWrap"`
}

// DefaultEditorPrefs returns the preferences used for a fresh session.
func DefaultEditorPrefs() EditorPrefs {
	return EditorPrefs{Theme: "dark", FontSize: 14, TabSize: 4, KeyBinding: "default"}
}

// SessionKey identifies one candidate's coding section within a test.
type SessionKey struct {
	TestID      string
	CandidateID string
}

// SessionSnapshot is the persisted state of a candidate's coding section.
type SessionSnapshot struct {
	TestID                string                        `json:"testId"`
	CandidateID           string                        `json:"candidateId"`
	Version               int64                         `json:"version"`
	TestCompleted         bool                          `json:"testCompleted"`
	CurrentChallengeIndex int                           `json:"currentChallengeIndex"`
	Drafts                map[string]Draft              `json:"drafts"`
	LanguageDrafts        map[string]map[string]string  `json:"languageDrafts"`
	SubmissionStatus      map[string]SubmissionStatus   `json:"submissionStatus"`
	Results               map[string]ChallengeResultSet `json:"results"`
	EditorPrefs           EditorPrefs                   `json:"editorPrefs"`
	TimeSpent             map[int]int64                 `json:"timeSpent"`
	UpdatedAt             time.Time                     `json:"updatedAt"`
}

// NewSessionSnapshot returns an empty snapshot for the key.
func NewSessionSnapshot(key SessionKey) SessionSnapshot {
	return SessionSnapshot{
		TestID:           key.TestID,
		CandidateID:      key.CandidateID,
		Drafts:           map[string]Draft{},
		LanguageDrafts:   map[string]map[string]string{},
		SubmissionStatus: map[string]SubmissionStatus{},
		Results:          map[string]ChallengeResultSet{},
		EditorPrefs:      DefaultEditorPrefs(),
		TimeSpent:        map[int]int64{},
	}
}

// Normalize fills nil maps so decoded snapshots can be mutated safely.
func (s *SessionSnapshot) Normalize() {
	if s.Drafts == nil {
		s.Drafts = map[string]Draft{}
	}
	if s.LanguageDrafts == nil {
		s.LanguageDrafts = map[string]map[string]string{}
	}
	if s.SubmissionStatus == nil {
		s.SubmissionStatus = map[string]SubmissionStatus{}
	}
	if s.Results == nil {
		s.Results = map[string]ChallengeResultSet{}
	}
	if s.TimeSpent == nil {
		s.TimeSpent = map[int]int64{}
	}
	if s.EditorPrefs == (EditorPrefs{}) {
		s.EditorPrefs = DefaultEditorPrefs()
	}
}

// Clone returns a deep copy of the snapshot.
func (s SessionSnapshot) Clone() SessionSnapshot {
	clone := s
	clone.Drafts = make(map[string]Draft, len(s.Drafts))
	for id, draft := range s.Drafts {
		clone.Drafts[id] = draft
	}
	clone.LanguageDrafts = make(map[string]map[string]string, len(s.LanguageDrafts))
	for id, byLang := range s.LanguageDrafts {
		inner := make(map[string]string, len(byLang))
		for lang, code := range byLang {
			inner[lang] = code
		}
		clone.LanguageDrafts[id] = inner
	}
	clone.SubmissionStatus = make(map[string]SubmissionStatus, len(s.SubmissionStatus))
	for id, status := range s.SubmissionStatus {
		clone.SubmissionStatus[id] = status
	}
	clone.Results = make(map[string]ChallengeResultSet, len(s.Results))
	for id, set := range s.Results {
		results := make([]TestCaseResult, len(set.TestCaseResults))
		copy(results, set.TestCaseResults)
		set.TestCaseResults = results
		clone.Results[id] = set
	}
	clone.TimeSpent = make(map[int]int64, len(s.TimeSpent))
	for idx, ms := range s.TimeSpent {
		clone.TimeSpent[idx] = ms
	}
	return clone
}

// SessionSnapshotRecord stores a serialized snapshot in the relational backend.
type SessionSnapshotRecord struct {
	TestID      string `gorm:"primaryKey;size:64"`
	CandidateID string `gorm:"primaryKey;size:64"`
	Payload     []byte `gorm:"not null"`
	Completed   bool   `gorm:"not null;default:false"`
	UpdatedAt   time.Time
}

// TableName pins the table name used by the snapshot repository.
func (SessionSnapshotRecord) TableName() string {
	return "session_snapshots"
}
