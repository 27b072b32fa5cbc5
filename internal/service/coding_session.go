package service

import (
	"errors"
	"sync"
	"time"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/models"
)

var (
	// ErrChallengeNotFound indicates the challenge is not part of the test.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrSessionCompleted indicates the coding section is read-only.
	ErrSessionCompleted = errors.New("coding section already completed")
	// ErrExecutionInProgress indicates another run or submission is executing.
	ErrExecutionInProgress = errors.New("another execution is in progress")
)

// codingSession is one candidate's in-memory coding section. Every field is guarded by
// mu; judge and grading calls happen with mu released.
type codingSession struct {
	mu         sync.Mutex
	key        models.SessionKey
	challenges []models.Challenge
	ids        []string
	positions  map[string]int
	snapshot   models.SessionSnapshot
	navigator  *ChallengeNavigator
	machine    *SubmissionStateMachine
	bus        *eventBus
	executing  string
	completed  bool
	now        func() time.Time
}

func newCodingSession(key models.SessionKey, challenges []models.Challenge, snapshot models.SessionSnapshot, parentCompleted bool, now func() time.Time) *codingSession {
	if now == nil {
		now = time.Now
	}
	snapshot.Normalize()
	snapshot.TestID = key.TestID
	snapshot.CandidateID = key.CandidateID

	s := &codingSession{
		key:        key,
		challenges: challenges,
		ids:        make([]string, len(challenges)),
		positions:  make(map[string]int, len(challenges)),
		snapshot:   snapshot,
		bus:        newEventBus(),
		now:        now,
	}
	for i, ch := range challenges {
		s.ids[i] = ch.ID
		s.positions[ch.ID] = i
	}

	s.machine = NewSubmissionStateMachine(s.snapshot.SubmissionStatus)
	s.machine.ResetInFlight()

	if snapshot.TestCompleted || parentCompleted {
		s.markCompleted()
	}

	s.navigator = NewChallengeNavigator(len(challenges), snapshot.CurrentChallengeIndex, snapshot.TimeSpent, now, s.ensureDraft)
	if len(challenges) > 0 {
		s.ensureDraft(s.navigator.Current())
	}
	s.snapshot.CurrentChallengeIndex = s.navigator.Current()
	return s
}

func (s *codingSession) challenge(challengeID string) (models.Challenge, int, error) {
	idx, ok := s.positions[challengeID]
	if !ok {
		return models.Challenge{}, -1, ErrChallengeNotFound
	}
	return s.challenges[idx], idx, nil
}

// editable rejects mutations of completed sections and of challenges that left idle.
func (s *codingSession) editable(challengeID string) error {
	if s.completed {
		return ErrSessionCompleted
	}
	switch s.machine.Status(challengeID) {
	case models.SubmissionStatusSubmitted:
		return ErrAlreadySubmitted
	case models.SubmissionStatusSubmitting:
		return ErrSubmissionInProgress
	}
	return nil
}

// ensureDraft initialises the draft of the challenge at index from its starter code when
// none exists or the stored language is no longer allowed.
func (s *codingSession) ensureDraft(index int) {
	if index < 0 || index >= len(s.challenges) {
		return
	}
	ch := s.challenges[index]
	if draft, ok := s.snapshot.Drafts[ch.ID]; ok {
		if ch.AllowsLanguage(draft.Language) || len(ch.AllowedLanguages) == 0 {
			return
		}
	}

	language := ch.DefaultLanguage()
	s.snapshot.Drafts[ch.ID] = models.Draft{Code: s.codeFor(ch, language), Language: language}
}

func (s *codingSession) codeFor(ch models.Challenge, language string) string {
	if byLanguage, ok := s.snapshot.LanguageDrafts[ch.ID]; ok {
		if code, ok := byLanguage[language]; ok {
			return code
		}
	}
	return ch.Implementation(language).VisibleCode
}

func (s *codingSession) remember(challengeID, language, code string) {
	if language == "" {
		return
	}
	byLanguage, ok := s.snapshot.LanguageDrafts[challengeID]
	if !ok {
		byLanguage = map[string]string{}
		s.snapshot.LanguageDrafts[challengeID] = byLanguage
	}
	byLanguage[language] = code
}

func (s *codingSession) setCode(ch models.Challenge, code string) models.Draft {
	draft := s.snapshot.Drafts[ch.ID]
	draft.Code = code
	s.snapshot.Drafts[ch.ID] = draft
	s.remember(ch.ID, draft.Language, code)
	return draft
}

// changeLanguage switches the draft language, restoring the code last written in the
// target language or its starter code.
func (s *codingSession) changeLanguage(ch models.Challenge, language string) (models.Draft, bool, error) {
	if !ch.AllowsLanguage(language) {
		return models.Draft{}, false, ErrUnsupportedLanguage
	}

	current := s.snapshot.Drafts[ch.ID]
	if current.Language == language {
		return current, false, nil
	}

	s.remember(ch.ID, current.Language, current.Code)
	draft := models.Draft{Code: s.codeFor(ch, language), Language: language}
	s.snapshot.Drafts[ch.ID] = draft
	return draft, true, nil
}

func (s *codingSession) isSubmitted(index int) bool {
	return s.machine.Status(s.ids[index]) == models.SubmissionStatusSubmitted
}

// publish syncs navigation state into the snapshot and emits the event. Callers hold mu.
func (s *codingSession) publish(evtType SessionEventType, challengeID string, status models.SubmissionStatus) {
	s.snapshot.CurrentChallengeIndex = s.navigator.Current()
	s.snapshot.TimeSpent = s.navigator.TimeSpent()

	s.bus.Publish(SessionEvent{
		Type:        evtType,
		TestID:      s.key.TestID,
		CandidateID: s.key.CandidateID,
		ChallengeID: challengeID,
		Index:       s.navigator.Current(),
		Status:      status,
		At:          s.now().UTC(),
		snapshot:    s.snapshot,
	})
}

// progress forwards runner progress to subscribers. It runs without mu.
func (s *codingSession) progress(evt ProgressEvent) {
	event := evt
	s.bus.Publish(SessionEvent{
		Type:        EventRunProgress,
		TestID:      s.key.TestID,
		CandidateID: s.key.CandidateID,
		ChallengeID: evt.ChallengeID,
		Index:       -1,
		Progress:    &event,
		At:          s.now().UTC(),
	})
}

// adopt applies what the store actually wrote: the new version plus any challenge another
// writer submitted in the meantime. Callers hold mu.
func (s *codingSession) adopt(stored models.SessionSnapshot) {
	s.snapshot.Version = stored.Version
	if stored.TestCompleted && !s.completed {
		s.markCompleted()
		return
	}
	for id, status := range stored.SubmissionStatus {
		if status != models.SubmissionStatusSubmitted || s.machine.Status(id) == models.SubmissionStatusSubmitted {
			continue
		}
		if _, known := s.positions[id]; !known {
			continue
		}
		s.snapshot.SubmissionStatus[id] = models.SubmissionStatusSubmitted
		if result, ok := stored.Results[id]; ok {
			s.snapshot.Results[id] = result
		}
		if draft, ok := stored.Drafts[id]; ok {
			s.snapshot.Drafts[id] = draft
		}
	}
}

// supersededBy reports whether another session finished challengeID or the whole
// section after this one started submitting it.
func (s *codingSession) supersededBy(challengeID string) error {
	if s.completed {
		return ErrSessionCompleted
	}
	if s.machine.Status(challengeID) == models.SubmissionStatusSubmitted {
		return ErrAlreadySubmitted
	}
	return nil
}

// markCompleted switches the session to the read-only completed view.
func (s *codingSession) markCompleted() {
	s.completed = true
	s.snapshot.TestCompleted = true
	s.machine.ForceSubmitted(s.ids)
}

func (s *codingSession) state(pageSize int, aggregator ResultAggregator) dto.SessionStateResponse {
	current := s.navigator.Current()
	response := dto.SessionStateResponse{
		TestID:                s.key.TestID,
		CandidateID:           s.key.CandidateID,
		Completed:             s.completed,
		CurrentChallengeIndex: current,
		Challenges:            make([]dto.ChallengeSummary, 0, len(s.challenges)),
		Results:               make(map[string]dto.ResultView, len(s.snapshot.Results)),
		EditorPrefs:           s.snapshot.EditorPrefs,
		TimeSpent:             s.navigator.TimeSpent(),
		Page:                  s.navigator.Page(pageSize),
		Executing:             s.executing,
	}

	for i, ch := range s.challenges {
		response.Challenges = append(response.Challenges, dto.ChallengeSummary{
			Index:      i,
			ID:         ch.ID,
			Title:      ch.Title,
			Difficulty: ch.Difficulty,
			Marks:      ch.Marks,
			Status:     s.machine.Status(ch.ID),
		})
		if set, ok := s.snapshot.Results[ch.ID]; ok {
			response.Results[ch.ID] = aggregator.UIView(set)
		}
	}

	if current < len(s.challenges) {
		detail, draft := s.activeView()
		response.Current = detail
		response.Draft = draft
	}
	return response
}

func (s *codingSession) activeView() (*dto.ChallengeDetail, *models.Draft) {
	if len(s.challenges) == 0 {
		return nil, nil
	}
	ch := s.challenges[s.navigator.Current()]
	detail := dto.NewChallengeDetail(ch)
	if draft, ok := s.snapshot.Drafts[ch.ID]; ok {
		return &detail, &draft
	}
	return &detail, nil
}
