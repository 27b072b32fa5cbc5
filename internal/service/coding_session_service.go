package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/observability"
)

const subscriberBufferSize = 32

// CodingSessionService is the candidate-facing coding section: drafts, navigation,
// preview runs and submissions for one (test, candidate) pair at a time.
type CodingSessionService interface {
	Mount(ctx context.Context, key models.SessionKey, req dto.MountRequest) (dto.SessionStateResponse, error)
	State(ctx context.Context, key models.SessionKey) (dto.SessionStateResponse, error)
	UpdateCode(ctx context.Context, key models.SessionKey, challengeID string, req dto.UpdateDraftRequest) (dto.DraftResponse, error)
	ChangeLanguage(ctx context.Context, key models.SessionKey, challengeID string, req dto.ChangeLanguageRequest) (dto.DraftResponse, error)
	UpdatePreferences(ctx context.Context, key models.SessionKey, prefs models.EditorPrefs) (models.EditorPrefs, error)
	Navigate(ctx context.Context, key models.SessionKey, req dto.NavigateRequest) (dto.NavigationResponse, error)
	Pages(ctx context.Context, key models.SessionKey, size int) (dto.PageResponse, error)
	Run(ctx context.Context, key models.SessionKey, challengeID string) (dto.RunResponse, error)
	Submit(ctx context.Context, key models.SessionKey, challengeID string) (dto.SubmitResponse, error)
	End(ctx context.Context, key models.SessionKey) error
	Subscribe(ctx context.Context, key models.SessionKey) (<-chan SessionEvent, func(), error)
}

// CodingSessionConfig tunes the session service.
type CodingSessionConfig struct {
	PageSize         int
	PersistTimeout   time.Duration
	ExecutionTimeout time.Duration
}

type codingSessionService struct {
	catalog     ChallengeCatalogService
	store       *SessionStore
	runner      *TestCaseRunner
	coordinator *SubmissionCoordinator
	aggregator  ResultAggregator
	notifier    SectionCompletionNotifier
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	cfg         CodingSessionConfig
	now         func() time.Time

	mu       sync.Mutex
	sessions map[models.SessionKey]*codingSession
}

// NewCodingSessionService wires the session pipeline together.
func NewCodingSessionService(catalog ChallengeCatalogService, store *SessionStore, runner *TestCaseRunner, coordinator *SubmissionCoordinator, notifier SectionCompletionNotifier, validate *validator.Validate, logger zerolog.Logger, cfg CodingSessionConfig) CodingSessionService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 10
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = 5 * time.Minute
	}

	return &codingSessionService{
		catalog:     catalog,
		store:       store,
		runner:      runner,
		coordinator: coordinator,
		notifier:    notifier,
		validator:   validate,
		logger:      logger.With().Str("component", "coding_session_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-coding-session/internal/service/coding_session"),
		cfg:         cfg,
		now:         time.Now,
		sessions:    make(map[models.SessionKey]*codingSession),
	}
}

func (s *codingSessionService) Mount(ctx context.Context, key models.SessionKey, req dto.MountRequest) (dto.SessionStateResponse, error) {
	ctx, span := s.tracer.Start(ctx, "coding_session.mount", trace.WithAttributes(
		attribute.String("test.id", key.TestID),
		attribute.Bool("parent.completed", req.ParentCompleted),
	))
	defer span.End()

	sess, err := s.mount(ctx, key, req.ParentCompleted)
	if err != nil {
		return dto.SessionStateResponse{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if req.ParentCompleted && !sess.completed {
		sess.completed = true
		sess.snapshot.TestCompleted = true
		sess.machine.ForceSubmitted(sess.ids)
		s.store.Clear(ctx, key)
	}
	return sess.state(s.cfg.PageSize, s.aggregator), nil
}

// mount returns the in-memory session, restoring it from the store once per process.
func (s *codingSessionService) mount(ctx context.Context, key models.SessionKey, parentCompleted bool) (*codingSession, error) {
	s.mu.Lock()
	existing := s.sessions[key]
	s.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	challenges, err := s.catalog.Challenges(ctx, key.TestID)
	if err != nil {
		return nil, err
	}

	snapshot, found := s.store.Load(ctx, key)
	sess := newCodingSession(key, challenges, snapshot, parentCompleted, s.now)
	sess.bus.Subscribe(s.persistenceSubscriber(sess))

	s.mu.Lock()
	if raced := s.sessions[key]; raced != nil {
		s.mu.Unlock()
		return raced, nil
	}
	s.sessions[key] = sess
	s.mu.Unlock()
	observability.ActiveSessions().Inc()

	sess.mu.Lock()
	if sess.completed {
		if parentCompleted && !snapshot.TestCompleted {
			s.store.Clear(ctx, key)
		}
	} else {
		sess.publish(EventMounted, "", "")
	}
	sess.mu.Unlock()

	s.logger.Info().
		Str("test_id", key.TestID).
		Str("candidate_id", key.CandidateID).
		Bool("restored", found).
		Bool("completed", sess.completed).
		Int("challenges", len(challenges)).
		Msg("coding session mounted")

	return sess, nil
}

// persistenceSubscriber is the only writer to the store for a session. It runs with the
// session lock held, in publish order.
func (s *codingSessionService) persistenceSubscriber(sess *codingSession) func(SessionEvent) {
	return func(evt SessionEvent) {
		if !evt.Type.Persists() {
			return
		}
		if sess.completed && evt.Type != EventSectionCompleted {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()

		if evt.Type == EventSectionCompleted {
			s.store.Clear(ctx, sess.key)
			return
		}
		sess.adopt(s.store.Save(ctx, sess.key, evt.snapshot))
	}
}

func (s *codingSessionService) State(ctx context.Context, key models.SessionKey) (dto.SessionStateResponse, error) {
	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.SessionStateResponse{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state(s.cfg.PageSize, s.aggregator), nil
}

func (s *codingSessionService) UpdateCode(ctx context.Context, key models.SessionKey, challengeID string, req dto.UpdateDraftRequest) (dto.DraftResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.DraftResponse{}, err
	}

	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.DraftResponse{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ch, idx, err := sess.challenge(challengeID)
	if err != nil {
		return dto.DraftResponse{}, err
	}
	if err := sess.editable(ch.ID); err != nil {
		return dto.DraftResponse{}, err
	}

	sess.ensureDraft(idx)
	draft := sess.setCode(ch, req.Code)
	sess.publish(EventDraftUpdated, ch.ID, "")

	return dto.DraftResponse{ChallengeID: ch.ID, Draft: draft}, nil
}

func (s *codingSessionService) ChangeLanguage(ctx context.Context, key models.SessionKey, challengeID string, req dto.ChangeLanguageRequest) (dto.DraftResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.DraftResponse{}, err
	}

	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.DraftResponse{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	ch, idx, err := sess.challenge(challengeID)
	if err != nil {
		return dto.DraftResponse{}, err
	}
	if err := sess.editable(ch.ID); err != nil {
		return dto.DraftResponse{}, err
	}

	sess.ensureDraft(idx)
	draft, changed, err := sess.changeLanguage(ch, strings.ToLower(strings.TrimSpace(req.Language)))
	if err != nil {
		return dto.DraftResponse{}, err
	}
	if changed {
		sess.publish(EventLanguageChanged, ch.ID, "")
	}

	return dto.DraftResponse{ChallengeID: ch.ID, Draft: draft}, nil
}

func (s *codingSessionService) UpdatePreferences(ctx context.Context, key models.SessionKey, prefs models.EditorPrefs) (models.EditorPrefs, error) {
	if err := s.validator.Struct(prefs); err != nil {
		return models.EditorPrefs{}, err
	}

	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return models.EditorPrefs{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.completed {
		return models.EditorPrefs{}, ErrSessionCompleted
	}

	current := sess.snapshot.EditorPrefs
	if prefs.Theme == "" {
		prefs.Theme = current.Theme
	}
	if prefs.FontSize == 0 {
		prefs.FontSize = current.FontSize
	}
	if prefs.TabSize == 0 {
		prefs.TabSize = current.TabSize
	}
	if prefs.KeyBinding == "" {
		prefs.KeyBinding = current.KeyBinding
	}

	sess.snapshot.EditorPrefs = prefs
	sess.publish(EventPrefsUpdated, "", "")
	return prefs, nil
}

func (s *codingSessionService) Navigate(ctx context.Context, key models.SessionKey, req dto.NavigateRequest) (dto.NavigationResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.NavigationResponse{}, err
	}

	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.NavigationResponse{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	var changed bool
	switch req.Action {
	case "next":
		changed = sess.navigator.Next()
	case "previous":
		changed = sess.navigator.Previous()
	case "jump":
		if req.Index != nil {
			changed = sess.navigator.JumpTo(*req.Index)
		}
	}
	if changed {
		sess.publish(EventNavigated, sess.ids[sess.navigator.Current()], "")
	}

	detail, draft := sess.activeView()
	return dto.NavigationResponse{
		Changed:               changed,
		CurrentChallengeIndex: sess.navigator.Current(),
		Current:               detail,
		Draft:                 draft,
		Page:                  sess.navigator.Page(s.cfg.PageSize),
	}, nil
}

func (s *codingSessionService) Pages(ctx context.Context, key models.SessionKey, size int) (dto.PageResponse, error) {
	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.PageResponse{}, err
	}
	if size <= 0 {
		size = s.cfg.PageSize
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.navigator.Page(size), nil
}

func (s *codingSessionService) Run(ctx context.Context, key models.SessionKey, challengeID string) (dto.RunResponse, error) {
	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.RunResponse{}, err
	}

	sess.mu.Lock()
	ch, idx, err := sess.challenge(challengeID)
	if err == nil {
		err = sess.editable(ch.ID)
	}
	if err == nil && sess.executing != "" {
		err = ErrExecutionInProgress
	}
	var draft models.Draft
	if err == nil {
		sess.ensureDraft(idx)
		draft = sess.snapshot.Drafts[ch.ID]
		err = s.runner.Validate(ch, draft, ModeRun)
	}
	if err != nil {
		sess.mu.Unlock()
		return dto.RunResponse{}, err
	}
	sess.executing = ch.ID
	sess.mu.Unlock()

	execCtx, cancel := s.executionContext(ctx)
	defer cancel()
	results, runErr := s.runner.Preview(execCtx, ch, draft, sess.progress)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.executing = ""
	if runErr != nil {
		return dto.RunResponse{}, runErr
	}

	set := s.aggregator.Aggregate(results)
	observability.Executions().WithLabelValues(string(ModeRun), set.Status).Inc()
	if sess.machine.Status(ch.ID) != models.SubmissionStatusSubmitted {
		sess.snapshot.Results[ch.ID] = set
		sess.publish(EventResultsUpdated, ch.ID, "")
	}

	return dto.RunResponse{
		ChallengeID: ch.ID,
		Mode:        string(ModeRun),
		Result:      s.aggregator.UIView(set),
	}, nil
}

func (s *codingSessionService) Submit(ctx context.Context, key models.SessionKey, challengeID string) (dto.SubmitResponse, error) {
	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return dto.SubmitResponse{}, err
	}

	sess.mu.Lock()
	ch, idx, err := sess.challenge(challengeID)
	if err == nil {
		err = sess.editable(ch.ID)
	}
	if err == nil && sess.executing != "" {
		err = ErrExecutionInProgress
	}
	if err == nil && s.store.Completed(ctx, key) {
		sess.markCompleted()
		err = ErrSessionCompleted
	}
	var draft models.Draft
	if err == nil {
		sess.ensureDraft(idx)
		draft = sess.snapshot.Drafts[ch.ID]
		err = s.runner.Validate(ch, draft, ModeSubmit)
	}
	if err == nil {
		err = sess.machine.Begin(ch.ID)
	}
	if err != nil {
		sess.mu.Unlock()
		return dto.SubmitResponse{}, err
	}
	sess.executing = ch.ID
	sess.publish(EventStatusChanged, ch.ID, models.SubmissionStatusSubmitting)

	// Persisting the submitting status picks up writes from other sessions on the same key.
	if err := sess.supersededBy(ch.ID); err != nil {
		sess.executing = ""
		sess.mu.Unlock()
		return dto.SubmitResponse{}, err
	}
	completing := sess.machine.OnlyRemaining(sess.ids, ch.ID)
	sess.mu.Unlock()

	execCtx, cancel := s.executionContext(ctx)
	defer cancel()
	receipt, submitErr := s.coordinator.Execute(execCtx, SubmissionAttempt{
		TestID:     key.TestID,
		Challenge:  ch,
		Draft:      draft,
		Completing: completing,
		Progress:   sess.progress,
	})

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.executing = ""

	if err := sess.supersededBy(ch.ID); err != nil {
		s.logger.Warn().
			Str("test_id", key.TestID).
			Str("challenge_id", ch.ID).
			Msg("challenge submitted by another session while this attempt was in flight")
		return dto.SubmitResponse{}, err
	}

	if submitErr != nil {
		sess.machine.Fail(ch.ID)
		sess.publish(EventStatusChanged, ch.ID, models.SubmissionStatusIdle)
		return dto.SubmitResponse{}, submitErr
	}

	if err := sess.machine.Succeed(ch.ID); err != nil {
		s.logger.Error().Err(err).Str("challenge_id", ch.ID).Msg("submission state out of sync")
		return dto.SubmitResponse{}, err
	}
	sess.snapshot.Results[ch.ID] = receipt.Results
	sess.publish(EventStatusChanged, ch.ID, models.SubmissionStatusSubmitted)

	response := dto.SubmitResponse{
		ChallengeID:   ch.ID,
		Status:        models.SubmissionStatusSubmitted,
		Result:        s.aggregator.UIView(receipt.Results),
		TotalScore:    receipt.Response.Submission.TotalScore,
		GradingStatus: receipt.Response.Submission.Status,
	}

	if sess.machine.AllSubmitted(sess.ids) {
		s.completeSection(sess)
		response.SectionCompleted = true
	} else if next, ok := sess.navigator.NextUnsubmitted(sess.isSubmitted); ok && sess.navigator.JumpTo(next) {
		sess.publish(EventNavigated, sess.ids[next], "")
	}
	response.CurrentChallengeIndex = sess.navigator.Current()

	return response, nil
}

// completeSection signals completion exactly once. Callers hold the session lock.
func (s *codingSessionService) completeSection(sess *codingSession) {
	if sess.completed {
		return
	}
	sess.completed = true
	sess.snapshot.TestCompleted = true
	sess.publish(EventSectionCompleted, "", "")
	observability.SectionsCompleted().Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.notifier.NotifySectionCompleted(ctx, sess.key, s.now()); err != nil {
		s.logger.Warn().Err(err).
			Str("test_id", sess.key.TestID).
			Str("candidate_id", sess.key.CandidateID).
			Msg("section completion notification failed")
	}

	s.logger.Info().
		Str("test_id", sess.key.TestID).
		Str("candidate_id", sess.key.CandidateID).
		Msg("coding section completed")
}

func (s *codingSessionService) End(ctx context.Context, key models.SessionKey) error {
	s.mu.Lock()
	sess := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()

	if sess == nil {
		s.store.Clear(ctx, key)
		return nil
	}
	observability.ActiveSessions().Dec()

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.completed {
		sess.completed = true
		sess.snapshot.TestCompleted = true
		s.store.Clear(ctx, key)
	}
	sess.publish(EventEnded, "", "")
	return nil
}

func (s *codingSessionService) Subscribe(ctx context.Context, key models.SessionKey) (<-chan SessionEvent, func(), error) {
	sess, err := s.mount(ctx, key, false)
	if err != nil {
		return nil, nil, err
	}

	events := make(chan SessionEvent, subscriberBufferSize)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := sess.bus.Subscribe(func(evt SessionEvent) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- evt:
		default:
			s.logger.Debug().Str("test_id", key.TestID).Str("event", string(evt.Type)).Msg("dropping session event for slow subscriber")
		}
	})

	cancel := func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			close(events)
		}
	}
	return events, cancel, nil
}

// executionContext detaches judge and grading calls from request cancellation so
// in-flight work completes and is recorded, bounded by the execution timeout.
func (s *codingSessionService) executionContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ExecutionTimeout)
}
