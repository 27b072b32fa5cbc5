package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coding-session/internal/dto"
	"github.com/noah-isme/gema-coding-session/internal/middleware"
	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/service"
)

type stubSessionService struct {
	state      dto.SessionStateResponse
	submit     dto.SubmitResponse
	err        error
	lastKey    models.SessionKey
	lastMount  dto.MountRequest
	lastDraft  dto.UpdateDraftRequest
	lastNav    dto.NavigateRequest
	lastChID   string
	lastSize   int
	endedCalls int
}

func (s *stubSessionService) Mount(_ context.Context, key models.SessionKey, req dto.MountRequest) (dto.SessionStateResponse, error) {
	s.lastKey, s.lastMount = key, req
	return s.state, s.err
}

func (s *stubSessionService) State(_ context.Context, key models.SessionKey) (dto.SessionStateResponse, error) {
	s.lastKey = key
	return s.state, s.err
}

func (s *stubSessionService) UpdateCode(_ context.Context, key models.SessionKey, challengeID string, req dto.UpdateDraftRequest) (dto.DraftResponse, error) {
	s.lastKey, s.lastChID, s.lastDraft = key, challengeID, req
	return dto.DraftResponse{ChallengeID: challengeID, Draft: models.Draft{Code: req.Code, Language: "python"}}, s.err
}

func (s *stubSessionService) ChangeLanguage(_ context.Context, key models.SessionKey, challengeID string, req dto.ChangeLanguageRequest) (dto.DraftResponse, error) {
	s.lastKey, s.lastChID = key, challengeID
	return dto.DraftResponse{ChallengeID: challengeID, Draft: models.Draft{Language: req.Language}}, s.err
}

func (s *stubSessionService) UpdatePreferences(_ context.Context, key models.SessionKey, prefs models.EditorPrefs) (models.EditorPrefs, error) {
	s.lastKey = key
	return prefs, s.err
}

func (s *stubSessionService) Navigate(_ context.Context, key models.SessionKey, req dto.NavigateRequest) (dto.NavigationResponse, error) {
	s.lastKey, s.lastNav = key, req
	return dto.NavigationResponse{Changed: true, CurrentChallengeIndex: 1}, s.err
}

func (s *stubSessionService) Pages(_ context.Context, key models.SessionKey, size int) (dto.PageResponse, error) {
	s.lastKey, s.lastSize = key, size
	return dto.PageResponse{PageSize: size}, s.err
}

func (s *stubSessionService) Run(_ context.Context, key models.SessionKey, challengeID string) (dto.RunResponse, error) {
	s.lastKey, s.lastChID = key, challengeID
	return dto.RunResponse{ChallengeID: challengeID, Mode: "run"}, s.err
}

func (s *stubSessionService) Submit(_ context.Context, key models.SessionKey, challengeID string) (dto.SubmitResponse, error) {
	s.lastKey, s.lastChID = key, challengeID
	return s.submit, s.err
}

func (s *stubSessionService) End(_ context.Context, key models.SessionKey) error {
	s.lastKey = key
	s.endedCalls++
	return s.err
}

func (s *stubSessionService) Subscribe(context.Context, models.SessionKey) (<-chan service.SessionEvent, func(), error) {
	events := make(chan service.SessionEvent)
	close(events)
	return events, func() {}, s.err
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Code    string            `json:"code"`
	Details map[string]string `json:"details"`
	Data    json.RawMessage   `json:"data"`
}

func newSessionApp(svc service.CodingSessionService, candidateID string) *fiber.App {
	app := fiber.New()
	group := app.Group("/api/v2/coding-sessions", func(c *fiber.Ctx) error {
		if candidateID != "" {
			c.Locals(middleware.LocalCandidateID, candidateID)
		}
		return c.Next()
	})
	h := NewCodingSessionHandler(svc, zerolog.Nop())
	h.RegisterExecution(group)
	h.Register(group)
	return app
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestCodingSessionHandlerBindsCandidateAndTest(t *testing.T) {
	svc := &stubSessionService{state: dto.SessionStateResponse{TestID: "test-1", CandidateID: "cand-1"}}
	app := newSessionApp(svc, "cand-1")

	status, body := doRequest(t, app, http.MethodPost, "/api/v2/coding-sessions/test-1/mount", map[string]bool{"parentCompleted": true})
	require.Equal(t, http.StatusOK, status)
	require.True(t, body.Success)
	require.Equal(t, models.SessionKey{TestID: "test-1", CandidateID: "cand-1"}, svc.lastKey)
	require.True(t, svc.lastMount.ParentCompleted)

	status, _ = doRequest(t, app, http.MethodPut, "/api/v2/coding-sessions/test-1/drafts/sum", map[string]string{"code": "print(1)"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "sum", svc.lastChID)
	require.Equal(t, "print(1)", svc.lastDraft.Code)

	status, _ = doRequest(t, app, http.MethodPost, "/api/v2/coding-sessions/test-1/navigate", map[string]string{"action": " NEXT "})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "next", svc.lastNav.Action)

	status, _ = doRequest(t, app, http.MethodGet, "/api/v2/coding-sessions/test-1/pages?size=5", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 5, svc.lastSize)

	status, _ = doRequest(t, app, http.MethodGet, "/api/v2/coding-sessions/test-1/pages?size=abc", nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = doRequest(t, app, http.MethodPost, "/api/v2/coding-sessions/test-1/challenges/sum/run", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "sum", svc.lastChID)

	status, _ = doRequest(t, app, http.MethodDelete, "/api/v2/coding-sessions/test-1", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, svc.endedCalls)
}

func TestCodingSessionHandlerRequiresCandidate(t *testing.T) {
	app := newSessionApp(&stubSessionService{}, "")

	status, body := doRequest(t, app, http.MethodGet, "/api/v2/coding-sessions/test-1", nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.False(t, body.Success)
}

func TestCodingSessionHandlerErrorMapping(t *testing.T) {
	validate := validator.New()
	validationErr := validate.Struct(dto.NavigateRequest{Action: "sideways"})
	require.Error(t, validationErr)

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "already submitted", err: service.ErrAlreadySubmitted, status: http.StatusConflict, code: "already_submitted"},
		{name: "in progress", err: service.ErrSubmissionInProgress, status: http.StatusConflict, code: "submission_in_progress"},
		{name: "executing", err: service.ErrExecutionInProgress, status: http.StatusConflict, code: "execution_in_progress"},
		{name: "completed", err: service.ErrSessionCompleted, status: http.StatusConflict, code: "session_completed"},
		{name: "unknown test", err: service.ErrTestNotFound, status: http.StatusNotFound, code: "test_not_found"},
		{name: "unknown challenge", err: service.ErrChallengeNotFound, status: http.StatusNotFound, code: "challenge_not_found"},
		{name: "empty draft", err: service.ErrEmptyDraft, status: http.StatusBadRequest, code: "empty_draft"},
		{name: "grading", err: fmt.Errorf("%w: timeout", service.ErrGradingFailed), status: http.StatusBadGateway, code: "grading_failed"},
		{name: "validation", err: validationErr, status: http.StatusBadRequest},
		{name: "unexpected", err: fmt.Errorf("boom"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newSessionApp(&stubSessionService{err: tt.err}, "cand-1")

			status, body := doRequest(t, app, http.MethodPost, "/api/v2/coding-sessions/test-1/challenges/sum/submit", nil)
			require.Equal(t, tt.status, status)
			require.False(t, body.Success)
			require.Equal(t, tt.code, body.Code)
			if tt.name == "validation" {
				require.Equal(t, "oneof", body.Details["Action"])
			}
		})
	}
}

func TestCodingSessionHandlerRejectsPlainRequestToStream(t *testing.T) {
	app := newSessionApp(&stubSessionService{}, "cand-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v2/coding-sessions/test-1/ws", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
}
