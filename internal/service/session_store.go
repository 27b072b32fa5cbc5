package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-coding-session/internal/models"
	"github.com/noah-isme/gema-coding-session/internal/repository"
)

// SessionStore persists session snapshots. Storage failures never surface to callers:
// Load falls back to an empty snapshot and Save/Clear only log.
type SessionStore struct {
	repo   repository.SnapshotRepository
	logger zerolog.Logger
	now    func() time.Time
}

// NewSessionStore wraps a snapshot repository.
func NewSessionStore(repo repository.SnapshotRepository, logger zerolog.Logger) *SessionStore {
	return &SessionStore{
		repo:   repo,
		logger: logger.With().Str("component", "session_store").Logger(),
		now:    time.Now,
	}
}

// Load returns the stored snapshot and whether one existed. A completed section always
// loads with TestCompleted set, even after its snapshot has been cleared.
func (s *SessionStore) Load(ctx context.Context, key models.SessionKey) (models.SessionSnapshot, bool) {
	snapshot := models.NewSessionSnapshot(key)
	found := false

	payload, err := s.repo.Get(ctx, key)
	switch {
	case err == nil:
		decoded, decodeErr := decodeSnapshot(payload, key)
		if decodeErr != nil {
			s.logger.Warn().Err(decodeErr).
				Str("test_id", key.TestID).
				Str("candidate_id", key.CandidateID).
				Msg("discarding unreadable session snapshot")
			break
		}
		snapshot = decoded
		found = true
	case errors.Is(err, repository.ErrSnapshotNotFound):
	default:
		s.logger.Warn().Err(err).
			Str("test_id", key.TestID).
			Str("candidate_id", key.CandidateID).
			Msg("session snapshot unavailable, starting fresh")
	}

	completed, err := s.repo.IsCompleted(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("test_id", key.TestID).
			Msg("completion marker unavailable")
	}
	if completed {
		snapshot.TestCompleted = true
	}

	return snapshot, found
}

// Save writes the snapshot and returns what was actually stored. When another writer
// stored a newer version first, submitted statuses from both copies are kept.
func (s *SessionStore) Save(ctx context.Context, key models.SessionKey, snapshot models.SessionSnapshot) models.SessionSnapshot {
	next := snapshot.Clone()
	next.TestID = key.TestID
	next.CandidateID = key.CandidateID

	if payload, err := s.repo.Get(ctx, key); err == nil {
		if stored, decodeErr := decodeSnapshot(payload, key); decodeErr == nil && stored.Version > snapshot.Version {
			next = mergeSnapshots(stored, next)
			s.logger.Debug().
				Str("test_id", key.TestID).
				Int64("stored_version", stored.Version).
				Int64("local_version", snapshot.Version).
				Msg("merged concurrent session snapshot")
		}
	}

	if next.Version < snapshot.Version {
		next.Version = snapshot.Version
	}
	next.Version++
	next.UpdatedAt = s.now().UTC()

	payload, err := json.Marshal(next)
	if err != nil {
		s.logger.Error().Err(err).Str("test_id", key.TestID).Msg("encode session snapshot")
		return snapshot
	}

	if err := s.repo.Put(ctx, key, payload); err != nil {
		s.logger.Warn().Err(err).
			Str("test_id", key.TestID).
			Str("candidate_id", key.CandidateID).
			Msg("persist session snapshot failed")
		return next
	}

	return next
}

// Completed reports whether a completion marker exists for the session. An unreadable
// marker counts as not completed.
func (s *SessionStore) Completed(ctx context.Context, key models.SessionKey) bool {
	completed, err := s.repo.IsCompleted(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("test_id", key.TestID).Msg("completion marker unavailable")
		return false
	}
	return completed
}

// Clear removes the snapshot and leaves a completion marker behind.
func (s *SessionStore) Clear(ctx context.Context, key models.SessionKey) {
	if err := s.repo.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("test_id", key.TestID).Msg("delete session snapshot failed")
	}
	if err := s.repo.MarkCompleted(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("test_id", key.TestID).Msg("mark session completed failed")
	}
}

func decodeSnapshot(payload []byte, key models.SessionKey) (models.SessionSnapshot, error) {
	var snapshot models.SessionSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return models.SessionSnapshot{}, err
	}
	if snapshot.TestID != "" && snapshot.TestID != key.TestID {
		return models.SessionSnapshot{}, errors.New("snapshot belongs to another test")
	}
	snapshot.TestID = key.TestID
	snapshot.CandidateID = key.CandidateID
	snapshot.Normalize()
	return snapshot, nil
}

// mergeSnapshots overlays local onto stored. Local edits win, except that a challenge
// submitted in either copy stays submitted together with its results.
func mergeSnapshots(stored, local models.SessionSnapshot) models.SessionSnapshot {
	merged := local.Clone()
	merged.Version = stored.Version
	merged.TestCompleted = stored.TestCompleted || local.TestCompleted

	for id, status := range stored.SubmissionStatus {
		if status != models.SubmissionStatusSubmitted {
			continue
		}
		if merged.SubmissionStatus[id] == models.SubmissionStatusSubmitted {
			continue
		}
		merged.SubmissionStatus[id] = models.SubmissionStatusSubmitted
		if result, ok := stored.Results[id]; ok {
			merged.Results[id] = result
		}
		if draft, ok := stored.Drafts[id]; ok {
			merged.Drafts[id] = draft
		}
	}

	for idx, ms := range stored.TimeSpent {
		if ms > merged.TimeSpent[idx] {
			merged.TimeSpent[idx] = ms
		}
	}

	return merged
}
