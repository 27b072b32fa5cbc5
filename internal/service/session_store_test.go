package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-coding-session/internal/models"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	repo, _ := newRedisSnapshotRepo(t)
	store := NewSessionStore(repo, zerolog.Nop())
	ctx := context.Background()
	key := models.SessionKey{TestID: "test-1", CandidateID: "cand-1"}

	snapshot, found := store.Load(ctx, key)
	require.False(t, found)
	require.Equal(t, models.DefaultEditorPrefs(), snapshot.EditorPrefs)

	snapshot.Drafts["a"] = models.Draft{Code: "print(1)", Language: "python"}
	snapshot.CurrentChallengeIndex = 1
	stored := store.Save(ctx, key, snapshot)
	require.Equal(t, int64(1), stored.Version)
	require.False(t, stored.UpdatedAt.IsZero())

	loaded, found := store.Load(ctx, key)
	require.True(t, found)
	require.Equal(t, 1, loaded.CurrentChallengeIndex)
	require.Equal(t, "print(1)", loaded.Drafts["a"].Code)
	require.Equal(t, int64(1), loaded.Version)
}

func TestSessionStoreMergesConcurrentSubmission(t *testing.T) {
	repo, _ := newRedisSnapshotRepo(t)
	store := NewSessionStore(repo, zerolog.Nop())
	ctx := context.Background()
	key := models.SessionKey{TestID: "test-1", CandidateID: "cand-1"}

	base, _ := store.Load(ctx, key)
	base = store.Save(ctx, key, base)

	otherTab := base.Clone()
	otherTab.SubmissionStatus["a"] = models.SubmissionStatusSubmitted
	otherTab.Results["a"] = models.ChallengeResultSet{Status: models.ResultStatusPassed}
	otherTab.Drafts["a"] = models.Draft{Code: "final", Language: "go"}
	otherTab.TimeSpent[0] = 9000
	otherTab = store.Save(ctx, key, otherTab)
	require.Equal(t, int64(2), otherTab.Version)

	staleTab := base.Clone()
	staleTab.Drafts["a"] = models.Draft{Code: "stale edit", Language: "go"}
	staleTab.Drafts["b"] = models.Draft{Code: "new work", Language: "go"}
	staleTab.TimeSpent[0] = 4000
	merged := store.Save(ctx, key, staleTab)

	require.Equal(t, int64(3), merged.Version)
	require.Equal(t, models.SubmissionStatusSubmitted, merged.SubmissionStatus["a"])
	require.Equal(t, "final", merged.Drafts["a"].Code)
	require.Equal(t, "new work", merged.Drafts["b"].Code)
	require.Equal(t, models.ResultStatusPassed, merged.Results["a"].Status)
	require.Equal(t, int64(9000), merged.TimeSpent[0])
}

func TestSessionStoreClearLeavesCompletionMarker(t *testing.T) {
	repo, _ := newRedisSnapshotRepo(t)
	store := NewSessionStore(repo, zerolog.Nop())
	ctx := context.Background()
	key := models.SessionKey{TestID: "test-1", CandidateID: "cand-1"}

	snapshot, _ := store.Load(ctx, key)
	snapshot.Drafts["a"] = models.Draft{Code: "x", Language: "go"}
	store.Save(ctx, key, snapshot)
	require.False(t, store.Completed(ctx, key))

	store.Clear(ctx, key)
	require.True(t, store.Completed(ctx, key))

	loaded, found := store.Load(ctx, key)
	require.False(t, found)
	require.True(t, loaded.TestCompleted)
	require.Empty(t, loaded.Drafts)
}

func TestSessionStoreFailsOpen(t *testing.T) {
	repo, mini := newRedisSnapshotRepo(t)
	store := NewSessionStore(repo, zerolog.Nop())
	ctx := context.Background()
	key := models.SessionKey{TestID: "test-1", CandidateID: "cand-1"}

	require.NoError(t, mini.Set("coding-session:test-1:cand-1", "{not json"))
	snapshot, found := store.Load(ctx, key)
	require.False(t, found)
	require.NotNil(t, snapshot.Drafts)

	mini.Close()

	snapshot, found = store.Load(ctx, key)
	require.False(t, found)
	require.Equal(t, "test-1", snapshot.TestID)

	saved := store.Save(ctx, key, snapshot)
	require.Equal(t, int64(1), saved.Version)
	require.False(t, store.Completed(ctx, key))
	store.Clear(ctx, key)
}

func TestSessionStoreIgnoresSnapshotOfAnotherTest(t *testing.T) {
	repo, mini := newRedisSnapshotRepo(t)
	store := NewSessionStore(repo, zerolog.Nop())
	key := models.SessionKey{TestID: "test-1", CandidateID: "cand-1"}

	require.NoError(t, mini.Set("coding-session:test-1:cand-1", `{"testId":"test-2","version":4}`))
	snapshot, found := store.Load(context.Background(), key)
	require.False(t, found)
	require.Equal(t, int64(0), snapshot.Version)
}
