package store

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keplerai/kepler/pkg/papers"
)

func newTestStore(t *testing.T) *ConversationStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewConversationStore(db, "sqlite")
	require.NoError(t, err)
	return store
}

func TestSaveTurnNumbersAreContiguous(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		saved, err := store.SaveTurn(ctx, "sess-1", Turn{
			UserQuery:     fmt.Sprintf("question %d", i),
			AgentResponse: "answer",
			Provider:      "openai",
			Model:         "gpt-4o",
		}, "user-1")
		require.NoError(t, err)
		assert.Equal(t, i, saved.TurnNumber)
	}

	turns, err := store.GetHistory(ctx, "sess-1", 10, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 5)
	for i, turn := range turns {
		assert.Equal(t, i, turn.TurnNumber)
	}
}

func TestGetHistoryChronologicalWindow(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 6; i++ {
		_, err := store.SaveTurn(ctx, "sess-1", Turn{UserQuery: fmt.Sprintf("q%d", i), AgentResponse: "a"}, "user-1")
		require.NoError(t, err)
	}

	turns, err := store.GetHistory(ctx, "sess-1", 3, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)

	// The three most recent turns, oldest first.
	assert.Equal(t, "q3", turns[0].UserQuery)
	assert.Equal(t, "q5", turns[2].UserQuery)
}

func TestSaveTurnRoundTripsJSONFields(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	score := 92
	rewritten := "attention mechanisms in transformers"
	saved, err := store.SaveTurn(ctx, "sess-1", Turn{
		UserQuery:         "attention?",
		AgentResponse:     "answer",
		GuardrailScore:    &score,
		RetrievalAttempts: 2,
		RewrittenQuery:    &rewritten,
		Sources: []SourceInfo{
			{ArxivID: "1706.03762", Title: "Attention Is All You Need", RelevanceScore: 0.97, WasGradedRelevant: true},
		},
		ReasoningSteps: []string{"classified as execute", "retrieved 5 chunks"},
	}, "user-1")
	require.NoError(t, err)
	require.Equal(t, 0, saved.TurnNumber)

	turns, err := store.GetHistory(ctx, "sess-1", 10, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)

	turn := turns[0]
	require.NotNil(t, turn.GuardrailScore)
	assert.Equal(t, 92, *turn.GuardrailScore)
	require.NotNil(t, turn.RewrittenQuery)
	assert.Equal(t, rewritten, *turn.RewrittenQuery)
	require.Len(t, turn.Sources, 1)
	assert.Equal(t, "1706.03762", turn.Sources[0].ArxivID)
	assert.True(t, turn.Sources[0].WasGradedRelevant)
	assert.Equal(t, []string{"classified as execute", "retrieved 5 chunks"}, turn.ReasoningSteps)
	assert.Nil(t, turn.PendingConfirmation)
}

func TestPendingConfirmationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	pending := &PendingConfirmation{
		Papers:      []papers.Paper{{ArxivID: "2301.00001", Title: "Some Paper"}},
		Model:       "gpt-4o",
		Temperature: 0.2,
		ThreadID:    "thread-abc",
	}

	saved, err := store.SaveTurn(ctx, "sess-1", Turn{
		UserQuery:           "find papers about RLHF",
		AgentResponse:       "",
		PendingConfirmation: pending,
	}, "user-1")
	require.NoError(t, err)

	has, err := store.HasPendingConfirmation(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.True(t, has)

	turn, err := store.GetPendingTurn(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, turn)
	assert.Equal(t, saved.TurnNumber, turn.TurnNumber)
	assert.Equal(t, "thread-abc", turn.PendingConfirmation.ThreadID)
	assert.Equal(t, "", turn.AgentResponse)

	err = store.CompletePendingTurn(ctx, "sess-1", saved.TurnNumber, TurnCompletion{
		AgentResponse:  "The ingested papers show...",
		ReasoningSteps: []string{"ingested 1 paper"},
	}, "user-1")
	require.NoError(t, err)

	has, err = store.HasPendingConfirmation(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.False(t, has)

	turns, err := store.GetHistory(ctx, "sess-1", 10, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "The ingested papers show...", turns[0].AgentResponse)
	assert.Nil(t, turns[0].PendingConfirmation)
	assert.Equal(t, []string{"ingested 1 paper"}, turns[0].ReasoningSteps)
	// Untouched optional fields stay as saved.
	assert.Nil(t, turns[0].Sources)
}

func TestClearPendingConfirmation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	saved, err := store.SaveTurn(ctx, "sess-1", Turn{
		UserQuery:           "q",
		PendingConfirmation: &PendingConfirmation{ThreadID: "t"},
	}, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.ClearPendingConfirmation(ctx, "sess-1", saved.TurnNumber, "user-1"))

	pendingTurn, err := store.GetPendingTurn(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Nil(t, pendingTurn)

	// Clearing again finds nothing to clear.
	err = store.ClearPendingConfirmation(ctx, "sess-1", saved.TurnNumber, "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.SaveTurn(ctx, "sess-1", Turn{UserQuery: "q", AgentResponse: "a"}, "user-1")
	require.NoError(t, err)

	turns, err := store.GetHistory(ctx, "sess-1", 10, "user-2")
	require.NoError(t, err)
	assert.Empty(t, turns)

	_, err = store.Get(ctx, "sess-1", "user-2")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Delete(ctx, "sess-1", "user-2")
	assert.ErrorIs(t, err, ErrNotFound)

	err = store.CompletePendingTurn(ctx, "sess-1", 0, TurnCompletion{AgentResponse: "x"}, "user-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		_, err := store.SaveTurn(ctx, "sess-1", Turn{UserQuery: "q", AgentResponse: "a"}, "user-1")
		require.NoError(t, err)
	}

	deleted, err := store.Delete(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)

	_, err = store.Get(ctx, "sess-1", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)

	// New turns in the same session restart at zero.
	saved, err := store.SaveTurn(ctx, "sess-1", Turn{UserQuery: "fresh", AgentResponse: "a"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, saved.TurnNumber)
}

func TestListConversations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for _, sess := range []string{"sess-1", "sess-2", "sess-3"} {
		_, err := store.SaveTurn(ctx, sess, Turn{UserQuery: "q", AgentResponse: "a"}, "user-1")
		require.NoError(t, err)
	}
	_, err := store.SaveTurn(ctx, "other", Turn{UserQuery: "q", AgentResponse: "a"}, "user-2")
	require.NoError(t, err)

	conversations, err := store.List(ctx, "user-1", 0, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 3)
	for _, conv := range conversations {
		assert.Equal(t, 1, conv.TurnCount)
		assert.NotEqual(t, "other", conv.SessionID)
	}

	page, err := store.List(ctx, "user-1", 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	conv, err := store.GetOrCreate(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", conv.SessionID)

	again, err := store.GetOrCreate(ctx, "sess-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}
