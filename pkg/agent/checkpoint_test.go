package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	store := NewCheckpointStore(time.Minute)

	state := newTestState()
	state.Iteration = 2
	state.PauseReason = &PauseReason{ProposedIDs: []string{"2301.00001"}}

	require.NoError(t, store.Save("thread-1", state))

	loaded, err := store.Load("thread-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Iteration)
	assert.Equal(t, state.SessionID, loaded.SessionID)
	require.NotNil(t, loaded.PauseReason)
	assert.Equal(t, []string{"2301.00001"}, loaded.PauseReason.ProposedIDs)
}

func TestCheckpointRequiresThreadID(t *testing.T) {
	store := NewCheckpointStore(time.Minute)
	assert.Error(t, store.Save("", newTestState()))
}

func TestCheckpointMissingThread(t *testing.T) {
	store := NewCheckpointStore(time.Minute)
	_, err := store.Load("nope")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestCheckpointExpires(t *testing.T) {
	store := NewCheckpointStore(time.Millisecond)
	require.NoError(t, store.Save("thread-1", newTestState()))

	time.Sleep(5 * time.Millisecond)

	_, err := store.Load("thread-1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestCheckpointDeleteIsIdempotent(t *testing.T) {
	store := NewCheckpointStore(time.Minute)
	require.NoError(t, store.Save("thread-1", newTestState()))

	store.Delete("thread-1")
	store.Delete("thread-1")

	_, err := store.Load("thread-1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
}
