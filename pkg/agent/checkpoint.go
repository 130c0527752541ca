package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCheckpointNotFound is returned when a resume request references a
// thread whose checkpoint never existed or already expired.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

const defaultCheckpointTTL = 30 * time.Minute

type checkpointEntry struct {
	data      []byte
	expiresAt time.Time
}

// CheckpointStore holds serialized agent states keyed by thread ID so
// an interrupted run can resume from a later HTTP request. In-process
// with TTL; entries are reaped lazily on access.
type CheckpointStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]checkpointEntry
}

func NewCheckpointStore(ttl time.Duration) *CheckpointStore {
	if ttl <= 0 {
		ttl = defaultCheckpointTTL
	}
	return &CheckpointStore{
		ttl:     ttl,
		entries: make(map[string]checkpointEntry),
	}
}

// Save serializes state under threadID, replacing any previous entry.
func (c *CheckpointStore) Save(threadID string, state *AgentState) error {
	if threadID == "" {
		return fmt.Errorf("thread ID is required for checkpoint")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to serialize agent state: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.reapLocked()
	c.entries[threadID] = checkpointEntry{data: data, expiresAt: time.Now().Add(c.ttl)}
	return nil
}

// Load rehydrates the state saved under threadID.
func (c *CheckpointStore) Load(threadID string) (*AgentState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reapLocked()

	entry, ok := c.entries[threadID]
	if !ok {
		return nil, ErrCheckpointNotFound
	}

	var state AgentState
	if err := json.Unmarshal(entry.data, &state); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &state, nil
}

// Delete drops a checkpoint once its run has resumed or been abandoned.
func (c *CheckpointStore) Delete(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, threadID)
}

func (c *CheckpointStore) reapLocked() {
	now := time.Now()
	for id, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
}
