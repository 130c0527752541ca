package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskRegistryCancelRunningStream(t *testing.T) {
	registry := NewTaskRegistry()

	fired := false
	registry.Register("sess-1", func() { fired = true })
	assert.True(t, registry.Active("sess-1"))

	cancelled, message := registry.Cancel("sess-1")
	assert.True(t, cancelled)
	assert.Equal(t, "stream cancelled", message)
	assert.True(t, fired)
	assert.False(t, registry.Active("sess-1"))
}

func TestTaskRegistryCancelIdleSession(t *testing.T) {
	registry := NewTaskRegistry()

	cancelled, message := registry.Cancel("nobody")
	assert.False(t, cancelled)
	assert.Equal(t, "no active stream for session", message)
}

func TestTaskRegistryCancelIsIdempotent(t *testing.T) {
	registry := NewTaskRegistry()

	calls := 0
	registry.Register("sess-1", func() { calls++ })

	first, _ := registry.Cancel("sess-1")
	second, _ := registry.Cancel("sess-1")

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 1, calls)
}

func TestTaskRegistryReleaseForgetsEntry(t *testing.T) {
	registry := NewTaskRegistry()

	registry.Register("sess-1", func() { t.Fatal("cancel should not fire after release") })
	registry.Release("sess-1")

	cancelled, _ := registry.Cancel("sess-1")
	assert.False(t, cancelled)
}

func TestTaskRegistryReplacesEntryPerSession(t *testing.T) {
	registry := NewTaskRegistry()

	firstFired := false
	registry.Register("sess-1", func() { firstFired = true })
	secondFired := false
	registry.Register("sess-1", func() { secondFired = true })

	cancelled, _ := registry.Cancel("sess-1")
	assert.True(t, cancelled)
	assert.False(t, firstFired)
	assert.True(t, secondFired)
}
