package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyClaimOncePerKey(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)

	assert.True(t, store.Claim("key-1"))
	assert.False(t, store.Claim("key-1"))
	assert.True(t, store.Claim("key-2"))
}

func TestIdempotencyEmptyKeyAlwaysFresh(t *testing.T) {
	store := NewIdempotencyStore(time.Minute)

	assert.True(t, store.Claim(""))
	assert.True(t, store.Claim(""))
}

func TestIdempotencyKeyExpires(t *testing.T) {
	store := NewIdempotencyStore(time.Millisecond)

	assert.True(t, store.Claim("key-1"))
	time.Sleep(5 * time.Millisecond)
	assert.True(t, store.Claim("key-1"))
}
