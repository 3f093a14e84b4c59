package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeaseRepositoryWithoutRedisAlwaysAcquires(t *testing.T) {
	repo := NewLeaseRepository(nil)

	ok, err := repo.Acquire(context.Background(), "escalation:tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Acquire(context.Background(), "escalation:tick", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, repo.Release(context.Background(), "escalation:tick"))
}
