package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBPool_InvalidDSN(t *testing.T) {
	pool, err := NewDBPool(context.Background(), "postgres://user@localhost:notaport/db", PoolOptions{})
	require.Error(t, err)
	assert.Nil(t, pool)
	assert.Contains(t, err.Error(), "failed to parse pgxpool config")
}
