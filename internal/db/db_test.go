package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestWrapNotFound(t *testing.T) {
	require.NoError(t, WrapNotFound(nil))
	require.ErrorIs(t, WrapNotFound(pgx.ErrNoRows), ErrNotFound)
	require.ErrorIs(t, WrapNotFound(fmt.Errorf("scan task: %w", pgx.ErrNoRows)), ErrNotFound)

	other := errors.New("connection reset")
	err := WrapNotFound(other)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, other)
}
