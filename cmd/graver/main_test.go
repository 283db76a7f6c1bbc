package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/graver/coord"
	"github.com/mastercactapus/graver/machine"
)

func TestStartJournal(t *testing.T) {
	ctx := context.Background()
	m := machine.New("/dev/ttyUSB0")

	j, err := startJournal(ctx, m.History(), filepath.Join(t.TempDir(), "graver.db"))
	require.NoError(t, err)
	defer j.Close()

	_, err = m.MoveAbs(ctx, coord.Point{X: 1})
	require.NoError(t, err)
	require.NoError(t, m.SetToolSize(2))
	_, err = m.MoveAbs(ctx, coord.Point{X: 2})
	require.NoError(t, err)

	segs, err := j.Segments(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.History().Segments(), segs)
	assert.NoError(t, j.Err())
}
