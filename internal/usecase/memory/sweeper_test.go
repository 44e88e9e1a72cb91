package memory

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	_, err := NewSweeper("whenever", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
}

func TestSweeperStartStop(t *testing.T) {
	s, err := NewSweeper("@hourly", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	s.Register(testLayer(t, "user", "u1", newFakeStore()))
	s.Start()
	s.Stop()
}

func TestSweeperSweepsRegisteredLayers(t *testing.T) {
	s, err := NewSweeper("@hourly", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	store := newFakeStore()
	l := testLayer(t, "user", "u1", store)
	s.Register(l)

	s.sweep()
	assert.Contains(t, store.expired, l.Partition(), "sweep must hit every registered layer")
}
