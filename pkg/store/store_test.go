package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestMarkSeen(t *testing.T) {
	s := openTemp(t)

	first, err := s.MarkSeen("cmd-1", "vibrate")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkSeen("cmd-1", "vibrate")
	require.NoError(t, err)
	assert.False(t, again)

	n, err := s.PruneSeen(time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	first, err = s.MarkSeen("cmd-1", "vibrate")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestDeadLetters(t *testing.T) {
	s := openTemp(t)

	require.NoError(t, s.AddDeadLetter("command_responses", []byte(`{"a":1}`), "offline"))
	require.NoError(t, s.AddDeadLetter("command_responses", []byte(`{"a":2}`), "offline"))

	letters, err := s.DeadLetters(10)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, `{"a":1}`, string(letters[0].Payload))
	assert.Equal(t, "offline", letters[0].LastError)

	require.NoError(t, s.DeleteDeadLetter(letters[0].ID))
	n, err := s.CountDeadLetters()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStore(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	first, err := s.MarkSeen("x", "y")
	require.NoError(t, err)
	assert.True(t, first)
}
