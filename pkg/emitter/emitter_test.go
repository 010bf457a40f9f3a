package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEmitRetriesTransientFailures(t *testing.T) {
	out := channel.NewMemoryOutbound()
	out.FailNext(2, errors.New("offline"))
	e := New(out, nil, logx.Nop{}, Options{Attempts: 3, Backoff: time.Millisecond})

	e.Emit(models.NewSuccess("1", "vibrate", nil))
	e.Wait()

	records := out.Records(ResponsesPath)
	require.Len(t, records, 1)
	var resp models.Response
	require.NoError(t, json.Unmarshal(records[0].Value, &resp))
	assert.Equal(t, "vibrate", resp.Command)
	assert.Equal(t, models.StatusSuccess, resp.Status)
}

func TestEmitDeadLettersAndFlush(t *testing.T) {
	out := channel.NewMemoryOutbound()
	letters := openStore(t)
	e := New(out, letters, logx.Nop{}, Options{Attempts: 3, Backoff: time.Millisecond})

	out.FailNext(3, errors.New("offline"))
	e.Emit(models.NewError("2", "read_file", errors.New("File not found")))
	e.Wait()

	assert.Empty(t, out.Records(ResponsesPath))
	n, err := letters.CountDeadLetters()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sent, err := e.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, out.Records(ResponsesPath), 1)

	n, err = letters.CountDeadLetters()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSetStatusOverwrites(t *testing.T) {
	out := channel.NewMemoryOutbound()
	e := New(out, nil, logx.Nop{}, Options{})

	e.SetStatus("sessions/camera", map[string]string{"state": "running"})
	e.Wait()
	e.SetStatus("sessions/camera", map[string]string{"state": "stopped"})
	e.Wait()

	value, ok := out.Get("sessions/camera")
	require.True(t, ok)
	assert.JSONEq(t, `{"state":"stopped"}`, string(value))
}

func TestCloseAbortsBackoff(t *testing.T) {
	out := channel.NewMemoryOutbound()
	out.FailNext(10, errors.New("offline"))
	e := New(out, nil, logx.Nop{}, Options{Attempts: 3, Backoff: time.Hour})

	e.Emit(models.NewSuccess("3", "vibrate", nil))

	done := make(chan struct{})
	go func() {
		e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not abort the retry backoff")
	}
}
