package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
)

type countingResource struct {
	acquired atomic.Int32
	released atomic.Int32
	failWith error
	delay    time.Duration
}

func (c *countingResource) acquire(ctx context.Context, args models.Args) (io.Closer, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.failWith != nil {
		return nil, c.failWith
	}
	c.acquired.Add(1)
	return c, nil
}

func (c *countingResource) Close() error {
	c.released.Add(1)
	return nil
}

func TestStartIsIdempotent(t *testing.T) {
	m := NewManager(logx.Nop{}, nil)
	res := &countingResource{}

	first, err := m.Start(context.Background(), "camera", nil, res.acquire)
	require.NoError(t, err)
	assert.True(t, first.Changed)

	second, err := m.Start(context.Background(), "camera", nil, res.acquire)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, StateRunning, second.State)

	assert.Equal(t, int32(1), res.acquired.Load())
	assert.Equal(t, StateRunning, m.State("camera"))
}

func TestStopWhenStoppedDoesNotRelease(t *testing.T) {
	m := NewManager(logx.Nop{}, nil)
	res := &countingResource{}

	result := m.Stop("camera")
	assert.False(t, result.Changed)
	assert.Equal(t, StateStopped, result.State)
	assert.Equal(t, int32(0), res.released.Load())

	_, err := m.Start(context.Background(), "camera", nil, res.acquire)
	require.NoError(t, err)
	assert.True(t, m.Stop("camera").Changed)
	assert.False(t, m.Stop("camera").Changed)
	assert.Equal(t, int32(1), res.released.Load())
}

func TestAcquireFailureLeavesStopped(t *testing.T) {
	m := NewManager(logx.Nop{}, nil)
	res := &countingResource{failWith: errors.New("camera busy")}

	_, err := m.Start(context.Background(), "camera", nil, res.acquire)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrResourceUnavailable))
	assert.Contains(t, err.Error(), "camera busy")
	assert.Equal(t, StateStopped, m.State("camera"))

	// 权限类错误保留原种类
	res.failWith = errs.Permission("Camera permission not granted")
	_, err = m.Start(context.Background(), "camera", nil, res.acquire)
	assert.True(t, errors.Is(err, errs.ErrPermissionDenied))
}

func TestConcurrentStartStopSettles(t *testing.T) {
	for i := 0; i < 50; i++ {
		m := NewManager(logx.Nop{}, nil)
		res := &countingResource{delay: time.Millisecond}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = m.Start(context.Background(), "tracking", nil, res.acquire)
		}()
		go func() {
			defer wg.Done()
			m.Stop("tracking")
		}()
		wg.Wait()

		state := m.State("tracking")
		assert.Contains(t, []State{StateRunning, StateStopped}, state)
		if state == StateRunning {
			assert.Equal(t, int32(0), res.released.Load())
		} else {
			assert.Equal(t, res.acquired.Load(), res.released.Load())
		}
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	m := NewManager(logx.Nop{}, func(capability string, state State) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	})
	res := &countingResource{}

	_, err := m.Start(context.Background(), "mic", nil, res.acquire)
	require.NoError(t, err)
	m.Stop("mic")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, seen)
}

func TestShutdownAll(t *testing.T) {
	m := NewManager(logx.Nop{}, nil)
	camera := &countingResource{}
	mic := &countingResource{}

	_, err := m.Start(context.Background(), "camera", nil, camera.acquire)
	require.NoError(t, err)
	_, err = m.Start(context.Background(), "mic", nil, mic.acquire)
	require.NoError(t, err)
	m.Stop("mic")

	m.ShutdownAll()
	assert.Equal(t, int32(1), camera.released.Load())
	assert.Equal(t, int32(1), mic.released.Load())

	for _, info := range m.Snapshot() {
		assert.Equal(t, StateStopped, info.State)
	}

	_, err = m.Start(context.Background(), "camera", nil, camera.acquire)
	assert.Error(t, err)
}
