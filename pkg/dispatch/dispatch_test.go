package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
	"mq_agent/pkg/store"
)

type recorder struct {
	ch chan *models.Response
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan *models.Response, 100)}
}

func (r *recorder) Emit(resp *models.Response) {
	r.ch <- resp
}

func (r *recorder) next(t *testing.T) *models.Response {
	t.Helper()
	select {
	case resp := <-r.ch:
		return resp
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

type funcHandler struct {
	desc  registry.Descriptor
	calls atomic.Int32
	fn    func(ctx context.Context, args models.Args) (interface{}, error)
}

func (h *funcHandler) Descriptor() registry.Descriptor { return h.desc }

func (h *funcHandler) Execute(ctx context.Context, args models.Args) (interface{}, error) {
	h.calls.Add(1)
	if h.fn == nil {
		return nil, nil
	}
	return h.fn(ctx, args)
}

type harness struct {
	feed     *channel.MemoryFeed
	rec      *recorder
	pool     *Pool
	listener *Listener
	echo     *funcHandler
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T, dedup Deduper, backoff time.Duration) *harness {
	t.Helper()
	echo := &funcHandler{
		desc: registry.Descriptor{Action: "echo", Kind: registry.KindRunOnce, Schema: `{"type":"object","required":["text"]}`},
		fn: func(ctx context.Context, args models.Args) (interface{}, error) {
			return args.String("text", ""), nil
		},
	}
	boom := &funcHandler{
		desc: registry.Descriptor{Action: "boom", Kind: registry.KindRunOnce},
		fn: func(ctx context.Context, args models.Args) (interface{}, error) {
			panic("kaboom")
		},
	}
	fail := &funcHandler{
		desc: registry.Descriptor{Action: "fail", Kind: registry.KindRunOnce},
		fn: func(ctx context.Context, args models.Args) (interface{}, error) {
			return nil, errs.AdminInactive()
		},
	}
	reg := registry.New()
	reg.Register(echo)
	reg.Register(boom)
	reg.Register(fail)
	reg.Seal()

	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()
	pool := NewPool(4, 16, logx.Nop{})
	disp := NewDispatcher(ctx, reg, pool, rec, logx.Nop{})
	feed := channel.NewMemoryFeed()
	l := NewListener(feed, disp, rec, dedup, logx.Nop{}, ListenerOptions{Backoff: backoff})

	h := &harness{feed: feed, rec: rec, pool: pool, listener: l, echo: echo, cancel: cancel, done: make(chan struct{})}
	go func() {
		l.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(h.stop)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, l.WaitFor(waitCtx, StateSubscribed))
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
	h.pool.Close(time.Second)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, nil, 10*time.Millisecond)
	h.feed.Publish(`{"action":"self_destruct","args":{}}`)

	resp := h.rec.next(t)
	assert.Equal(t, "self_destruct", resp.Command)
	assert.Equal(t, models.StatusError, resp.Status)
	assert.Equal(t, "Unknown command: self_destruct", resp.Data)
	assert.Equal(t, int32(0), h.echo.calls.Load())
}

func TestMalformedCommandsAckedOnce(t *testing.T) {
	h := newHarness(t, nil, 10*time.Millisecond)
	keys := []string{
		h.feed.Publish(`not json`),
		h.feed.Publish(`{"args":{"text":"x"}}`),
		h.feed.Publish(``),
	}

	for range keys {
		resp := h.rec.next(t)
		assert.Equal(t, models.DecodeErrorCommand, resp.Command)
		assert.Equal(t, models.StatusError, resp.Status)
		assert.Contains(t, resp.Data, "Invalid command format")
	}
	require.Eventually(t, func() bool { return h.feed.Pending() == 0 }, time.Second, 5*time.Millisecond)
	for _, key := range keys {
		assert.Equal(t, 1, h.feed.AckCount(key))
	}
	assert.Equal(t, int32(0), h.echo.calls.Load())
}

func TestSuccessValidationAndFailures(t *testing.T) {
	h := newHarness(t, nil, 10*time.Millisecond)

	h.feed.Publish(`{"id":"c1","action":"echo","args":{"text":"hello"}}`)
	resp := h.rec.next(t)
	assert.Equal(t, "c1", resp.ID)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, "hello", resp.Data)

	h.feed.Publish(`{"action":"echo","params":{}}`)
	resp = h.rec.next(t)
	assert.Equal(t, models.StatusError, resp.Status)
	assert.Contains(t, resp.Data, "text is required")

	h.feed.Publish(`{"action":"boom"}`)
	resp = h.rec.next(t)
	assert.Equal(t, "boom", resp.Command)
	assert.Contains(t, resp.Data, "kaboom")

	h.feed.Publish(`{"action":"fail"}`)
	resp = h.rec.next(t)
	assert.Equal(t, "Device admin not active", resp.Data)

	// 监听器在处理器失败后继续工作
	h.feed.Publish(`{"action":"echo","args":{"text":"still here"}}`)
	assert.Equal(t, "still here", h.rec.next(t).Data)
}

func TestReconnectAfterFeedCancellation(t *testing.T) {
	backoff := 50 * time.Millisecond
	h := newHarness(t, nil, backoff)
	require.Equal(t, 1, h.listener.Subscriptions())

	lost := time.Now()
	h.feed.Fail(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		return h.listener.Subscriptions() == 2 && h.listener.State() == StateSubscribed
	}, backoff+time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(lost), backoff)

	h.feed.Publish(`{"action":"echo","args":{"text":"after reconnect"}}`)
	assert.Equal(t, "after reconnect", h.rec.next(t).Data)
}

func TestSubscribeFailureBacksOff(t *testing.T) {
	h := newHarness(t, nil, 20*time.Millisecond)
	h.feed.FailNextSubscribes(2)
	h.feed.Fail(errors.New("offline"))

	require.Eventually(t, func() bool {
		return h.listener.Subscriptions() == 2 && h.listener.State() == StateSubscribed
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 4, h.feed.Subscribes())
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	defer s.Close()

	h := newHarness(t, s, 10*time.Millisecond)
	h.feed.Publish(`{"id":"same","action":"echo","args":{"text":"1"}}`)
	assert.Equal(t, "1", h.rec.next(t).Data)

	h.feed.Publish(`{"id":"same","action":"echo","args":{"text":"1"}}`)
	require.Eventually(t, func() bool { return h.feed.Pending() == 0 }, time.Second, 5*time.Millisecond)
	select {
	case resp := <-h.rec.ch:
		t.Fatalf("duplicate produced a response: %+v", resp)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int32(1), h.echo.calls.Load())
}

func TestQueueFullRejects(t *testing.T) {
	release := make(chan struct{})
	slow := &funcHandler{
		desc: registry.Descriptor{Action: "slow"},
		fn: func(ctx context.Context, args models.Args) (interface{}, error) {
			<-release
			return nil, nil
		},
	}
	reg := registry.New()
	reg.Register(slow)
	reg.Seal()

	rec := newRecorder()
	pool := NewPool(1, 1, logx.Nop{})
	disp := NewDispatcher(context.Background(), reg, pool, rec, logx.Nop{})

	disp.Dispatch(&models.Command{ID: "1", Action: "slow"})
	require.Eventually(t, func() bool { return slow.calls.Load() == 1 }, time.Second, time.Millisecond)
	disp.Dispatch(&models.Command{ID: "2", Action: "slow"})
	disp.Dispatch(&models.Command{ID: "3", Action: "slow"})

	resp := rec.next(t)
	assert.Equal(t, "3", resp.ID)
	assert.Equal(t, "command queue full", resp.Data)

	close(release)
	rec.next(t)
	rec.next(t)
	assert.True(t, pool.Close(time.Second))
}

func TestDispatchWait(t *testing.T) {
	reg := registry.New()
	reg.Register(&funcHandler{
		desc: registry.Descriptor{Action: "ping"},
		fn: func(ctx context.Context, args models.Args) (interface{}, error) {
			return "pong", nil
		},
	})
	reg.Seal()

	rec := newRecorder()
	pool := NewPool(2, 2, logx.Nop{})
	defer pool.Close(time.Second)
	disp := NewDispatcher(context.Background(), reg, pool, rec, logx.Nop{})

	resp, err := disp.DispatchWait(context.Background(), &models.Command{ID: "p", Action: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", resp.Data)
	assert.Equal(t, resp, rec.next(t))
}

func TestOrderingOfDispatch(t *testing.T) {
	var mu sync.Mutex
	var order []string
	reg := registry.New()
	reg.Register(&funcHandler{
		desc: registry.Descriptor{Action: "note"},
		fn: func(ctx context.Context, args models.Args) (interface{}, error) {
			mu.Lock()
			order = append(order, args.String("n", ""))
			mu.Unlock()
			return nil, nil
		},
	})
	reg.Seal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	pool := NewPool(1, 16, logx.Nop{})
	defer pool.Close(time.Second)
	feed := channel.NewMemoryFeed()
	l := NewListener(feed, NewDispatcher(ctx, reg, pool, rec, logx.Nop{}), rec, nil, logx.Nop{}, ListenerOptions{Backoff: time.Millisecond})
	go l.Run(ctx)

	for _, n := range []string{"a", "b", "c"} {
		feed.Publish(`{"action":"note","args":{"n":"` + n + `"}}`)
	}
	for i := 0; i < 3; i++ {
		rec.next(t)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRunWaitsForSubscribedHook(t *testing.T) {
	reg := registry.New()
	reg.Seal()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := newRecorder()
	pool := NewPool(1, 1, logx.Nop{})
	defer pool.Close(time.Second)
	disp := NewDispatcher(ctx, reg, pool, rec, logx.Nop{})

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	l := NewListener(channel.NewMemoryFeed(), disp, rec, nil, logx.Nop{}, ListenerOptions{
		Backoff: time.Millisecond,
		OnSubscribed: func(ctx context.Context) {
			close(started)
			<-release
			finished.Store(true)
		},
	})

	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()

	<-started
	cancel()
	select {
	case <-done:
		t.Fatal("Run returned while the subscribed hook was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.True(t, finished.Load())
}
