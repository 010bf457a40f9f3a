package dispatch

import (
	"context"
	"sync"
	"time"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
)

// ListenerState 监听器状态
type ListenerState string

const (
	StateDisconnected ListenerState = "disconnected"
	StateSubscribing  ListenerState = "subscribing"
	StateSubscribed   ListenerState = "subscribed"
)

// Deduper 记录已处理的命令ID，首次出现时返回 true
type Deduper interface {
	MarkSeen(id, action string) (bool, error)
}

// ListenerOptions 监听器参数
type ListenerOptions struct {
	Backoff time.Duration
	// OnSubscribed 每次进入 subscribed 时在独立 goroutine 中调用，Run 返回前等待它结束
	OnSubscribed func(ctx context.Context)
}

// Listener 订阅命令流，解码、去重、分发并确认每个条目；通道失败时固定退避后重新订阅
type Listener struct {
	feed       channel.Feed
	dispatcher *Dispatcher
	out        Responder
	dedup      Deduper
	logger     logx.Logger
	opts       ListenerOptions

	hooks sync.WaitGroup

	mu          sync.Mutex
	state       ListenerState
	subscribed  int
	stateChange chan struct{}
}

// NewListener 创建监听器，dedup 可以为 nil
func NewListener(feed channel.Feed, dispatcher *Dispatcher, out Responder, dedup Deduper, logger logx.Logger, opts ListenerOptions) *Listener {
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	if logger == nil {
		logger = logx.Nop{}
	}
	return &Listener{
		feed:        feed,
		dispatcher:  dispatcher,
		out:         out,
		dedup:       dedup,
		logger:      logger,
		opts:        opts,
		state:       StateDisconnected,
		stateChange: make(chan struct{}),
	}
}

// State 当前状态
func (l *Listener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Subscriptions 成功订阅的次数
func (l *Listener) Subscriptions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.subscribed
}

func (l *Listener) setState(state ListenerState) {
	l.mu.Lock()
	l.state = state
	if state == StateSubscribed {
		l.subscribed++
	}
	close(l.stateChange)
	l.stateChange = make(chan struct{})
	l.mu.Unlock()
}

// WaitFor 等待进入指定状态
func (l *Listener) WaitFor(ctx context.Context, state ListenerState) error {
	for {
		l.mu.Lock()
		current, changed := l.state, l.stateChange
		l.mu.Unlock()
		if current == state {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run 运行监听循环直到 ctx 取消。返回前等待所有 OnSubscribed 回调结束。
func (l *Listener) Run(ctx context.Context) {
	defer l.setState(StateDisconnected)
	defer l.hooks.Wait()

	for ctx.Err() == nil {
		l.setState(StateSubscribing)
		sub, err := l.feed.Subscribe(ctx)
		if err != nil {
			l.setState(StateDisconnected)
			if ctx.Err() != nil {
				return
			}
			l.logger.Warn("Subscribe failed: %v, retrying in %s", err, l.opts.Backoff)
			if !sleep(ctx, l.opts.Backoff) {
				return
			}
			continue
		}

		l.setState(StateSubscribed)
		l.logger.Info("Listening for commands")
		if l.opts.OnSubscribed != nil {
			l.hooks.Add(1)
			go func() {
				defer l.hooks.Done()
				l.opts.OnSubscribed(ctx)
			}()
		}

		err = l.consume(ctx, sub)
		sub.Close()
		l.setState(StateDisconnected)
		if ctx.Err() != nil {
			return
		}

		l.logger.Warn("Command feed lost: %v, resubscribing in %s", err, l.opts.Backoff)
		if !sleep(ctx, l.opts.Backoff) {
			return
		}
	}
}

func (l *Listener) consume(ctx context.Context, sub channel.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-sub.Items():
			if !ok {
				if err := sub.Err(); err != nil {
					return errs.Wrap(errs.ErrTransientChannel, err, "subscription ended")
				}
				return errs.New(errs.ErrTransientChannel, "subscription closed")
			}
			l.handle(item)
		}
	}
}

// handle 处理一个条目。无论分发结果如何都确认，畸形命令不重试。
func (l *Listener) handle(item channel.Item) {
	defer func() {
		if err := item.Ack(); err != nil {
			l.logger.Warn("Failed to ack command %s: %v", item.Key(), err)
		}
	}()

	cmd, err := models.DecodeCommand(item.Key(), item.Payload())
	if err != nil {
		l.logger.Warn("Dropping malformed command %s: %v", item.Key(), err)
		l.out.Emit(models.NewError(item.Key(), models.DecodeErrorCommand, err))
		return
	}

	if l.dedup != nil {
		first, err := l.dedup.MarkSeen(cmd.ID, cmd.Action)
		switch {
		case err != nil:
			l.logger.Warn("Dedup check failed for %s: %v", cmd.ID, err)
		case !first:
			l.logger.Info("Skipping duplicate command %s (%s)", cmd.ID, cmd.Action)
			return
		}
	}

	l.logger.Debug("Received command %s (id=%s)", cmd.Action, cmd.ID)
	l.dispatcher.Dispatch(cmd)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
