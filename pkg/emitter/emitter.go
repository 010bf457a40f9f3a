// Package emitter 负责把命令响应和状态指针写入出站通道
package emitter

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/store"
)

// ResponsesPath 响应日志路径
const ResponsesPath = "command_responses"

// DeadLetterStore 死信队列
type DeadLetterStore interface {
	AddDeadLetter(path string, payload []byte, lastErr string) error
	DeadLetters(limit int) ([]*store.DeadLetter, error)
	DeleteDeadLetter(id int64) error
}

// Options 重试策略
type Options struct {
	Attempts int           // 每次写入的最大尝试次数
	Backoff  time.Duration // 首次重试前的等待，之后翻倍
}

// Emitter 响应发送器。Emit 立即返回，写入在后台带重试完成。
type Emitter struct {
	out     channel.Outbound
	letters DeadLetterStore
	logger  logx.Logger
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建发送器，letters 可以为 nil
func New(out channel.Outbound, letters DeadLetterStore, logger logx.Logger, opts Options) *Emitter {
	if opts.Attempts < 1 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = logx.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Emitter{
		out:     out,
		letters: letters,
		logger:  logger,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Emit 异步发送响应
func (e *Emitter) Emit(resp *models.Response) {
	e.Push(ResponsesPath, resp)
	e.logger.Debug("Response queued: %s %s", resp.Command, resp.Status)
}

// Push 异步在 path 下追加一条记录。重试耗尽后写入死信队列。
func (e *Emitter) Push(path string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		e.logger.Error("Failed to marshal value for %s: %v", path, err)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.retry(func(ctx context.Context) error {
			_, err := e.out.Push(ctx, path, payload)
			return err
		})
		if err == nil {
			return
		}

		e.logger.Error("Failed to push to %s after %d attempts: %v", path, e.opts.Attempts, err)
		if e.letters == nil {
			return
		}
		if err := e.letters.AddDeadLetter(path, payload, err.Error()); err != nil {
			e.logger.Error("Failed to store dead letter: %v", err)
		}
	}()
}

// SetStatus 异步覆盖一个状态指针。失败只记录日志，下一次状态变化会再次覆盖。
func (e *Emitter) SetStatus(path string, value interface{}) {
	payload, err := json.Marshal(value)
	if err != nil {
		e.logger.Error("Failed to marshal status %s: %v", path, err)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := e.retry(func(ctx context.Context) error {
			return e.out.Set(ctx, path, payload)
		})
		if err != nil {
			e.logger.Warn("Failed to set status %s: %v", path, err)
		}
	}()
}

// Flush 重放死信队列，返回成功重放的数量。遇到第一个失败即停止。
func (e *Emitter) Flush(ctx context.Context) (int, error) {
	if e.letters == nil {
		return 0, nil
	}

	letters, err := e.letters.DeadLetters(100)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, l := range letters {
		if _, err := e.out.Push(ctx, l.Path, l.Payload); err != nil {
			return sent, err
		}
		if err := e.letters.DeleteDeadLetter(l.ID); err != nil {
			return sent, err
		}
		sent++
	}
	if sent > 0 {
		e.logger.Info("Replayed %d undelivered responses", sent)
	}
	return sent, nil
}

// Wait 等待所有进行中的写入完成
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// Close 取消剩余的重试等待并等待后台写入结束
func (e *Emitter) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Emitter) retry(op func(ctx context.Context) error) error {
	backoff := e.opts.Backoff
	var err error
	for attempt := 1; attempt <= e.opts.Attempts; attempt++ {
		if err = op(e.ctx); err == nil {
			return nil
		}
		if attempt == e.opts.Attempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-e.ctx.Done():
			timer.Stop()
			return err
		}
		backoff *= 2
	}
	return err
}
