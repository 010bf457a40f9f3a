// Package pump 把采集源的帧限速后写入出站通道
package pump

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
)

// Source 事件驱动的采集源。Start 之后每有一帧就调用 onFrame，回调不得保留 payload 以外的状态。
type Source interface {
	Start(onFrame func(payload []byte)) error
	Stop() error
}

// Encoder 帧编码器
type Encoder interface {
	Encode(frame *models.Frame) ([]byte, error)
}

// Options 泵参数
type Options struct {
	Capability  string
	Path        string        // 帧写入路径，默认 <capability>_stream
	MaxRate     int           // 每秒最多发送的帧数，0 表示不限
	Window      time.Duration // 远端保留的帧窗口
	Buffer      int           // 回调与发送循环之间的缓冲
	StopTimeout time.Duration
	Now         func() time.Time
}

type arrival struct {
	payload []byte
	at      time.Time
}

// Pump 一个流式会话的发送循环
type Pump struct {
	opts   Options
	source Source
	out    channel.Outbound
	enc    Encoder
	logger logx.Logger

	frames   chan arrival
	cleanup  chan string
	done     chan struct{}
	finished chan struct{}
	stopOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	recent []time.Time // 最近 MaxRate 个发送时间的环形缓冲
	head   int
	seq    int64

	emitted atomic.Int64
	dropped atomic.Int64
}

// Start 启动采集源和发送循环
func Start(source Source, out channel.Outbound, enc Encoder, logger logx.Logger, opts Options) (*Pump, error) {
	if opts.Path == "" {
		opts.Path = opts.Capability + "_stream"
	}
	if opts.Buffer < 1 {
		opts.Buffer = 4
	}
	if opts.Window <= 0 {
		opts.Window = 5 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 3 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logx.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pump{
		opts:     opts,
		source:   source,
		out:      out,
		enc:      enc,
		logger:   logger,
		frames:   make(chan arrival, opts.Buffer),
		cleanup:  make(chan string, 1),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.MaxRate > 0 {
		p.recent = make([]time.Time, 0, opts.MaxRate)
	}

	if err := source.Start(p.onFrame); err != nil {
		cancel()
		return nil, err
	}

	go p.run()
	go p.cleanupLoop()
	return p, nil
}

// onFrame 采集回调，只做入队，队列满时丢弃当前帧
func (p *Pump) onFrame(payload []byte) {
	select {
	case <-p.done:
		return
	default:
	}

	select {
	case p.frames <- arrival{payload: payload, at: p.opts.Now()}:
	default:
		p.dropped.Add(1)
	}
}

func (p *Pump) run() {
	defer p.finish()

	for {
		select {
		case <-p.done:
			return
		case a := <-p.frames:
			select {
			case <-p.done:
				return
			default:
			}

			if !p.admit(a.at) {
				p.dropped.Add(1)
				continue
			}
			p.emit(a)
		}
	}
}

// admit 滑动窗口限速：任意一秒内最多 MaxRate 帧
func (p *Pump) admit(at time.Time) bool {
	if p.opts.MaxRate <= 0 {
		return true
	}
	if len(p.recent) < p.opts.MaxRate {
		p.recent = append(p.recent, at)
		return true
	}
	if at.Sub(p.recent[p.head]) < time.Second {
		return false
	}
	p.recent[p.head] = at
	p.head = (p.head + 1) % p.opts.MaxRate
	return true
}

func (p *Pump) emit(a arrival) {
	p.seq++
	frame := &models.Frame{
		Capability: p.opts.Capability,
		Sequence:   p.seq,
		Payload:    a.payload,
		CapturedAt: a.at.UnixMilli(),
	}

	data, err := p.enc.Encode(frame)
	if err != nil {
		p.logger.Error("Failed to encode %s frame %d: %v", p.opts.Capability, frame.Sequence, err)
		return
	}

	key := fmt.Sprintf("%013d_%08d", frame.CapturedAt, frame.Sequence)
	if err := p.out.Set(p.ctx, p.opts.Path+"/"+key, data); err != nil {
		p.logger.Warn("Failed to send %s frame %d: %v", p.opts.Capability, frame.Sequence, err)
		return
	}
	p.emitted.Add(1)

	cutoff := fmt.Sprintf("%013d", a.at.Add(-p.opts.Window).UnixMilli())
	select {
	case p.cleanup <- cutoff:
	default:
		// 合并：用新的截止点替换尚未执行的清理
		select {
		case <-p.cleanup:
		default:
		}
		select {
		case p.cleanup <- cutoff:
		default:
		}
	}
}

func (p *Pump) cleanupLoop() {
	for {
		select {
		case <-p.done:
			return
		case cutoff := <-p.cleanup:
			if _, err := p.out.DeleteBefore(p.ctx, p.opts.Path, cutoff); err != nil {
				p.logger.Debug("Cleanup of %s failed: %v", p.opts.Path, err)
			}
		}
	}
}

// finish 在发送循环退出前释放采集源
func (p *Pump) finish() {
	if err := p.source.Stop(); err != nil {
		p.logger.Warn("Failed to stop %s source: %v", p.opts.Capability, err)
	}
	close(p.finished)
}

// Stop 通知发送循环退出，并在 timeout 内等待它释放采集源
func (p *Pump) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() { close(p.done) })
	defer p.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.finished:
		return nil
	case <-timer.C:
		return fmt.Errorf("%s stream did not stop within %s", p.opts.Capability, timeout)
	}
}

// Close 实现 io.Closer，供会话管理器释放
func (p *Pump) Close() error {
	return p.Stop(p.opts.StopTimeout)
}

// Emitted 已发送帧数
func (p *Pump) Emitted() int64 {
	return p.emitted.Load()
}

// Dropped 被丢弃的帧数
func (p *Pump) Dropped() int64 {
	return p.dropped.Load()
}
