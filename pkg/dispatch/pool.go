package dispatch

import (
	"sync"
	"time"

	"mq_agent/pkg/logx"
)

// Pool 固定大小的工作池，任务队列有界
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger logx.Logger
}

// NewPool 创建并启动工作池
func NewPool(workers, queue int, logger logx.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	if logger == nil {
		logger = logx.Nop{}
	}

	p := &Pool{
		tasks:  make(chan func(), queue),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked: %v", r)
		}
	}()
	task()
}

// Submit 提交任务，不阻塞。队列已满或已关闭时返回 false。
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}

// Close 停止接收任务，在 timeout 内等待已排队的任务执行完毕
func (p *Pool) Close(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		p.logger.Warn("Worker pool did not drain within %s", timeout)
		return false
	}
}
