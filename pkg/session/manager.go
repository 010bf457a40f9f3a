// Package session 管理有状态能力的会话：每个能力最多一个活动会话，启动和停止按能力串行。
package session

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
)

// State 会话状态
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Acquirer 获取能力的独占资源，返回的 Closer 在停止时释放
type Acquirer func(ctx context.Context, args models.Args) (io.Closer, error)

// Observer 会话状态变化回调，在会话锁内调用，不应阻塞
type Observer func(capability string, state State)

// Result 启动或停止的结果
type Result struct {
	Capability string `json:"capability"`
	State      State  `json:"state"`
	Changed    bool   `json:"changed"` // false 表示幂等的空操作
}

// Info 会话快照
type Info struct {
	Capability string    `json:"capability"`
	State      State     `json:"state"`
	Since      time.Time `json:"since"`
}

type session struct {
	op sync.Mutex // 串行化同一能力的启动和停止

	mu       sync.Mutex // 保护下面的字段，供快照读取
	state    State
	since    time.Time
	resource io.Closer
}

func (s *session) set(state State, resource io.Closer) {
	s.mu.Lock()
	s.state = state
	s.since = time.Now()
	s.resource = resource
	s.mu.Unlock()
}

func (s *session) get() (State, io.Closer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.resource
}

// Manager 会话管理器
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	logger   logx.Logger
	observer Observer
}

// NewManager 创建会话管理器，observer 可以为 nil
func NewManager(logger logx.Logger, observer Observer) *Manager {
	if logger == nil {
		logger = logx.Nop{}
	}
	return &Manager{
		sessions: make(map[string]*session),
		logger:   logger,
		observer: observer,
	}
}

func (m *Manager) entry(capability string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[capability]
	if !ok {
		s = &session{state: StateStopped, since: time.Now()}
		m.sessions[capability] = s
	}
	return s, m.closed
}

func (m *Manager) transition(capability string, s *session, state State, resource io.Closer) {
	s.set(state, resource)
	m.logger.Debug("Session %s -> %s", capability, state)
	if m.observer != nil {
		m.observer(capability, state)
	}
}

// Start 启动会话。已在 starting/running 时直接返回成功；获取资源失败时会话回到 stopped。
func (m *Manager) Start(ctx context.Context, capability string, args models.Args, acquire Acquirer) (*Result, error) {
	s, closed := m.entry(capability)

	s.op.Lock()
	defer s.op.Unlock()

	if state, _ := s.get(); state == StateStarting || state == StateRunning {
		return &Result{Capability: capability, State: state}, nil
	}
	if closed {
		return nil, errs.New(errs.ErrResourceUnavailable, "Agent is shutting down")
	}

	m.transition(capability, s, StateStarting, nil)
	resource, err := acquire(ctx, args)
	if err != nil {
		m.transition(capability, s, StateStopped, nil)
		m.logger.Warn("Failed to start %s: %v", capability, err)
		if errs.KindOf(err) == nil {
			err = errs.Resource(err, "Failed to start %s", capability)
		}
		return nil, err
	}

	m.transition(capability, s, StateRunning, resource)
	m.logger.Info("Session %s started", capability)
	return &Result{Capability: capability, State: StateRunning, Changed: true}, nil
}

// Stop 停止会话。释放资源失败只记录日志；已停止时不做任何释放调用。
func (m *Manager) Stop(capability string) *Result {
	s, _ := m.entry(capability)

	s.op.Lock()
	defer s.op.Unlock()

	state, resource := s.get()
	if state != StateRunning {
		return &Result{Capability: capability, State: state}
	}

	m.transition(capability, s, StateStopping, resource)
	if resource != nil {
		if err := resource.Close(); err != nil {
			m.logger.Warn("Failed to release %s: %v", capability, err)
		}
	}
	m.transition(capability, s, StateStopped, nil)
	m.logger.Info("Session %s stopped", capability)
	return &Result{Capability: capability, State: StateStopped, Changed: true}
}

// State 返回会话当前状态
func (m *Manager) State(capability string) State {
	m.mu.Lock()
	s, ok := m.sessions[capability]
	m.mu.Unlock()
	if !ok {
		return StateStopped
	}
	state, _ := s.get()
	return state
}

// Snapshot 返回所有已知会话的状态
func (m *Manager) Snapshot() []Info {
	m.mu.Lock()
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)

	infos := make([]Info, 0, len(keys))
	for _, k := range keys {
		m.mu.Lock()
		s := m.sessions[k]
		m.mu.Unlock()
		s.mu.Lock()
		infos = append(infos, Info{Capability: k, State: s.state, Since: s.since})
		s.mu.Unlock()
	}
	return infos
}

// ShutdownAll 停止所有会话并拒绝之后的启动。只在代理退出时调用。
func (m *Manager) ShutdownAll() {
	m.mu.Lock()
	m.closed = true
	keys := make([]string, 0, len(m.sessions))
	for k := range m.sessions {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.Stop(k)
	}
	m.logger.Info("All sessions stopped")
}
