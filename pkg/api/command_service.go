package api

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
)

// 执行状态
const (
	ExecPending   = "pending"
	ExecRunning   = "running"
	ExecCompleted = "completed"
	ExecFailed    = "failed"
	ExecTimeout   = "timeout"
)

// Executor 执行命令并等待响应，由分发器实现
type Executor interface {
	DispatchWait(ctx context.Context, cmd *models.Command) (*models.Response, error)
}

// CommandExecution 通过本地接口注入的命令的执行状态
type CommandExecution struct {
	ID        string           `json:"id"`
	Action    string           `json:"action"`
	Status    string           `json:"status"`
	StartTime time.Time        `json:"start_time"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
	Request   *models.Command  `json:"request,omitempty"`
	Response  *models.Response `json:"response,omitempty"`
	Error     string           `json:"error,omitempty"`

	done chan struct{}
}

// CommandService 命令执行服务
type CommandService struct {
	executor   Executor
	logger     logx.Logger
	executions map[string]*CommandExecution
	mutex      sync.RWMutex
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewCommandService 创建命令服务
func NewCommandService(executor Executor, logger logx.Logger) *CommandService {
	if logger == nil {
		logger = logx.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &CommandService{
		executor:   executor,
		logger:     logger,
		executions: make(map[string]*CommandExecution),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// ExecuteCommand 异步执行命令，timeout 为秒，0 表示默认 10 秒
func (s *CommandService) ExecuteCommand(action string, args models.Args, timeout int) *CommandExecution {
	if timeout <= 0 {
		timeout = 10
	}
	if args == nil {
		args = models.Args{}
	}

	execution := &CommandExecution{
		ID:        "api_" + uuid.NewString(),
		Action:    action,
		Status:    ExecPending,
		StartTime: time.Now(),
		done:      make(chan struct{}),
	}
	execution.Request = &models.Command{ID: execution.ID, Action: action, Args: args}

	s.mutex.Lock()
	s.executions[execution.ID] = execution
	s.mutex.Unlock()

	go s.runCommand(execution, time.Duration(timeout)*time.Second)

	return s.snapshot(execution)
}

func (s *CommandService) runCommand(execution *CommandExecution, timeout time.Duration) {
	defer close(execution.done)

	s.mutex.Lock()
	execution.Status = ExecRunning
	s.mutex.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	resp, err := s.executor.DispatchWait(ctx, execution.Request)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := time.Now()
	execution.EndTime = &now
	switch {
	case err != nil:
		execution.Status = ExecTimeout
		execution.Error = err.Error()
		s.logger.Warn("API command %s (%s) timed out: %v", execution.ID, execution.Action, err)
	case resp.IsSuccess():
		execution.Status = ExecCompleted
		execution.Response = resp
	default:
		execution.Status = ExecFailed
		execution.Response = resp
		execution.Error = fmt.Sprint(resp.Data)
	}
}

// snapshot 在锁内复制执行状态
func (s *CommandService) snapshot(execution *CommandExecution) *CommandExecution {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	copied := *execution
	return &copied
}

// GetExecution 获取执行状态
func (s *CommandService) GetExecution(id string) (*CommandExecution, bool) {
	s.mutex.RLock()
	execution, exists := s.executions[id]
	s.mutex.RUnlock()
	if !exists {
		return nil, false
	}
	return s.snapshot(execution), true
}

// WaitForCompletion 等待命令结束
func (s *CommandService) WaitForCompletion(id string, maxWait time.Duration) (*CommandExecution, error) {
	s.mutex.RLock()
	execution, exists := s.executions[id]
	s.mutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("command execution %s not found", id)
	}

	select {
	case <-execution.done:
	case <-time.After(maxWait):
	}
	return s.snapshot(execution), nil
}

// ListExecutions 按开始时间列出全部执行
func (s *CommandService) ListExecutions() []*CommandExecution {
	s.mutex.RLock()
	list := make([]*CommandExecution, 0, len(s.executions))
	for _, execution := range s.executions {
		copied := *execution
		list = append(list, &copied)
	}
	s.mutex.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].StartTime.Before(list[j].StartTime) })
	return list
}

// CleanupExecutions 清理已结束且超过 maxAgeMinutes 的记录
func (s *CommandService) CleanupExecutions(maxAgeMinutes int) int {
	cutoff := time.Now().Add(-time.Duration(maxAgeMinutes) * time.Minute)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	cleaned := 0
	for id, execution := range s.executions {
		if execution.EndTime != nil && execution.EndTime.Before(cutoff) {
			delete(s.executions, id)
			cleaned++
		}
	}
	return cleaned
}

// GetStats 执行统计
func (s *CommandService) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	counts := map[string]int{}
	for _, execution := range s.executions {
		counts[execution.Status]++
	}
	return map[string]interface{}{
		"total_commands": len(s.executions),
		"by_status":      counts,
	}
}

// Stop 取消所有执行中的命令
func (s *CommandService) Stop() {
	s.cancel()
}
