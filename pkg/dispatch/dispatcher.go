package dispatch

import (
	"context"
	"fmt"
	"time"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

// Responder 响应出口
type Responder interface {
	Emit(resp *models.Response)
}

// Dispatcher 查找处理器并在工作池中执行，所有失败都转换为 error 响应
type Dispatcher struct {
	registry *registry.Registry
	pool     *Pool
	out      Responder
	logger   logx.Logger
	ctx      context.Context
}

// NewDispatcher 创建分发器。ctx 是所有处理器执行的上下文，代理退出时取消。
func NewDispatcher(ctx context.Context, reg *registry.Registry, pool *Pool, out Responder, logger logx.Logger) *Dispatcher {
	if logger == nil {
		logger = logx.Nop{}
	}
	return &Dispatcher{
		registry: reg,
		pool:     pool,
		out:      out,
		logger:   logger,
		ctx:      ctx,
	}
}

// Dispatch 提交命令，不等待执行结束
func (d *Dispatcher) Dispatch(cmd *models.Command) {
	d.submit(cmd, nil)
}

// DispatchWait 提交命令并等待响应，响应同样会发送到出站通道
func (d *Dispatcher) DispatchWait(ctx context.Context, cmd *models.Command) (*models.Response, error) {
	result := make(chan *models.Response, 1)
	d.submit(cmd, result)

	select {
	case resp := <-result:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) submit(cmd *models.Command, result chan<- *models.Response) {
	handler, ok := d.registry.Lookup(cmd.Action)
	if !ok {
		d.logger.Warn("Unknown command %s (id=%s)", cmd.Action, cmd.ID)
		d.respond(models.NewError(cmd.ID, cmd.Action, errs.UnknownCommand(cmd.Action)), result)
		return
	}

	task := func() {
		d.respond(d.execute(handler, cmd), result)
	}
	if !d.pool.Submit(task) {
		d.logger.Error("Command queue full, rejecting %s (id=%s)", cmd.Action, cmd.ID)
		d.respond(models.NewError(cmd.ID, cmd.Action, fmt.Errorf("command queue full")), result)
	}
}

func (d *Dispatcher) respond(resp *models.Response, result chan<- *models.Response) {
	d.out.Emit(resp)
	if result != nil {
		result <- resp
	}
}

// execute 在处理器边界捕获所有错误和 panic
func (d *Dispatcher) execute(handler registry.Handler, cmd *models.Command) (resp *models.Response) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Handler %s panicked: %v", cmd.Action, r)
			resp = models.NewError(cmd.ID, cmd.Action, fmt.Errorf("handler panic: %v", r))
		}
	}()

	if err := d.registry.Validate(cmd.Action, cmd.Args); err != nil {
		d.logger.Warn("Rejected %s (id=%s): %v", cmd.Action, cmd.ID, err)
		return models.NewError(cmd.ID, cmd.Action, err)
	}

	d.logger.Info("Executing %s (id=%s)", cmd.Action, cmd.ID)
	data, err := handler.Execute(d.ctx, cmd.Args)
	if err != nil {
		d.logger.Error("Command %s (id=%s) failed after %s: %v", cmd.Action, cmd.ID, time.Since(start), err)
		return models.NewError(cmd.ID, cmd.Action, err)
	}

	d.logger.Info("Command %s (id=%s) completed in %s", cmd.Action, cmd.ID, time.Since(start))
	return models.NewSuccess(cmd.ID, cmd.Action, data)
}

// Registry 返回注册表
func (d *Dispatcher) Registry() *registry.Registry {
	return d.registry
}
