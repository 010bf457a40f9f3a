// Package api 代理的本地 HTTP 接口：健康检查、能力列表、会话状态和命令注入
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
	"mq_agent/pkg/session"
)

// Sessions 会话快照来源
type Sessions interface {
	Snapshot() []session.Info
}

// Capabilities 能力列表来源
type Capabilities interface {
	List() []registry.Descriptor
}

// Server 本地 HTTP 服务
type Server struct {
	router         *gin.Engine
	commandService *CommandService
	capabilities   Capabilities
	sessions       Sessions
	deviceID       string
	started        time.Time
	logger         logx.Logger
	http           *http.Server
}

// NewServer 创建服务
func NewServer(deviceID string, executor Executor, capabilities Capabilities, sessions Sessions, logger logx.Logger) *Server {
	if logger == nil {
		logger = logx.Nop{}
	}
	s := &Server{
		router:         gin.Default(),
		commandService: NewCommandService(executor, logger),
		capabilities:   capabilities,
		sessions:       sessions,
		deviceID:       deviceID,
		started:        time.Now(),
		logger:         logger,
	}
	s.setupRoutes()
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	api := s.router.Group("/api/v1")
	{
		api.POST("/command", s.executeCommand)
		api.GET("/command/:id", s.getCommandStatus)
		api.GET("/commands", s.listCommands)
		api.POST("/cleanup", s.cleanupCommands)

		api.GET("/health", s.healthCheck)
		api.GET("/capabilities", s.listCapabilities)
		api.GET("/sessions", s.listSessions)
	}
}

// Handler 返回 HTTP 处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// executeCommand 通过与命令流相同的分发器执行命令，wait=true 时等待结果
func (s *Server) executeCommand(c *gin.Context) {
	var request struct {
		Action  string      `json:"action" binding:"required"`
		Args    models.Args `json:"args"`
		Timeout int         `json:"timeout,omitempty"`
		Wait    bool        `json:"wait,omitempty"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	execution := s.commandService.ExecuteCommand(request.Action, request.Args, request.Timeout)
	if !request.Wait {
		c.JSON(http.StatusAccepted, gin.H{
			"success":      true,
			"execution_id": execution.ID,
			"message":      "Command submitted successfully",
		})
		return
	}

	maxWait := time.Duration(request.Timeout) * time.Second
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	execution, err := s.commandService.WaitForCompletion(execution.ID, maxWait+time.Second)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, execution)
}

// getCommandStatus 获取命令状态
func (s *Server) getCommandStatus(c *gin.Context) {
	execution, exists := s.commandService.GetExecution(c.Param("id"))
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Command execution not found",
		})
		return
	}
	c.JSON(http.StatusOK, execution)
}

// listCommands 列出所有命令
func (s *Server) listCommands(c *gin.Context) {
	executions := s.commandService.ListExecutions()
	c.JSON(http.StatusOK, gin.H{
		"commands": executions,
		"total":    len(executions),
	})
}

// cleanupCommands 清理旧命令
func (s *Server) cleanupCommands(c *gin.Context) {
	var request struct {
		MaxAgeMinutes int `json:"max_age_minutes"`
	}

	if err := c.ShouldBindJSON(&request); err != nil || request.MaxAgeMinutes <= 0 {
		request.MaxAgeMinutes = 60 // 默认清理1小时前的记录
	}

	cleaned := s.commandService.CleanupExecutions(request.MaxAgeMinutes)

	c.JSON(http.StatusOK, gin.H{
		"message": "Cleanup completed",
		"cleaned": cleaned,
		"max_age": request.MaxAgeMinutes,
	})
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	stats := s.commandService.GetStats()
	stats["status"] = "healthy"
	stats["device_id"] = s.deviceID
	stats["uptime_seconds"] = int64(time.Since(s.started).Seconds())

	c.JSON(http.StatusOK, stats)
}

// listCapabilities 已注册的全部能力
func (s *Server) listCapabilities(c *gin.Context) {
	list := s.capabilities.List()
	c.JSON(http.StatusOK, gin.H{
		"capabilities": list,
		"total":        len(list),
	})
}

// listSessions 有状态能力的会话
func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sessions": s.sessions.Snapshot(),
	})
}

// Start 在后台监听 addr
func (s *Server) Start(addr string) {
	s.http = &http.Server{Addr: addr, Handler: s.router}
	go func() {
		s.logger.Info("API server listening on %s", addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped: %v", err)
		}
	}()
}

// Stop 停止服务器
func (s *Server) Stop(ctx context.Context) error {
	s.commandService.Stop()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
