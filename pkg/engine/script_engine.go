// Package engine 操作端脚本：按 YAML 描述的步骤依次向设备发送命令
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
)

// 执行状态
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// 步骤失败后的处理
const (
	OnFailureEnd      = "end"
	OnFailureContinue = "continue"
)

// ScriptStep 脚本中的一个步骤
type ScriptStep struct {
	Name       string                 `yaml:"name" json:"name"`
	Action     string                 `yaml:"action" json:"action"`
	Args       map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
	Timeout    int                    `yaml:"timeout,omitempty" json:"timeout,omitempty"`         // 等待响应的秒数，默认 30
	Wait       int                    `yaml:"wait,omitempty" json:"wait,omitempty"`               // 步骤结束后等待的秒数
	RetryCount int                    `yaml:"retry_count,omitempty" json:"retry_count,omitempty"` // 失败后的重试次数
	OnFailure  string                 `yaml:"on_failure,omitempty" json:"on_failure,omitempty"`   // end 或 continue
}

// Script 完整的脚本
type Script struct {
	Name        string                 `yaml:"name" json:"name"`
	Description string                 `yaml:"description" json:"description"`
	Version     string                 `yaml:"version" json:"version"`
	Variables   map[string]interface{} `yaml:"variables" json:"variables"`
	Steps       []ScriptStep           `yaml:"steps" json:"steps"`
}

// ExecutionContext 一次脚本执行的结果
type ExecutionContext struct {
	ScriptName  string                 `json:"script_name"`
	Variables   map[string]interface{} `json:"variables"`
	CurrentStep int                    `json:"current_step"`
	StartTime   time.Time              `json:"start_time"`
	EndTime     time.Time              `json:"end_time"`
	Status      string                 `json:"status"`
	Results     []*models.Response     `json:"results"`
	Error       string                 `json:"error,omitempty"`
}

// Sender 发送命令并等待响应，mqtt.Controller 实现了它
type Sender interface {
	Send(ctx context.Context, cmd *models.Command, timeout time.Duration) (*models.Response, error)
}

// Validate 检查脚本结构
func (s *Script) Validate() error {
	if s.Name == "" {
		return errors.New("script has no name")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("script %s has no steps", s.Name)
	}
	for i, step := range s.Steps {
		if step.Action == "" {
			return fmt.Errorf("script %s step %d has no action", s.Name, i)
		}
		switch step.OnFailure {
		case "", OnFailureEnd, OnFailureContinue:
		default:
			return fmt.Errorf("script %s step %d: unknown on_failure %q", s.Name, i, step.OnFailure)
		}
	}
	return nil
}

// LoadScripts 解析 YAML，一个文件可以包含多个以 --- 分隔的脚本
func LoadScripts(r io.Reader) ([]*Script, error) {
	decoder := yaml.NewDecoder(r)
	var scripts []*Script
	for {
		var script Script
		if err := decoder.Decode(&script); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		if script.Name == "" && len(script.Steps) == 0 {
			continue
		}
		if err := script.Validate(); err != nil {
			return nil, err
		}
		scripts = append(scripts, &script)
	}
	if len(scripts) == 0 {
		return nil, errors.New("no scripts found")
	}
	return scripts, nil
}

// LoadScript 从文件加载指定名称的脚本，name 为空时返回第一个
func LoadScript(path, name string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	scripts, err := LoadScripts(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if name == "" {
		return scripts[0], nil
	}
	for _, script := range scripts {
		if script.Name == name {
			return script, nil
		}
	}
	return nil, fmt.Errorf("script %q not found in %s", name, path)
}

// ScriptEngine 脚本执行引擎
type ScriptEngine struct {
	sender Sender
	logger logx.Logger
	sleep  func(ctx context.Context, d time.Duration) bool
}

// NewScriptEngine 创建脚本引擎
func NewScriptEngine(sender Sender, logger logx.Logger) *ScriptEngine {
	if logger == nil {
		logger = logx.Nop{}
	}
	return &ScriptEngine{sender: sender, logger: logger, sleep: sleep}
}

// Execute 顺序执行脚本，vars 覆盖脚本中的同名变量
func (se *ScriptEngine) Execute(ctx context.Context, script *Script, vars map[string]interface{}) *ExecutionContext {
	variables := make(map[string]interface{}, len(script.Variables)+len(vars))
	for k, v := range script.Variables {
		variables[k] = v
	}
	for k, v := range vars {
		variables[k] = v
	}

	execution := &ExecutionContext{
		ScriptName: script.Name,
		Variables:  variables,
		StartTime:  time.Now(),
		Status:     StatusRunning,
	}
	defer func() { execution.EndTime = time.Now() }()

	for i, step := range script.Steps {
		execution.CurrentStep = i
		se.logger.Info("Executing step %d: %s (%s)", i, step.Name, step.Action)

		resp, err := se.executeStep(ctx, step, variables)
		if resp != nil {
			execution.Results = append(execution.Results, resp)
		}
		if ctx.Err() != nil {
			execution.Status = StatusCancelled
			execution.Error = ctx.Err().Error()
			return execution
		}

		failed := err != nil || resp == nil || !resp.IsSuccess()
		if failed {
			reason := describeFailure(resp, err)
			se.logger.Warn("Step %d (%s) failed: %s", i, step.Name, reason)
			if step.OnFailure != OnFailureContinue {
				execution.Status = StatusFailed
				execution.Error = fmt.Sprintf("step %d (%s): %s", i, step.Name, reason)
				return execution
			}
		}

		if step.Wait > 0 && !se.sleep(ctx, time.Duration(step.Wait)*time.Second) {
			execution.Status = StatusCancelled
			execution.Error = ctx.Err().Error()
			return execution
		}
	}

	execution.Status = StatusCompleted
	se.logger.Info("Script %s completed with %d steps", script.Name, len(script.Steps))
	return execution
}

// executeStep 执行单个步骤，失败时按 RetryCount 重试
func (se *ScriptEngine) executeStep(ctx context.Context, step ScriptStep, variables map[string]interface{}) (*models.Response, error) {
	timeout := 30 * time.Second
	if step.Timeout > 0 {
		timeout = time.Duration(step.Timeout) * time.Second
	}

	var (
		resp *models.Response
		err  error
	)
	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		cmd := &models.Command{
			Action: step.Action,
			Args:   substituteArgs(step.Args, variables),
		}
		resp, err = se.sender.Send(ctx, cmd, timeout)
		if err == nil && resp.IsSuccess() {
			return resp, nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return resp, err
}

func describeFailure(resp *models.Response, err error) string {
	if err != nil {
		return err.Error()
	}
	if resp == nil {
		return "no response"
	}
	return fmt.Sprint(resp.Data)
}

// substituteArgs 替换参数中所有字符串里的 {{name}} 变量
func substituteArgs(args map[string]interface{}, variables map[string]interface{}) models.Args {
	result := make(models.Args, len(args))
	for k, v := range args {
		result[k] = substituteValue(v, variables)
	}
	return result
}

func substituteValue(value interface{}, variables map[string]interface{}) interface{} {
	switch v := value.(type) {
	case string:
		// 整个值就是一个变量时保留变量的类型
		trimmed := strings.TrimSpace(v)
		if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") && strings.Count(trimmed, "{{") == 1 {
			if replacement, ok := variables[strings.TrimSpace(trimmed[2:len(trimmed)-2])]; ok {
				return replacement
			}
		}
		return substituteVariables(v, variables)
	case map[string]interface{}:
		return map[string]interface{}(substituteArgs(v, variables))
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = substituteValue(item, variables)
		}
		return out
	default:
		return value
	}
}

// substituteVariables 替换字符串中的变量
func substituteVariables(text string, variables map[string]interface{}) string {
	result := text
	for key, value := range variables {
		placeholder := fmt.Sprintf("{{%s}}", key)
		result = strings.ReplaceAll(result, placeholder, fmt.Sprintf("%v", value))
	}
	return result
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
