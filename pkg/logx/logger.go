package logx

import (
	"log"
	"strings"
)

// Level 日志级别
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel 解析配置中的日志级别，无法识别时返回 info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger 日志接口
type Logger interface {
	Info(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
	Warn(format string, args ...interface{})
}

// DefaultLogger 默认日志实现
type DefaultLogger struct {
	Level Level
}

// New 创建指定级别的默认日志
func New(level string) *DefaultLogger {
	return &DefaultLogger{Level: ParseLevel(level)}
}

func (dl *DefaultLogger) Info(format string, args ...interface{}) {
	dl.print(LevelInfo, "[INFO] ", format, args)
}

func (dl *DefaultLogger) Error(format string, args ...interface{}) {
	dl.print(LevelError, "[ERROR] ", format, args)
}

func (dl *DefaultLogger) Debug(format string, args ...interface{}) {
	dl.print(LevelDebug, "[DEBUG] ", format, args)
}

func (dl *DefaultLogger) Warn(format string, args ...interface{}) {
	dl.print(LevelWarn, "[WARN] ", format, args)
}

func (dl *DefaultLogger) print(level Level, prefix, format string, args []interface{}) {
	if level < dl.Level {
		return
	}
	log.Printf(prefix+format, args...)
}

// Nop 丢弃所有输出，测试使用
type Nop struct{}

func (Nop) Info(string, ...interface{})  {}
func (Nop) Error(string, ...interface{}) {}
func (Nop) Debug(string, ...interface{}) {}
func (Nop) Warn(string, ...interface{})  {}
