package models

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"mq_agent/pkg/errs"
)

// 响应状态
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DecodeErrorCommand 命令无法解析时响应中使用的命令名
const DecodeErrorCommand = "ERROR"

// Command 表示远端下发的一条命令，接收后不再修改
type Command struct {
	ID     string `json:"id,omitempty"` // 传输层分配的键，或命令体自带的ID
	Action string `json:"action"`       // 选择处理器
	Args   Args   `json:"args,omitempty"`
}

// wireCommand 命令的线上格式，旧版服务使用 params 代替 args
type wireCommand struct {
	ID     string `json:"id"`
	Action string `json:"action"`
	Args   Args   `json:"args"`
	Params Args   `json:"params"`
}

// DecodeCommand 解析命令。key 为传输层的条目键，命令体没有 id 时使用它。
func DecodeCommand(key string, payload []byte) (*Command, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, errs.Decode("Invalid command format: empty payload")
	}

	// 部分发送端把命令 JSON 再序列化成字符串后写入
	if payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return nil, errs.Decode("Invalid command format: %v", err)
		}
		payload = []byte(inner)
	}

	var wire wireCommand
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errs.Decode("Invalid command format: %v", err)
	}

	action := strings.TrimSpace(wire.Action)
	if action == "" {
		return nil, errs.Decode("Invalid command format: missing action")
	}

	cmd := &Command{
		ID:     wire.ID,
		Action: action,
		Args:   wire.Args,
	}
	if cmd.ID == "" {
		cmd.ID = key
	}
	if cmd.Args == nil {
		cmd.Args = wire.Params
	}
	if cmd.Args == nil {
		cmd.Args = Args{}
	}
	return cmd, nil
}

// Response 表示命令执行结果，创建后不再修改
type Response struct {
	ID        string      `json:"id,omitempty"` // 对应的命令ID
	Command   string      `json:"command"`      // 命令 action
	Status    string      `json:"status"`       // success, error
	Data      interface{} `json:"data"`         // 结果数据或错误信息
	Timestamp int64       `json:"timestamp"`    // 毫秒时间戳
}

// NewSuccess 创建成功响应
func NewSuccess(id, command string, data interface{}) *Response {
	return &Response{
		ID:        id,
		Command:   command,
		Status:    StatusSuccess,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewError 创建错误响应，data 为错误消息
func NewError(id, command string, err error) *Response {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Response{
		ID:        id,
		Command:   command,
		Status:    StatusError,
		Data:      msg,
		Timestamp: time.Now().UnixMilli(),
	}
}

// IsSuccess 是否成功
func (r *Response) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// Frame 流式遥测的一帧
type Frame struct {
	Capability string // 所属能力
	Sequence   int64  // 会话内单调递增，会话开始时从1计
	Payload    []byte // 不透明的二进制数据
	CapturedAt int64  // 采集时间（毫秒）
}
