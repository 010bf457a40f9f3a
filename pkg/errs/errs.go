package errs

import (
	"errors"
	"fmt"
)

// 错误种类。处理器返回的错误都归入其中之一，由分发器统一转换为 error 响应。
var (
	// ErrDecode 命令 JSON 无法解析或缺少 action，直接丢弃，不重试
	ErrDecode = errors.New("decode error")
	// ErrValidation 参数缺失或取值非法
	ErrValidation = errors.New("validation error")
	// ErrAdminInactive 设备管理员权限未激活
	ErrAdminInactive = errors.New("device admin not active")
	// ErrResourceUnavailable 采集设备忙或被拒绝，会话保持 stopped
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrTransientChannel 命令通道断开，由监听循环退避后重连
	ErrTransientChannel = errors.New("transient channel error")
	// ErrPermissionDenied 系统权限缺失
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnknownCommand 注册表中没有对应的 action
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnsupported 当前设备后端不支持该能力
	ErrUnsupported = errors.New("unsupported on this backend")
)

// Error 带种类的错误。Msg 是发给操作端的消息，Err 是可选的底层原因。
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New 创建指定种类的错误
func New(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 将底层错误归类
func Wrap(kind error, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Decode(format string, args ...interface{}) error {
	return New(ErrDecode, format, args...)
}

func Validation(format string, args ...interface{}) error {
	return New(ErrValidation, format, args...)
}

func Resource(err error, format string, args ...interface{}) error {
	return Wrap(ErrResourceUnavailable, err, format, args...)
}

func Permission(format string, args ...interface{}) error {
	return New(ErrPermissionDenied, format, args...)
}

func Unsupported(capability string) error {
	return New(ErrUnsupported, "%s is not supported on this device", capability)
}

// AdminInactive 所有需要设备管理员权限的处理器共用同一条错误
func AdminInactive() error {
	return &Error{Kind: ErrAdminInactive, Msg: "Device admin not active"}
}

// UnknownCommand 未注册的 action
func UnknownCommand(action string) error {
	return &Error{Kind: ErrUnknownCommand, Msg: "Unknown command: " + action}
}

// KindOf 返回错误所属种类，无法归类时返回 nil
func KindOf(err error) error {
	for _, kind := range []error{
		ErrDecode, ErrValidation, ErrAdminInactive, ErrResourceUnavailable,
		ErrTransientChannel, ErrPermissionDenied, ErrUnknownCommand, ErrUnsupported,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
