package handlers

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

const (
	packageSchema = `{"type":"object","required":["package_name"],"properties":{"package_name":{"type":"string","minLength":1}}}`
	enableSchema  = `{"type":"object","required":["enable"],"properties":{"enable":{"type":["boolean","string"]}}}`
)

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func (d *Deps) controlHandlers() []*handler {
	return []*handler{
		{
			desc: registry.Descriptor{
				Action: "launch_app", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "启动应用", Schema: packageSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				pkg, err := requireString(args, "package_name")
				if err != nil {
					return nil, err
				}
				if err := d.Device.Apps.LaunchApp(ctx, pkg); err != nil {
					return nil, err
				}
				return "App launched: " + pkg, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "close_app", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "关闭应用", Schema: packageSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				pkg, err := requireString(args, "package_name")
				if err != nil {
					return nil, err
				}
				if err := d.Device.Apps.CloseApp(ctx, pkg); err != nil {
					return nil, err
				}
				return "App closed: " + pkg, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "open_url", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "用浏览器打开链接",
				Schema:      `{"type":"object","required":["url"],"properties":{"url":{"type":"string","minLength":1}}}`,
			},
			validate: func(args models.Args) error {
				u, err := url.Parse(args.String("url", ""))
				if err != nil || u.Scheme == "" {
					return errs.Validation("Invalid URL: %s", args.String("url", ""))
				}
				return nil
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				target := args.String("url", "")
				if err := d.Device.Browser.OpenURL(ctx, target); err != nil {
					return nil, err
				}
				return "URL opened: " + target, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "lock_device", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "锁屏，需要设备管理员权限",
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				if err := d.requireAdmin(); err != nil {
					return nil, err
				}
				if err := d.Device.Admin.LockDevice(ctx); err != nil {
					return nil, err
				}
				return "Device locked", nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "toggle_wifi", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "开关 WiFi", Schema: enableSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				enable, err := requireBool(args, "enable")
				if err != nil {
					return nil, err
				}
				if err := d.Device.Radios.SetWiFi(ctx, enable); err != nil {
					return nil, err
				}
				return "WiFi " + enabledWord(enable), nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "toggle_bluetooth", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "开关蓝牙", Schema: enableSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				enable, err := requireBool(args, "enable")
				if err != nil {
					return nil, err
				}
				if err := d.Device.Radios.SetBluetooth(ctx, enable); err != nil {
					return nil, err
				}
				return "Bluetooth " + enabledWord(enable), nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "vibrate", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "振动，duration 为毫秒",
				Schema:      `{"type":"object","properties":{"duration":{"type":["integer","string"]}}}`,
			},
			validate: func(args models.Args) error {
				_, err := optionalInt(args, "duration", 1000, 1, 60000)
				return err
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				ms, err := optionalInt(args, "duration", 1000, 1, 60000)
				if err != nil {
					return nil, err
				}
				if err := d.Device.Vibrator.Vibrate(ctx, time.Duration(ms)*time.Millisecond); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Device vibrated for %dms", ms), nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "show_toast", Domain: DomainControl, Kind: registry.KindRunOnce,
				Description: "显示提示消息",
				Schema:      `{"type":"object","required":["message"],"properties":{"message":{"type":"string"},"long":{"type":["boolean","string"]}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				message := args.String("message", "")
				if err := d.Device.Notifier.Toast(ctx, message, args.Bool("long", false)); err != nil {
					return nil, err
				}
				return "Toast shown: " + message, nil
			},
		},
	}
}
