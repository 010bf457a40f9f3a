package handlers

import (
	"context"
	"regexp"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,16}$`)

// adminAction 包装只需管理员权限、无参数的操作
func (d *Deps) adminAction(action, description, done string, call func(ctx context.Context) error) *handler {
	return &handler{
		desc: registry.Descriptor{
			Action: action, Domain: DomainSecurity, Kind: registry.KindRunOnce,
			Description: description,
		},
		run: func(ctx context.Context, args models.Args) (interface{}, error) {
			if err := d.requireAdmin(); err != nil {
				return nil, err
			}
			if err := call(ctx); err != nil {
				return nil, err
			}
			return done, nil
		},
	}
}

func (d *Deps) securityHandlers() []*handler {
	admin := d.Device.Admin
	return []*handler{
		d.adminAction("shutdown", "关机，需要设备管理员权限", "Device shutting down", admin.PowerOff),
		d.adminAction("reboot", "重启，需要设备管理员权限", "Device rebooting", admin.Reboot),
		d.adminAction("wipe_data", "恢复出厂设置，需要设备管理员权限", "Device wipe initiated", admin.WipeData),
		{
			desc: registry.Descriptor{
				Action: "change_pin", Domain: DomainSecurity, Kind: registry.KindRunOnce,
				Description: "修改锁屏 PIN，需要设备管理员权限",
				Schema:      `{"type":"object","required":["new_pin"],"properties":{"new_pin":{"type":"string"}}}`,
			},
			validate: func(args models.Args) error {
				if !pinPattern.MatchString(args.String("new_pin", "")) {
					return errs.Validation("PIN must be 4 to 16 digits")
				}
				return nil
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				if err := d.requireAdmin(); err != nil {
					return nil, err
				}
				if err := admin.ChangePIN(ctx, args.String("new_pin", "")); err != nil {
					return nil, err
				}
				return "PIN changed", nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "lock_app", Domain: DomainSecurity, Kind: registry.KindRunOnce,
				Description: "锁定或解锁应用，需要设备管理员权限",
				Schema:      `{"type":"object","required":["package_name"],"properties":{"package_name":{"type":"string","minLength":1},"lock":{"type":["boolean","string"]}}}`,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				if err := d.requireAdmin(); err != nil {
					return nil, err
				}
				pkg, err := requireString(args, "package_name")
				if err != nil {
					return nil, err
				}
				lock, err := optionalBool(args, "lock", true)
				if err != nil {
					return nil, err
				}
				if err := admin.LockApp(ctx, pkg, lock); err != nil {
					return nil, err
				}
				if lock {
					return "App locked: " + pkg, nil
				}
				return "App unlocked: " + pkg, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "stealth_mode", Domain: DomainSecurity, Kind: registry.KindRunOnce,
				Description: "隐藏或显示启动器图标", Schema: enableSchema,
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				enable, err := requireBool(args, "enable")
				if err != nil {
					return nil, err
				}
				if err := d.Device.Launcher.SetIconHidden(ctx, enable); err != nil {
					return nil, err
				}
				return "Stealth mode " + enabledWord(enable), nil
			},
		},
	}
}
