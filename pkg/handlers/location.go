package handlers

import (
	"context"
	"io"
	"time"

	"mq_agent/pkg/device"
	"mq_agent/pkg/models"
	"mq_agent/pkg/registry"
)

// LocationUpdatesPath 实时定位的推送路径
const LocationUpdatesPath = "location_updates"

func (d *Deps) locationHandlers() []*handler {
	return []*handler{
		{
			desc: registry.Descriptor{
				Action: "get_location", Domain: DomainLocation, Kind: registry.KindRunOnce,
				Description: "获取当前位置",
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				fix, err := d.Device.Location.CurrentLocation(ctx)
				if err != nil {
					return nil, unavailable(err, "Location not available")
				}
				return fix, nil
			},
		},
		{
			desc: registry.Descriptor{
				Action: "live_tracking", Domain: DomainLocation, Kind: registry.KindStateful, Capability: CapTracking,
				Description: "开启或关闭实时定位，interval 为毫秒",
				Schema:      `{"type":"object","properties":{"enable":{"type":["boolean","string"]},"interval":{"type":["integer","string"]}}}`,
			},
			validate: func(args models.Args) error {
				_, err := optionalInt(args, "interval", 5000, 1000, 24*60*60*1000)
				return err
			},
			run: d.liveTracking,
		},
		{
			desc: registry.Descriptor{
				Action: "get_device_info", Domain: DomainLocation, Kind: registry.KindRunOnce,
				Description: "获取设备信息",
			},
			run: func(ctx context.Context, args models.Args) (interface{}, error) {
				info, err := d.Device.Info.DeviceInfo(ctx)
				if err != nil {
					return nil, err
				}
				info["device_id"] = d.DeviceID
				info["admin_active"] = d.Device.Admin.AdminActive()
				return info, nil
			},
		},
	}
}

func (d *Deps) liveTracking(ctx context.Context, args models.Args) (interface{}, error) {
	enable, err := optionalBool(args, "enable", true)
	if err != nil {
		return nil, err
	}
	interval, err := optionalInt(args, "interval", 5000, 1000, 24*60*60*1000)
	if err != nil {
		return nil, err
	}

	acquire := func(ctx context.Context, args models.Args) (io.Closer, error) {
		return d.Device.Location.WatchLocation(time.Duration(interval)*time.Millisecond, func(fix device.Fix) {
			d.Publisher.Push(LocationUpdatesPath, fix)
		})
	}
	return d.toggle(ctx, CapTracking, enable, args, acquire, "Live tracking")
}
